// Package timeouts defines shared timeout constants.
package timeouts

import "time"

// CancelRun caps how long the decision client waits for a provider to
// acknowledge a cancelled run.
const CancelRun = 2 * time.Minute

// ProviderRequest caps a single HTTP round trip to the decision provider.
const ProviderRequest = 60 * time.Second

// LedgerOpen limits database connection setup and schema checks.
const LedgerOpen = 5 * time.Second

// LedgerWrite limits a single fire-and-forget ledger write.
const LedgerWrite = 3 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server and telemetry wait for in-flight
// work during graceful shutdown.
const Shutdown = 5 * time.Second

// LedgerQuery limits a read issued by the HTTP API.
const LedgerQuery = 5 * time.Second
