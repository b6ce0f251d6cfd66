package agent

import "errors"

var (
	// ErrAttemptsExhausted is fatal for the game instance that hit it.
	ErrAttemptsExhausted  = errors.New("decision attempts exhausted")
	ErrRateLimited        = errors.New("provider rate limited")
	ErrProviderFatal      = errors.New("provider rejected request")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrSessionsOpen       = errors.New("sessions already opened")
	ErrClientClosed       = errors.New("decision client closed")
	// ErrDecisionPanic reports a request that panicked in a concurrent
	// dispatch.
	ErrDecisionPanic = errors.New("decision panicked")

	errRunStalled   = errors.New("run stalled")
	errRunExpired   = errors.New("run expired")
	errRunCancelled = errors.New("run cancelled")
	errRunFailed    = errors.New("run failed")
	errServerError  = errors.New("provider server error")
)
