// Package lobby creates game instances and runs batches of them with bounded
// parallelism.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"secrethitler-lite/game"
	"secrethitler-lite/game/agent"
	"secrethitler-lite/internal/ledger"
	"secrethitler-lite/internal/table"
	"secrethitler-lite/internal/timeouts"
	"secrethitler-lite/transcript"
)

// ProviderFactory builds the decision provider for one instance. Each
// instance gets its own provider so sessions never cross games.
type ProviderFactory func(seed int64) (agent.Provider, error)

// Options configures a Lobby.
type Options struct {
	Providers    ProviderFactory
	ClientConfig agent.ClientConfig
	Roster       []game.Seat
	// Seed is the base seed; instance i uses Seed+i. Zero seeds every
	// instance from the clock.
	Seed         int64
	ShuffleSeats bool
	MaxRounds    int
	Parallelism  int

	Ledger    ledger.Service  // optional
	Publisher transcript.Sink // optional, e.g. the spectator gateway
	NewID     func() string   // defaults to uuid.NewString
}

// Lobby manages all game instances of the process.
type Lobby struct {
	opts Options

	mu     sync.RWMutex
	tables map[string]*table.Table
	order  []string
}

func New(opts Options) (*Lobby, error) {
	if opts.Providers == nil {
		return nil, errors.New("provider factory is required")
	}
	if len(opts.Roster) == 0 {
		opts.Roster = game.StandardRoster()
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Lobby{
		opts:   opts,
		tables: make(map[string]*table.Table),
	}, nil
}

// CreateTable registers a new pending instance.
func (l *Lobby) CreateTable(instance int) (*table.Table, error) {
	seed := int64(0)
	if l.opts.Seed != 0 {
		seed = l.opts.Seed + int64(instance)
	}
	provider, err := l.opts.Providers(seed)
	if err != nil {
		return nil, fmt.Errorf("build provider: %w", err)
	}

	id := l.opts.NewID()
	var sinks []transcript.Sink
	if l.opts.Ledger != nil {
		sinks = append(sinks, ledger.Sink(l.opts.Ledger))
	}
	if l.opts.Publisher != nil {
		sinks = append(sinks, l.opts.Publisher)
	}
	cfg := game.Config{
		Roster:       append([]game.Seat(nil), l.opts.Roster...),
		Seed:         seed,
		ShuffleSeats: l.opts.ShuffleSeats,
		MaxRounds:    l.opts.MaxRounds,
	}
	t, err := table.New(id, cfg, provider, l.opts.ClientConfig, sinks...)
	if err != nil {
		return nil, err
	}
	if l.opts.Ledger != nil {
		t.AddGameEndHook(l.persistSummary)
	}

	l.mu.Lock()
	l.tables[id] = t
	l.order = append(l.order, id)
	l.mu.Unlock()
	log.Printf("[Lobby] created table %s (instance=%d seed=%d)", id, instance, seed)
	return t, nil
}

// RunBatch plays n new instances, at most Parallelism at a time, and returns
// their outcomes in creation order. A failed instance never stops the
// others; the returned error is only set when the batch itself could not
// run or ctx was cancelled.
func (l *Lobby) RunBatch(ctx context.Context, n int) ([]table.GameEndInfo, error) {
	if n < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", n)
	}
	tables := make([]*table.Table, 0, n)
	for i := 0; i < n; i++ {
		t, err := l.CreateTable(i)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(l.opts.Parallelism)
	for _, t := range tables {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			l.markRunning(ctx, t)
			// The error is carried in the table's outcome.
			_, _ = t.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]table.GameEndInfo, 0, len(tables))
	failed := 0
	for _, t := range tables {
		info := t.Info()
		if info.Status == table.StatusFailed {
			failed++
		}
		out = append(out, info)
	}
	log.Printf("[Lobby] batch done: games=%d failed=%d elapsed=%s", len(out), failed, time.Since(start).Round(time.Millisecond))
	return out, ctx.Err()
}

func (l *Lobby) markRunning(ctx context.Context, t *table.Table) {
	if l.opts.Ledger == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.LedgerWrite)
	defer cancel()
	err := l.opts.Ledger.UpsertGame(wctx, ledger.GameSummary{
		GameID:    t.ID,
		Status:    ledger.StatusRunning,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[Lobby] upsert running game failed: game=%s err=%v", t.ID, err)
	}
}

func (l *Lobby) persistSummary(info table.GameEndInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.LedgerWrite)
	defer cancel()
	if err := l.opts.Ledger.UpsertGame(ctx, Summary(info)); err != nil {
		log.Printf("[Lobby] upsert game summary failed: game=%s err=%v", info.TableID, err)
	}
}

// Summary converts an instance outcome into a ledger row.
func Summary(info table.GameEndInfo) ledger.GameSummary {
	r := info.Result
	s := ledger.GameSummary{
		GameID:    info.TableID,
		Status:    ledger.StatusFinished,
		Rounds:    r.Rounds,
		Liberal:   r.Liberal,
		Fascist:   r.Fascist,
		StartedAt: info.StartedAt,
		Details: map[string]any{
			"calls":             r.Metrics.Calls,
			"retries":           r.Metrics.Retries,
			"anomalies":         r.Metrics.Anomalies,
			"prompt_tokens":     r.Metrics.PromptTokens,
			"completion_tokens": r.Metrics.CompletionTokens,
			"total_tokens":      r.Metrics.TotalTokens,
			"avg_latency_ms":    r.Metrics.AverageLatency().Milliseconds(),
		},
	}
	if r.Winner != game.FactionNone {
		s.Winner = r.Winner.String()
		s.Reason = string(r.Reason)
	}
	if !info.EndedAt.IsZero() {
		ended := info.EndedAt
		s.EndedAt = &ended
	}
	if info.Err != nil {
		s.Status = ledger.StatusFailed
		s.Error = info.Err.Error()
	}
	return s
}

// Get returns a table by ID.
func (l *Lobby) Get(id string) *table.Table {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tables[id]
}

// List returns every instance's state in creation order.
func (l *Lobby) List() []table.GameEndInfo {
	l.mu.RLock()
	ids := append([]string(nil), l.order...)
	l.mu.RUnlock()

	out := make([]table.GameEndInfo, 0, len(ids))
	for _, id := range ids {
		if t := l.Get(id); t != nil {
			out = append(out, t.Info())
		}
	}
	return out
}

// Records returns the transcript of a known game.
func (l *Lobby) Records(id string) ([]transcript.Record, bool) {
	t := l.Get(id)
	if t == nil {
		return nil, false
	}
	return t.Records(), true
}
