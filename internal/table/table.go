// Package table runs one game instance: its engine, its transcript tape and
// the hooks fired when the game ends.
package table

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"secrethitler-lite/game"
	"secrethitler-lite/game/agent"
	"secrethitler-lite/transcript"
)

type Status byte

const (
	StatusPending  Status = 0
	StatusRunning  Status = 1
	StatusFinished Status = 2
	StatusFailed   Status = 3
)

var StatusTypeDictionary = map[Status]string{
	StatusPending:  "pending",
	StatusRunning:  "running",
	StatusFinished: "finished",
	StatusFailed:   "failed",
}

func (s Status) String() string { return StatusTypeDictionary[s] }

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var (
	ErrAlreadyStarted = errors.New("table already started")
	// ErrEnginePanic marks an instance whose engine panicked.
	ErrEnginePanic = errors.New("game engine panicked")
)

// GameEndInfo is passed to hooks once an instance stops.
type GameEndInfo struct {
	TableID   string
	Status    Status
	Result    game.Result
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// GameEndHook is a post-game callback.
type GameEndHook func(info GameEndInfo)

// Table owns one game instance.
type Table struct {
	ID string

	engine *game.Engine
	tape   *transcript.Tape

	mu        sync.RWMutex
	status    Status
	startedAt time.Time
	endedAt   time.Time
	result    game.Result
	err       error
	cancel    context.CancelFunc
	hooks     []GameEndHook

	done chan struct{}
}

// New builds an instance. Every record the engine emits is stamped by the
// table's tape and then handed to sinks in order.
func New(id string, cfg game.Config, provider agent.Provider, clientCfg agent.ClientConfig, sinks ...transcript.Sink) (*Table, error) {
	cfg.GameID = id
	tape := transcript.NewTape(id, sinks...)
	engine, err := game.NewEngine(cfg, provider, clientCfg, tape)
	if err != nil {
		return nil, err
	}
	return &Table{
		ID:     id,
		engine: engine,
		tape:   tape,
		done:   make(chan struct{}),
	}, nil
}

// Run plays the game to completion on the calling goroutine. A fatal engine
// error marks only this table failed.
func (t *Table) Run(ctx context.Context) (game.Result, error) {
	t.mu.Lock()
	if t.status != StatusPending {
		t.mu.Unlock()
		return game.Result{GameID: t.ID}, ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.status = StatusRunning
	t.startedAt = time.Now().UTC()
	t.mu.Unlock()
	defer cancel()

	log.Printf("[Table %s] started", t.ID)
	result, err := t.runEngine(ctx)

	t.mu.Lock()
	t.result = result
	t.err = err
	t.endedAt = time.Now().UTC()
	if err != nil {
		t.status = StatusFailed
	} else {
		t.status = StatusFinished
	}
	info := t.infoLocked()
	hooks := append([]GameEndHook(nil), t.hooks...)
	t.mu.Unlock()

	if err != nil {
		log.Printf("[Table %s] failed after %d rounds: %v", t.ID, result.Rounds, err)
	} else {
		log.Printf("[Table %s] finished winner=%s reason=%s rounds=%d", t.ID, result.Winner, result.Reason, result.Rounds)
	}
	t.dispatchGameEndHooks(hooks, info)
	close(t.done)
	return result, err
}

// runEngine turns an engine panic into this instance's error so sibling
// instances keep running.
func (t *Table) runEngine(ctx context.Context) (result game.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Table %s] engine panic: %v\n%s", t.ID, r, debug.Stack())
			result = game.Result{GameID: t.ID}
			err = fmt.Errorf("%w: %v", ErrEnginePanic, r)
		}
	}()
	return t.engine.Run(ctx)
}

// Hooks run in registration order before Done is closed.
func (t *Table) dispatchGameEndHooks(hooks []GameEndHook, info GameEndInfo) {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[Table %s] game end hook panic: %v", t.ID, r)
				}
			}()
			hook(info)
		}()
	}
}

// Stop cancels a running game.
func (t *Table) Stop() {
	t.mu.RLock()
	cancel := t.cancel
	t.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once Run has returned and hooks have run.
func (t *Table) Done() <-chan struct{} { return t.done }

// AddGameEndHook registers a post-game callback. Must be called before Run.
func (t *Table) AddGameEndHook(hook GameEndHook) {
	if hook == nil {
		return
	}
	t.mu.Lock()
	t.hooks = append(t.hooks, hook)
	t.mu.Unlock()
}

func (t *Table) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Info reports the table's lifecycle so far.
func (t *Table) Info() GameEndInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.infoLocked()
}

func (t *Table) infoLocked() GameEndInfo {
	return GameEndInfo{
		TableID:   t.ID,
		Status:    t.status,
		Result:    t.result,
		Err:       t.err,
		StartedAt: t.startedAt,
		EndedAt:   t.endedAt,
	}
}

// Snapshot returns the live game state.
func (t *Table) Snapshot() game.Snapshot {
	return t.engine.Snapshot()
}

// Records returns the transcript so far.
func (t *Table) Records() []transcript.Record {
	return t.tape.Records()
}
