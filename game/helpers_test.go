package game

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"secrethitler-lite/game/agent"
	"secrethitler-lite/transcript"
)

// scriptProvider completes every run immediately with the decision returned
// by answer. answer is called concurrently and must be pure.
type scriptProvider struct {
	answer  func(msg agent.Message) string
	failErr error

	mu   sync.Mutex
	next int
	runs map[string]agent.Run
}

func newScript(answer func(msg agent.Message) string) *scriptProvider {
	return &scriptProvider{answer: answer, runs: make(map[string]agent.Run)}
}

func firstChoice(msg agent.Message) string {
	if len(msg.Choices) == 0 {
		return decisionNone
	}
	return msg.Choices[0]
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) OpenSession(_ context.Context, participant string) (agent.Session, error) {
	return agent.Session{ID: "sess_" + participant, Participant: participant}, nil
}

func (p *scriptProvider) Submit(_ context.Context, _ agent.Session, msg agent.Message) (string, error) {
	if p.failErr != nil {
		return "", p.failErr
	}
	decision := firstChoice(msg)
	if p.answer != nil {
		decision = p.answer(msg)
	}
	out, err := agent.EncodePayload(agent.OrdinaryPayload{Statement: agent.Statement{
		Internal: "thinking about " + msg.Phase,
		External: msg.Participant + " speaks during " + msg.Phase,
		Decision: decision,
	}})
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	id := fmt.Sprintf("run_%d", p.next)
	p.runs[id] = agent.Run{ID: id, Status: agent.RunStatusCompleted, Output: out, Usage: agent.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	return id, nil
}

func (p *scriptProvider) Poll(_ context.Context, _ agent.Session, runID string) (agent.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, ok := p.runs[runID]
	if !ok {
		return agent.Run{}, fmt.Errorf("%w: unknown run %s", agent.ErrProviderFatal, runID)
	}
	return run, nil
}

func (p *scriptProvider) Cancel(context.Context, agent.Session, string) error { return nil }

func (p *scriptProvider) CloseSession(context.Context, agent.Session) error { return nil }

func fastClient() agent.ClientConfig {
	return agent.ClientConfig{
		MaxAttempts:      2,
		PollInterval:     time.Millisecond,
		StallPolls:       5,
		RateLimitDelay:   time.Millisecond,
		ServerErrorDelay: time.Millisecond,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       time.Millisecond,
	}
}

func newTestEngine(t *testing.T, cfg Config, p agent.Provider) (*Engine, *transcript.Tape) {
	t.Helper()
	if cfg.Roster == nil {
		cfg.Roster = StandardRoster()
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	tape := transcript.NewTape("test")
	e, err := NewEngine(cfg, p, fastClient(), tape)
	if err != nil {
		t.Fatalf("NewEngine err: %v", err)
	}
	return e, tape
}

// openEngine opens sessions for tests that drive phases directly.
func openEngine(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.client.Open(context.Background(), names(e.state.seating())); err != nil {
		t.Fatalf("Open err: %v", err)
	}
}

func startRound(t *testing.T, e *Engine) *Player {
	t.Helper()
	_, pres, err := e.state.startRound()
	if err != nil {
		t.Fatalf("startRound err: %v", err)
	}
	return pres
}

func byPhase(recs []transcript.Record, phase Phase) []transcript.Record {
	return transcript.Filter(recs, func(r transcript.Record) bool {
		return r.Kind == transcript.KindDecision && r.Phase == phase.String()
	})
}

func events(recs []transcript.Record, name string) []transcript.Record {
	return transcript.Filter(recs, func(r transcript.Record) bool {
		return r.Kind == transcript.KindEvent && r.Event == name
	})
}

func hasChoice(msg agent.Message, c string) bool {
	for _, x := range msg.Choices {
		if x == c {
			return true
		}
	}
	return false
}
