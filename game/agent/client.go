package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"secrethitler-lite/internal/timeouts"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "secrethitler-lite/game/agent"

// ClientConfig tunes the request/poll/retry cycle. Zero fields take defaults.
type ClientConfig struct {
	MaxAttempts      int
	PollInterval     time.Duration
	StallPolls       int
	RateLimitDelay   time.Duration
	ServerErrorDelay time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	MaxElapsed       time.Duration
}

const (
	defaultMaxAttempts      = 100
	defaultPollInterval     = time.Second
	defaultStallPolls       = 100
	defaultRateLimitDelay   = 60 * time.Second
	defaultServerErrorDelay = 5 * time.Second
	defaultInitialBackoff   = time.Second
	defaultMaxBackoff       = 30 * time.Second
	defaultMaxElapsed       = 24 * time.Hour
)

func (c ClientConfig) withDefaults() ClientConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.StallPolls <= 0 {
		c.StallPolls = defaultStallPolls
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = defaultRateLimitDelay
	}
	if c.ServerErrorDelay <= 0 {
		c.ServerErrorDelay = defaultServerErrorDelay
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = defaultMaxElapsed
	}
	return c
}

// Recorder receives call metrics. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordCall(participant string, latency time.Duration, usage Usage)
	RecordRetry(participant string, reason error)
}

type noopRecorder struct{}

func (noopRecorder) RecordCall(string, time.Duration, Usage) {}
func (noopRecorder) RecordRetry(string, error)               {}

// Request asks one participant for one decision.
type Request struct {
	Participant string
	Phase       string
	Variant     Variant
	Content     string
	Choices     []string
	// Others lists the other alive players; required for VariantTrust.
	Others []string
}

// Reply is the outcome of a successful request/poll cycle. ContentErr is set
// when the provider completed but the output did not decode; the Payload is
// then empty and the caller applies its fallback.
type Reply struct {
	Participant string
	Payload     Payload
	Raw         string
	ContentErr  error
	Attempts    int
	Latency     time.Duration
	Usage       Usage
}

// External returns the reply's public statement.
func (r Reply) External() string {
	if r.Payload == nil {
		return ""
	}
	return r.Payload.Base().External
}

// Decision returns the reply's raw decision field.
func (r Reply) Decision() string {
	if r.Payload == nil {
		return ""
	}
	return r.Payload.Base().Decision
}

// Decider is the single-decision contract the dispatcher depends on.
type Decider interface {
	Decide(ctx context.Context, req Request) (Reply, error)
}

// Client obtains structured decisions from a Provider. It owns one session
// per participant; a Client belongs to exactly one game instance.
type Client struct {
	provider Provider
	cfg      ClientConfig
	recorder Recorder
	schemas  *SchemaCache
	tracer   trace.Tracer
	nextMsg  atomic.Uint64

	mu       sync.RWMutex
	sessions map[string]Session
	opened   bool
	closed   bool
}

// NewClient creates a decision client. recorder may be nil.
func NewClient(provider Provider, cfg ClientConfig, recorder Recorder) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	schemas, err := NewSchemaCache(defaultSchemaCacheSize)
	if err != nil {
		return nil, err
	}
	return &Client{
		provider: provider,
		cfg:      cfg.withDefaults(),
		recorder: recorder,
		schemas:  schemas,
		tracer:   otel.Tracer(tracerName),
		sessions: make(map[string]Session),
	}, nil
}

// Config returns the effective configuration.
func (c *Client) Config() ClientConfig { return c.cfg }

// Open creates one session per participant. It may be called once.
func (c *Client) Open(ctx context.Context, participants []string) error {
	c.mu.Lock()
	if c.opened || c.closed {
		c.mu.Unlock()
		return ErrSessionsOpen
	}
	c.opened = true
	c.mu.Unlock()

	for _, name := range participants {
		s, err := c.provider.OpenSession(ctx, name)
		if err != nil {
			return fmt.Errorf("open session for %s: %w", name, err)
		}
		c.mu.Lock()
		c.sessions[name] = s
		c.mu.Unlock()
		log.Printf("[Agent] Opened %s session %s for %s", c.provider.Name(), s.ID, name)
	}
	return nil
}

// Close releases every session and returns the first error.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := make([]Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	var first error
	for _, s := range sessions {
		if err := c.provider.CloseSession(ctx, s); err != nil {
			log.Printf("[Agent] Close session %s (%s) failed: %v", s.ID, s.Participant, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (c *Client) session(participant string) (Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return Session{}, ErrClientClosed
	}
	s, ok := c.sessions[participant]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, participant)
	}
	return s, nil
}

type completedRun struct {
	run     Run
	latency time.Duration
}

// Decide runs the submit/poll cycle until a run completes, retrying
// transient failures up to MaxAttempts. Exhausting the attempts returns an
// error wrapping ErrAttemptsExhausted.
func (c *Client) Decide(ctx context.Context, req Request) (Reply, error) {
	sess, err := c.session(req.Participant)
	if err != nil {
		return Reply{Participant: req.Participant}, err
	}

	ctx, span := c.tracer.Start(ctx, "agent.decide", trace.WithAttributes(
		attribute.String("agent.participant", req.Participant),
		attribute.String("agent.phase", req.Phase),
		attribute.String("agent.provider", c.provider.Name()),
	))
	defer span.End()

	msg := Message{
		ID:          fmt.Sprintf("%s#%d", req.Participant, c.nextMsg.Add(1)),
		Participant: req.Participant,
		Phase:       req.Phase,
		Variant:     req.Variant,
		Content:     req.Content,
		Schema:      c.schemas.Get(req.Variant, req.Others),
		Choices:     req.Choices,
		Others:      req.Others,
	}

	b := newRunBackOff(c.cfg)
	attempts := 0
	permanent := false
	done, err := backoff.Retry(ctx, func() (completedRun, error) {
		attempts++
		out, err := c.attempt(ctx, sess, msg, b)
		if err != nil && errors.Is(err, ErrProviderFatal) {
			permanent = true
			return out, backoff.Permanent(err)
		}
		return out, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(c.cfg.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.recorder.RecordRetry(req.Participant, err)
			log.Printf("[Agent] %s/%s attempt %d failed: %v (retry in %s)", req.Participant, req.Phase, attempts, err, next)
		}),
	)
	span.SetAttributes(attribute.Int("agent.attempts", attempts))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else if !permanent && attempts >= c.cfg.MaxAttempts {
			err = fmt.Errorf("%w: %s/%s after %d attempts: %v", ErrAttemptsExhausted, req.Participant, req.Phase, attempts, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Reply{Participant: req.Participant, Attempts: attempts}, err
	}

	c.recorder.RecordCall(req.Participant, done.latency, done.run.Usage)
	span.SetAttributes(
		attribute.Int64("agent.tokens.total", done.run.Usage.TotalTokens),
		attribute.Int64("agent.latency_ms", done.latency.Milliseconds()),
	)

	payload, contentErr := DecodePayload(req.Variant, done.run.Output)
	if contentErr != nil {
		log.Printf("[Agent] %s/%s returned malformed output: %v", req.Participant, req.Phase, contentErr)
	}
	return Reply{
		Participant: req.Participant,
		Payload:     payload,
		Raw:         done.run.Output,
		ContentErr:  contentErr,
		Attempts:    attempts,
		Latency:     done.latency,
		Usage:       done.run.Usage,
	}, nil
}

// attempt submits one run and polls it to a terminal outcome.
func (c *Client) attempt(ctx context.Context, sess Session, msg Message, b *runBackOff) (completedRun, error) {
	started := time.Now()
	runID, err := c.provider.Submit(ctx, sess, msg)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			b.delayNext(c.cfg.RateLimitDelay)
		}
		return completedRun{}, fmt.Errorf("submit: %w", err)
	}

	polls := 0
	for {
		if err := sleepCtx(ctx, c.cfg.PollInterval); err != nil {
			c.cancelRun(ctx, sess, runID)
			return completedRun{}, backoff.Permanent(err)
		}
		run, err := c.provider.Poll(ctx, sess, runID)
		polls++
		if err != nil {
			if errors.Is(err, ErrProviderFatal) {
				return completedRun{}, err
			}
			if polls > c.cfg.StallPolls {
				c.cancelRun(ctx, sess, runID)
				return completedRun{}, fmt.Errorf("%w: %d polls, last error: %v", errRunStalled, polls, err)
			}
			continue
		}

		switch run.Status {
		case RunStatusCompleted:
			return completedRun{run: run, latency: time.Since(started)}, nil
		case RunStatusExpired:
			c.cancelRun(ctx, sess, runID)
			return completedRun{}, errRunExpired
		case RunStatusCancelled:
			return completedRun{}, errRunCancelled
		case RunStatusFailed:
			return completedRun{}, c.classifyFailure(run, b)
		default:
			if polls > c.cfg.StallPolls {
				c.cancelRun(ctx, sess, runID)
				return completedRun{}, fmt.Errorf("%w: still %s after %d polls", errRunStalled, run.Status, polls)
			}
		}
	}
}

func (c *Client) classifyFailure(run Run, b *runBackOff) error {
	if run.LastError == nil {
		return errRunFailed
	}
	code := strings.ToLower(run.LastError.Code)
	msg := strings.ToLower(run.LastError.Message)
	switch {
	case code == "rate_limit_exceeded":
		b.delayNext(c.cfg.RateLimitDelay)
		return fmt.Errorf("%w: %s", ErrRateLimited, run.LastError.Message)
	case strings.Contains(msg, "something went wrong") || code == "server_error":
		b.delayNext(c.cfg.ServerErrorDelay)
		return fmt.Errorf("%w: %s", errServerError, run.LastError.Message)
	default:
		return fmt.Errorf("%w: %s: %s", errRunFailed, run.LastError.Code, run.LastError.Message)
	}
}

// cancelRun cancels an in-flight run and waits until the provider
// acknowledges it, so a retry never races a duplicate run on the same
// conversation.
func (c *Client) cancelRun(ctx context.Context, sess Session, runID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.CancelRun)
	defer cancel()

	if err := c.provider.Cancel(ctx, sess, runID); err != nil {
		log.Printf("[Agent] Cancel run %s for %s failed: %v", runID, sess.Participant, err)
	}
	for polls := 0; polls < c.cfg.StallPolls; polls++ {
		run, err := c.provider.Poll(ctx, sess, runID)
		if err == nil && run.Status.Terminal() {
			log.Printf("[Agent] Run %s for %s ended as %s", runID, sess.Participant, run.Status)
			return
		}
		if err := sleepCtx(ctx, c.cfg.PollInterval); err != nil {
			break
		}
	}
	log.Printf("[Agent] Run %s for %s did not acknowledge cancel", runID, sess.Participant)
}

// runBackOff is capped exponential backoff with a one-shot override used
// for rate-limit and server-error waits.
type runBackOff struct {
	exp     *backoff.ExponentialBackOff
	pending time.Duration
}

func newRunBackOff(cfg ClientConfig) *runBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialBackoff
	exp.MaxInterval = cfg.MaxBackoff
	return &runBackOff{exp: exp}
}

func (b *runBackOff) NextBackOff() time.Duration {
	if b.pending > 0 {
		d := b.pending
		b.pending = 0
		return d
	}
	return b.exp.NextBackOff()
}

func (b *runBackOff) Reset() {
	b.pending = 0
	b.exp.Reset()
}

func (b *runBackOff) delayNext(d time.Duration) { b.pending = d }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
