package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"secrethitler-lite/game/agent"
	"secrethitler-lite/internal/timeouts"
	"secrethitler-lite/policy"
	"secrethitler-lite/transcript"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "secrethitler-lite/game"

// Engine drives one game instance from setup to post-game. It owns its
// state, deck, rng and provider sessions; nothing is shared between
// instances.
type Engine struct {
	cfg      Config
	rng      *rand.Rand
	state    *GameState
	players  map[string]*Player
	client   *agent.Client
	dispatch *agent.Dispatcher
	sink     transcript.Sink
	tracer   trace.Tracer
}

// Result summarizes a finished (or aborted) instance.
type Result struct {
	GameID   string    `json:"game_id"`
	Winner   Faction   `json:"winner"`
	Reason   WinReason `json:"reason,omitempty"`
	Rounds   int       `json:"rounds"`
	Liberal  int       `json:"liberal"`
	Fascist  int       `json:"fascist"`
	Metrics  Metrics   `json:"metrics"`
	Snapshot Snapshot  `json:"snapshot"`
}

func NewEngine(cfg Config, provider agent.Provider, clientCfg agent.ClientConfig, sink transcript.Sink) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.GameID == "" {
		cfg.GameID = "local"
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	roster := append([]Seat(nil), cfg.Roster...)
	if cfg.ShuffleSeats {
		rng.Shuffle(len(roster), func(i, j int) { roster[i], roster[j] = roster[j], roster[i] })
	}
	players := make([]*Player, len(roster))
	byName := make(map[string]*Player, len(roster))
	for i, s := range roster {
		players[i] = newPlayer(s, i)
		byName[s.Name] = players[i]
	}

	var deck *policy.Deck
	if cfg.DeckOrder != nil {
		d, err := policy.NewDeckFrom(rng, cfg.DeckOrder)
		if err != nil {
			return nil, fmt.Errorf("deck order: %w", err)
		}
		deck = d
	} else {
		deck = policy.NewDeck(rng)
	}

	state := newGameState(players, deck)
	client, err := agent.NewClient(provider, clientCfg, state)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = transcript.SinkFunc(func(transcript.Record) {})
	}
	return &Engine{
		cfg:      cfg,
		rng:      rng,
		state:    state,
		players:  byName,
		client:   client,
		dispatch: agent.NewDispatcher(client),
		sink:     sink,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// RunGame builds an engine and plays it to the end.
func RunGame(ctx context.Context, cfg Config, provider agent.Provider, clientCfg agent.ClientConfig, sink transcript.Sink) (Result, error) {
	e, err := NewEngine(cfg, provider, clientCfg, sink)
	if err != nil {
		return Result{GameID: cfg.GameID}, err
	}
	return e.Run(ctx)
}

func (e *Engine) ID() string { return e.cfg.GameID }

func (e *Engine) Snapshot() Snapshot { return e.state.Snapshot() }

// Run plays rounds until a winner is declared, then the post-game phases.
// A *FatalError aborts the instance; the partial Result is still returned.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "game.run", trace.WithAttributes(attribute.String("game.id", e.cfg.GameID)))
	defer span.End()

	seating := e.state.seating()
	// Sessions opened before a failed Open are closed too.
	defer e.closeSessions(ctx)
	if err := e.client.Open(ctx, names(seating)); err != nil {
		return e.result(), e.abort(span, e.fatal(PhaseTypeSetup, "", err))
	}

	log.Printf("[Engine %s] start seating=%s", e.cfg.GameID, strings.Join(names(seating), ","))
	e.emitEvent(PhaseTypeSetup, "game_started", map[string]string{
		"seating": strings.Join(names(seating), ","),
		"roles":   rolesText(seating),
	})

	for !e.state.over() {
		if e.cfg.MaxRounds > 0 && e.state.Round() >= e.cfg.MaxRounds {
			return e.result(), e.abort(span, ErrRoundLimit)
		}
		if err := e.powerCheck(ctx); err != nil {
			return e.result(), e.abort(span, err)
		}
		if e.state.over() {
			break
		}
		if err := e.playRound(ctx); err != nil {
			return e.result(), e.abort(span, err)
		}
	}

	winner, reason := e.state.Winner()
	log.Printf("[Engine %s] game over winner=%s reason=%s rounds=%d", e.cfg.GameID, winner, reason, e.state.Round())
	e.emitEvent(PhaseTypeGameOver, "game_over", map[string]string{
		"winner": winner.String(),
		"reason": string(reason),
	})
	span.SetAttributes(attribute.String("game.winner", winner.String()), attribute.String("game.reason", string(reason)))

	if err := e.postGame(ctx); err != nil {
		return e.result(), e.abort(span, err)
	}
	return e.result(), nil
}

func (e *Engine) result() Result {
	snap := e.state.Snapshot()
	return Result{
		GameID:   e.cfg.GameID,
		Winner:   snap.Winner,
		Reason:   snap.WinReason,
		Rounds:   snap.Round,
		Liberal:  snap.Liberal,
		Fascist:  snap.Fascist,
		Metrics:  snap.Metrics,
		Snapshot: snap,
	}
}

func (e *Engine) abort(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	log.Printf("[Engine %s] aborted: %v", e.cfg.GameID, err)
	return err
}

func (e *Engine) closeSessions(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.ProviderRequest)
	defer cancel()
	if err := e.client.Close(closeCtx); err != nil {
		log.Printf("[Engine %s] close sessions: %v", e.cfg.GameID, err)
	}
}

// fatal wraps a dispatch failure; an existing *FatalError passes through.
func (e *Engine) fatal(phase Phase, participant string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Round: e.state.Round(), Phase: phase, Participant: participant, Err: err}
}

func (e *Engine) participants(ps []*Player) []agent.Participant {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	out := make([]agent.Participant, len(ps))
	for i, p := range ps {
		out[i] = agent.Participant{Name: p.Name, Alive: p.alive}
	}
	return out
}

// others lists the alive players other than p.
func (e *Engine) others(p *Player) []string {
	alive := e.state.alive()
	out := make([]string, 0, len(alive))
	for _, o := range alive {
		if o != p {
			out = append(out, o.Name)
		}
	}
	return out
}

func (e *Engine) request(p *Player, b brief) agent.Request {
	return agent.Request{
		Participant: p.Name,
		Phase:       b.phase.String(),
		Variant:     p.Variant(),
		Content:     e.content(p, b),
		Choices:     b.choices,
		Others:      e.others(p),
	}
}

// ask sends a single request and records the reply.
func (e *Engine) ask(ctx context.Context, p *Player, b brief) (agent.Reply, error) {
	ctx, span := e.tracer.Start(ctx, "game."+b.phase.String())
	defer span.End()
	r, err := e.client.Decide(ctx, e.request(p, b))
	if err != nil {
		span.RecordError(err)
		return r, e.fatal(b.phase, p.Name, err)
	}
	e.record(b.phase, p, r)
	return r, nil
}

// discussion is one ordered dispatch.
type discussion struct {
	phase       Phase
	order       []*Player
	seed        string
	continues   bool // seed already holds a speaker's line
	lead        string
	instruction string
	private     func(p *Player) string
	title       func(p *Player) string
}

func (e *Engine) discuss(ctx context.Context, d discussion) (string, error) {
	ctx, span := e.tracer.Start(ctx, "game."+d.phase.String())
	defer span.End()

	replies, pool, err := e.dispatch.Ordered(ctx, e.participants(d.order), d.seed, agent.OrderedTurn{
		Build: func(ap agent.Participant, pool string) agent.Request {
			p := e.players[ap.Name]
			b := brief{phase: d.phase, pool: pool, instruction: d.instruction}
			if d.private != nil {
				b.private = d.private(p)
			}
			return e.request(p, b)
		},
		Line: func(i int, ap agent.Participant, r agent.Reply) string {
			var title string
			if d.title != nil {
				title = d.title(e.players[ap.Name])
			}
			if i == 0 && d.lead != "" {
				return d.lead + r.External() + "\n\n"
			}
			if d.continues {
				i++
			}
			return speaker(i, ap.Name, title) + r.External() + "\n\n"
		},
	})
	for _, r := range replies {
		e.record(d.phase, e.players[r.Participant], r)
	}
	if err != nil {
		span.RecordError(err)
		return pool, e.fatal(d.phase, "", err)
	}
	return pool, nil
}

// concurrent queries every alive player in ps in parallel. Replies are
// recorded in seating order so the transcript does not depend on
// completion order.
func (e *Engine) concurrent(ctx context.Context, phase Phase, ps []*Player, mk func(p *Player) brief) (map[string]agent.Reply, error) {
	ctx, span := e.tracer.Start(ctx, "game."+phase.String())
	defer span.End()

	results, err := e.dispatch.Concurrent(ctx, e.participants(ps), func(ap agent.Participant) agent.Request {
		p := e.players[ap.Name]
		return e.request(p, mk(p))
	})
	for _, p := range ps {
		if r, ok := results[p.Name]; ok {
			e.record(phase, p, r)
		}
	}
	if err != nil {
		span.RecordError(err)
		return results, e.fatal(phase, "", err)
	}
	return results, nil
}

func (e *Engine) reflect(ctx context.Context, phase Phase, pool, instruction string) error {
	_, err := e.concurrent(ctx, phase, e.state.alive(), func(*Player) brief {
		return brief{phase: phase, pool: pool, instruction: instruction}
	})
	return err
}

// record stores a reply in player memory and emits it to the transcript.
func (e *Engine) record(phase Phase, p *Player, r agent.Reply) {
	if p == nil {
		return
	}
	var st agent.Statement
	if r.Payload != nil {
		st = r.Payload.Base()
	}
	trust := agent.TrustOf(r.Payload)
	e.state.absorb(p, st, trust)
	if r.ContentErr != nil {
		e.anomaly(phase, p, clip(r.Raw, 200), "", "malformed_output")
	}

	rec := transcript.Record{
		Round:       e.state.Round(),
		Phase:       phase.String(),
		Kind:        transcript.KindDecision,
		Participant: p.Name,
		Internal:    st.Internal,
		External:    st.External,
		Decision:    st.Decision,
	}
	if len(trust) > 0 {
		rec.Trust = make(map[string]transcript.Trust, len(trust))
		for name, a := range trust {
			rec.Trust[name] = transcript.Trust{Reasoning: a.Reasoning, Score: a.Score}
		}
	}
	e.sink.Emit(rec)
}

func (e *Engine) emitEvent(phase Phase, event string, fields map[string]string) {
	e.sink.Emit(transcript.Record{
		Round:  e.state.Round(),
		Phase:  phase.String(),
		Kind:   transcript.KindEvent,
		Event:  event,
		Fields: fields,
	})
}

func (e *Engine) anomaly(phase Phase, p *Player, got, used, reason string) {
	log.Printf("[Engine %s] anomaly phase=%s player=%s reason=%s got=%q used=%q", e.cfg.GameID, phase, p.Name, reason, got, used)
	e.state.addAnomaly(Anomaly{Phase: phase.String(), Participant: p.Name, Got: got, Used: used, Reason: reason})
}

func (e *Engine) announceEnactment(phase Phase, p policy.Policy, via string) {
	lib, fas := e.state.Counts()
	log.Printf("[Engine %s] enacted %s via %s (liberal=%d fascist=%d)", e.cfg.GameID, p, via, lib, fas)
	fields := map[string]string{
		"policy":  p.String(),
		"via":     via,
		"liberal": strconv.Itoa(lib),
		"fascist": strconv.Itoa(fas),
	}
	if w, reason := e.state.Winner(); w != FactionNone {
		fields["winner"] = w.String()
		fields["reason"] = string(reason)
	}
	e.emitEvent(phase, "policy_enacted", fields)
}

func (e *Engine) postGame(ctx context.Context) error {
	winner, reason := e.state.Winner()
	seed := fmt.Sprintf("The game is over: the %s won (%s). Roles: %s.\n\n", winner, reason, rolesText(e.state.seating()))
	pool, err := e.discuss(ctx, discussion{
		phase:       PhaseTypePostGameDiscussion,
		order:       e.state.alive(),
		seed:        seed,
		instruction: "The game is over and every role is revealed. Share your thoughts on how it played out.",
	})
	if err != nil {
		return err
	}
	return e.reflect(ctx, PhaseTypePostGameReflection, pool, "Reflect on the finished game now that every role is known.")
}

func rolesText(ps []*Player) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = fmt.Sprintf("%s=%s", p.Name, p.Role)
	}
	return strings.Join(parts, ", ")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
