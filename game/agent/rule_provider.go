package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"
)

// RuleProvider answers every request locally from a persona profile. It is
// the offline provider and the default in tests; it never fails.
type RuleProvider struct {
	registry *PersonaRegistry
	seed     int64

	mu       sync.Mutex
	nextID   uint64
	sessions map[string]*ruleSession
}

type ruleSession struct {
	participant string
	persona     *Persona
	rng         *rand.Rand

	mu       sync.Mutex
	nextRun  uint64
	runs     map[string]Run
	messages int
}

// NewRuleProvider creates a provider. registry may be nil; unknown names get
// a neutral profile.
func NewRuleProvider(registry *PersonaRegistry, seed int64) *RuleProvider {
	return &RuleProvider{
		registry: registry,
		seed:     seed,
		sessions: make(map[string]*ruleSession),
	}
}

func (p *RuleProvider) Name() string { return "rule" }

func (p *RuleProvider) OpenSession(_ context.Context, participant string) (Session, error) {
	var persona *Persona
	if p.registry != nil {
		persona = p.registry.ByName(participant)
	}
	if persona == nil {
		persona = &Persona{ID: strings.ToLower(participant), Name: participant, Profile: defaultProfile}
	}

	h := fnv.New64a()
	h.Write([]byte(participant))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("rule_%d", p.nextID)
	p.sessions[id] = &ruleSession{
		participant: participant,
		persona:     persona,
		rng:         rand.New(rand.NewSource(p.seed ^ int64(h.Sum64()))),
		runs:        make(map[string]Run),
	}
	return Session{ID: id, Participant: participant}, nil
}

func (p *RuleProvider) lookup(s Session) (*ruleSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs := p.sessions[s.ID]
	if rs == nil {
		return nil, fmt.Errorf("%w: unknown session %s", ErrProviderFatal, s.ID)
	}
	return rs, nil
}

func (p *RuleProvider) Submit(_ context.Context, s Session, msg Message) (string, error) {
	rs, err := p.lookup(s)
	if err != nil {
		return "", err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.messages++
	rs.nextRun++
	runID := fmt.Sprintf("%s_run_%d", s.ID, rs.nextRun)

	var payload Payload
	st := rs.decide(msg)
	if msg.Variant == VariantTrust {
		payload = TrustPayload{Statement: st, Trust: rs.assessTrust(msg.Others)}
	} else {
		payload = OrdinaryPayload{Statement: st}
	}
	out, err := EncodePayload(payload)
	if err != nil {
		return "", err
	}

	prompt := estimateTokens(msg.Content)
	completion := estimateTokens(out)
	rs.runs[runID] = Run{
		ID:     runID,
		Status: RunStatusCompleted,
		Output: out,
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}
	return runID, nil
}

func (p *RuleProvider) Poll(_ context.Context, s Session, runID string) (Run, error) {
	rs, err := p.lookup(s)
	if err != nil {
		return Run{}, err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	run, ok := rs.runs[runID]
	if !ok {
		return Run{}, fmt.Errorf("%w: unknown run %s", ErrProviderFatal, runID)
	}
	return run, nil
}

func (p *RuleProvider) Cancel(_ context.Context, s Session, runID string) error {
	rs, err := p.lookup(s)
	if err != nil {
		return err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if run, ok := rs.runs[runID]; ok && !run.Status.Terminal() {
		run.Status = RunStatusCancelled
		rs.runs[runID] = run
	}
	return nil
}

func (p *RuleProvider) CloseSession(_ context.Context, s Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, s.ID)
	return nil
}

// decide picks a decision among msg.Choices according to the persona.
func (rs *ruleSession) decide(msg Message) Statement {
	prof := rs.persona.Profile
	decision := "na"
	switch {
	case len(msg.Choices) == 0:
	case hasChoices(msg.Choices, "Ja", "Nein"):
		decision = rs.yesNo(prof, "Ja", "Nein")
	case hasChoices(msg.Choices, "Agree", "Disagree"):
		decision = rs.yesNo(prof, "Agree", "Disagree")
	case hasChoices(msg.Choices, "Veto") && rs.rng.Float64() < prof.Vetoing:
		decision = "Veto"
	default:
		options := make([]string, 0, len(msg.Choices))
		for _, c := range msg.Choices {
			if c != "Veto" {
				options = append(options, c)
			}
		}
		if len(options) > 0 {
			decision = options[rs.rng.Intn(len(options))]
		}
	}

	internal := fmt.Sprintf("Round notes #%d for %s: choosing %s.", rs.messages, msg.Phase, decision)
	external := fmt.Sprintf("%s here. %s", rs.persona.Name, rs.remark(msg.Phase, decision))
	return Statement{Internal: internal, External: external, Decision: decision}
}

func (rs *ruleSession) yesNo(prof PersonalityProfile, yes, no string) string {
	threshold := clamp01(prof.Agreeableness + (rs.rng.Float64()-0.5)*prof.Randomness*0.4)
	if rs.rng.Float64() < threshold {
		return yes
	}
	return no
}

func (rs *ruleSession) remark(phase, decision string) string {
	if decision == "na" {
		return fmt.Sprintf("My take on %s: keep watching who pushes which government.", phase)
	}
	return fmt.Sprintf("For %s I'm going with %s.", phase, decision)
}

func (rs *ruleSession) assessTrust(others []string) map[string]TrustAssessment {
	prof := rs.persona.Profile
	out := make(map[string]TrustAssessment, len(others))
	for _, name := range others {
		base := (1 - prof.Suspicion) * MaxTrustScore
		noise := (rs.rng.Float64() - 0.5) * 2 * prof.Randomness * 2
		out[name] = TrustAssessment{
			Reasoning: fmt.Sprintf("%s has not given me a reason to change my read yet.", name),
			Score:     clampScore(math.Round(base + noise)),
		}
	}
	return out
}

func hasChoices(choices []string, want ...string) bool {
	for _, w := range want {
		found := false
		for _, c := range choices {
			if c == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// estimateTokens approximates a token count at four bytes per token.
func estimateTokens(s string) int64 {
	return int64(len(s)+3) / 4
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
