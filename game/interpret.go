package game

import (
	"strings"

	"secrethitler-lite/policy"
)

// Decisions are matched exactly, ignoring case and surrounding space.
// Anything else falls back to a uniformly random valid choice and is
// recorded as an anomaly.

func parseVote(s string) (Vote, bool) {
	switch {
	case strings.EqualFold(strings.TrimSpace(s), VoteJa.String()):
		return VoteJa, true
	case strings.EqualFold(strings.TrimSpace(s), VoteNein.String()):
		return VoteNein, true
	}
	return VoteNone, false
}

func parseAgreement(s string) (agree bool, ok bool) {
	switch {
	case strings.EqualFold(strings.TrimSpace(s), decisionAgree):
		return true, true
	case strings.EqualFold(strings.TrimSpace(s), decisionDisagree):
		return false, true
	}
	return false, false
}

func isVeto(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), decisionVeto)
}

func (e *Engine) pickVote(p *Player, decision string) Vote {
	if v, ok := parseVote(decision); ok {
		return v
	}
	v := VoteJa
	if e.rng.Intn(2) == 1 {
		v = VoteNein
	}
	e.anomaly(PhaseTypeVoting, p, decision, v.String(), "invalid_vote")
	return v
}

func (e *Engine) pickPlayer(phase Phase, chooser *Player, decision string, eligible []*Player) *Player {
	if p := byName(eligible, decision); p != nil {
		return p
	}
	p := eligible[e.rng.Intn(len(eligible))]
	e.anomaly(phase, chooser, decision, p.Name, "invalid_name")
	return p
}

// pickPolicy resolves a discard among the held cards.
func (e *Engine) pickPolicy(phase Phase, p *Player, decision string, hand policy.List) policy.Policy {
	if c, err := policy.Parse(decision); err == nil && hand.Contains(c) {
		return c
	}
	c := hand[e.rng.Intn(len(hand))]
	e.anomaly(phase, p, decision, c.String(), "invalid_policy")
	return c
}

func (e *Engine) pickAgreement(phase Phase, p *Player, decision string) bool {
	if agree, ok := parseAgreement(decision); ok {
		return agree
	}
	agree := e.rng.Intn(2) == 0
	used := decisionDisagree
	if agree {
		used = decisionAgree
	}
	e.anomaly(phase, p, decision, used, "invalid_agreement")
	return agree
}
