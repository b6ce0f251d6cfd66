package game

import "secrethitler-lite/game/agent"

// RoundMemory is what a player said and decided during one round.
type RoundMemory struct {
	Round     int      `json:"round"`
	Internal  []string `json:"internal"`
	External  []string `json:"external"`
	Decisions []string `json:"decisions"`
}

type Player struct {
	Name string
	Role Role
	Seat int

	alive          bool
	lastPresident  bool
	lastChancellor bool

	memory []RoundMemory
	trust  map[string]agent.TrustAssessment
}

func newPlayer(s Seat, seat int) *Player {
	return &Player{Name: s.Name, Role: s.Role, Seat: seat, alive: true}
}

func (p *Player) Alive() bool          { return p.alive }
func (p *Player) LastPresident() bool  { return p.lastPresident }
func (p *Player) LastChancellor() bool { return p.lastChancellor }

// Variant is the payload shape this player answers with. Only Liberals keep
// a trust map.
func (p *Player) Variant() agent.Variant {
	if p.Role == RoleLiberal {
		return agent.VariantTrust
	}
	return agent.VariantOrdinary
}

func (p *Player) remember(round int, st agent.Statement) {
	if n := len(p.memory); n == 0 || p.memory[n-1].Round != round {
		p.memory = append(p.memory, RoundMemory{Round: round})
	}
	m := &p.memory[len(p.memory)-1]
	if st.Internal != "" {
		m.Internal = append(m.Internal, st.Internal)
	}
	if st.External != "" {
		m.External = append(m.External, st.External)
	}
	if st.Decision != "" && st.Decision != decisionNone {
		m.Decisions = append(m.Decisions, st.Decision)
	}
}

func (p *Player) updateTrust(t map[string]agent.TrustAssessment) {
	if len(t) == 0 {
		return
	}
	if p.trust == nil {
		p.trust = make(map[string]agent.TrustAssessment, len(t))
	}
	for name, a := range t {
		p.trust[name] = a
	}
}

func copyMemory(in []RoundMemory) []RoundMemory {
	out := make([]RoundMemory, len(in))
	for i, m := range in {
		out[i] = RoundMemory{
			Round:     m.Round,
			Internal:  append([]string(nil), m.Internal...),
			External:  append([]string(nil), m.External...),
			Decisions: append([]string(nil), m.Decisions...),
		}
	}
	return out
}
