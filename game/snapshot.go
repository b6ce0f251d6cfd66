package game

import "secrethitler-lite/game/agent"

type PlayerSnapshot struct {
	Name           string                           `json:"name"`
	Role           Role                             `json:"role"`
	Seat           int                              `json:"seat"`
	Alive          bool                             `json:"alive"`
	LastPresident  bool                             `json:"last_president"`
	LastChancellor bool                             `json:"last_chancellor"`
	Memory         []RoundMemory                    `json:"memory,omitempty"`
	Trust          map[string]agent.TrustAssessment `json:"trust,omitempty"`
}

type Snapshot struct {
	Round      int    `json:"round"`
	Liberal    int    `json:"liberal"`
	Fascist    int    `json:"fascist"`
	Tracker    int    `json:"tracker"`
	President  string `json:"president,omitempty"`
	Chancellor string `json:"chancellor,omitempty"`

	DrawPile    int `json:"draw_pile"`
	DiscardPile int `json:"discard_pile"`
	Reshuffles  int `json:"reshuffles"`

	PeekUsed          bool `json:"peek_used"`
	FirstRemovalUsed  bool `json:"first_removal_used"`
	SecondRemovalUsed bool `json:"second_removal_used"`

	Winner    Faction   `json:"winner"`
	WinReason WinReason `json:"win_reason,omitempty"`

	Players   []PlayerSnapshot `json:"players"`
	Metrics   Metrics          `json:"metrics"`
	Anomalies []Anomaly        `json:"anomalies,omitempty"`
}

func (s *GameState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Round:             s.round,
		Liberal:           s.liberal,
		Fascist:           s.fascist,
		Tracker:           s.tracker,
		DrawPile:          s.deck.Len(),
		DiscardPile:       s.deck.DiscardLen(),
		Reshuffles:        s.deck.Reshuffles(),
		PeekUsed:          s.peekUsed,
		FirstRemovalUsed:  s.firstRemovalUsed,
		SecondRemovalUsed: s.secondRemovalUsed,
		Winner:            s.winner,
		WinReason:         s.winReason,
		Metrics:           s.metrics,
		Anomalies:         append([]Anomaly(nil), s.anomalies...),
	}
	if s.president != nil {
		snap.President = s.president.Name
	}
	if s.chancellor != nil {
		snap.Chancellor = s.chancellor.Name
	}
	snap.Players = make([]PlayerSnapshot, 0, len(s.players))
	for _, p := range s.players {
		ps := PlayerSnapshot{
			Name:           p.Name,
			Role:           p.Role,
			Seat:           p.Seat,
			Alive:          p.alive,
			LastPresident:  p.lastPresident,
			LastChancellor: p.lastChancellor,
			Memory:         copyMemory(p.memory),
		}
		if len(p.trust) > 0 {
			ps.Trust = make(map[string]agent.TrustAssessment, len(p.trust))
			for k, v := range p.trust {
				ps.Trust[k] = v
			}
		}
		snap.Players = append(snap.Players, ps)
	}
	return snap
}
