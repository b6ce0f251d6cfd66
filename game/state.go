package game

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"secrethitler-lite/game/agent"
	"secrethitler-lite/policy"
)

// Metrics aggregates provider usage over one game.
type Metrics struct {
	Calls            int           `json:"calls"`
	Retries          int           `json:"retries"`
	PromptTokens     int64         `json:"prompt_tokens"`
	CompletionTokens int64         `json:"completion_tokens"`
	TotalTokens      int64         `json:"total_tokens"`
	TotalLatency     time.Duration `json:"total_latency"`
	Anomalies        int           `json:"anomalies"`
}

// AverageLatency is the mean latency of successful calls.
func (m Metrics) AverageLatency() time.Duration {
	if m.Calls == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.Calls)
}

// Anomaly records a reply the engine could not use verbatim.
type Anomaly struct {
	Round       int    `json:"round"`
	Phase       string `json:"phase"`
	Participant string `json:"participant"`
	Got         string `json:"got"`
	Used        string `json:"used"`
	Reason      string `json:"reason"`
}

// GameState is the shared record of one game. All access goes through its
// mutex; mutators refuse to run once a winner is declared.
type GameState struct {
	mu sync.Mutex

	players []*Player // seating order
	deck    *policy.Deck

	round      int
	liberal    int
	fascist    int
	tracker    int
	president  *Player
	chancellor *Player
	drawn      policy.List
	votes      map[string]Vote
	enacted    policy.List

	peekUsed          bool
	firstRemovalUsed  bool
	secondRemovalUsed bool

	winner    Faction
	winReason WinReason

	metrics   Metrics
	anomalies []Anomaly
}

func newGameState(players []*Player, deck *policy.Deck) *GameState {
	return &GameState{
		players: players,
		deck:    deck,
		votes:   make(map[string]Vote, len(players)),
	}
}

// RecordCall implements agent.Recorder.
func (s *GameState) RecordCall(_ string, latency time.Duration, usage agent.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Calls++
	s.metrics.TotalLatency += latency
	s.metrics.PromptTokens += usage.PromptTokens
	s.metrics.CompletionTokens += usage.CompletionTokens
	s.metrics.TotalTokens += usage.TotalTokens
}

// RecordRetry implements agent.Recorder.
func (s *GameState) RecordRetry(string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Retries++
}

func (s *GameState) addAnomaly(a Anomaly) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Round = s.round
	s.anomalies = append(s.anomalies, a)
	s.metrics.Anomalies++
}

func (s *GameState) over() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.winner != FactionNone
}

func (s *GameState) Winner() (Faction, WinReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.winner, s.winReason
}

func (s *GameState) Round() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

func (s *GameState) Tracker() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker
}

// Counts returns enacted Liberal and Fascist policies.
func (s *GameState) Counts() (liberal, fascist int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liberal, s.fascist
}

func (s *GameState) government() (president, chancellor *Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.president, s.chancellor
}

func (s *GameState) aliveLocked() []*Player {
	out := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		if p.alive {
			out = append(out, p)
		}
	}
	return out
}

func (s *GameState) alive() []*Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

// seating returns every player in seating order, dead ones included.
func (s *GameState) seating() []*Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Player(nil), s.players...)
}

// declareWinnerLocked sets the winner once; later calls are ignored.
func (s *GameState) declareWinnerLocked(f Faction, reason WinReason) {
	if s.winner != FactionNone {
		return
	}
	s.winner = f
	s.winReason = reason
}

func (s *GameState) checkPolicyWinLocked() {
	switch {
	case s.liberal >= LiberalWinCount:
		s.declareWinnerLocked(FactionLiberal, WinLiberalPolicies)
	case s.fascist >= FascistWinCount:
		s.declareWinnerLocked(FactionFascist, WinFascistPolicies)
	}
}

// startRound advances the round counter and rotates the presidency to
// alive[round % len(alive)].
func (s *GameState) startRound() (int, *Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.winner != FactionNone {
		return s.round, nil, ErrGameOver
	}
	alive := s.aliveLocked()
	if len(alive) == 0 {
		return s.round, nil, ErrInvalidState("no players alive")
	}
	s.round++
	s.president = alive[s.round%len(alive)]
	s.chancellor = nil
	s.drawn = nil
	for k := range s.votes {
		delete(s.votes, k)
	}
	return s.round, s.president, nil
}

// nominationEligible lists alive players other than the president and the
// last elected chancellor.
func (s *GameState) nominationEligible() []*Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Player, 0, len(s.players))
	for _, p := range s.aliveLocked() {
		if p == s.president || p.lastChancellor {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *GameState) nominate(p *Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.winner != FactionNone {
		return ErrGameOver
	}
	if p == nil || !p.alive || p == s.president {
		return ErrInvalidState("ineligible chancellor")
	}
	s.chancellor = p
	return nil
}

func (s *GameState) recordVote(name string, v Vote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[name] = v
}

// tally counts the current votes. The government passes with a strict
// majority of alive players: ja >= floor(alive/2)+1.
func (s *GameState) tally() (ja, nein int, passed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.votes {
		switch v {
		case VoteJa:
			ja++
		case VoteNein:
			nein++
		}
	}
	need := len(s.aliveLocked())/2 + 1
	return ja, nein, ja >= need
}

// electGovernment applies a passed vote: term-limit flags move to the new
// government, the tracker resets and the Hitler-election condition is
// checked.
func (s *GameState) electGovernment() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.winner != FactionNone {
		return ErrGameOver
	}
	if s.president == nil || s.chancellor == nil {
		return ErrInvalidState("no government to elect")
	}
	for _, p := range s.players {
		p.lastPresident = false
		p.lastChancellor = false
	}
	s.president.lastPresident = true
	s.chancellor.lastChancellor = true
	s.tracker = 0
	if s.fascist >= HitlerElectionThreshold && s.chancellor.Role == RoleHitler {
		s.declareWinnerLocked(FactionFascist, WinHitlerElected)
	}
	return nil
}

// advanceTrackerLocked moves the election tracker; at the limit the top card
// is enacted and the tracker resets. The enacted card is returned when that
// happens.
func (s *GameState) advanceTrackerLocked() (policy.Policy, bool, error) {
	s.tracker++
	if s.tracker < TrackerLimit {
		return policy.PolicyInvalid, false, nil
	}
	s.tracker = 0
	top, err := s.deck.DrawTop()
	if err != nil {
		return policy.PolicyInvalid, false, err
	}
	s.enactLocked(top)
	return top, true, nil
}

// failElection records a failed vote.
func (s *GameState) failElection() (policy.Policy, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.winner != FactionNone {
		return policy.PolicyInvalid, false, ErrGameOver
	}
	return s.advanceTrackerLocked()
}

func (s *GameState) enactLocked(p policy.Policy) {
	switch p {
	case policy.Liberal:
		s.liberal++
	case policy.Fascist:
		s.fascist++
	}
	s.enacted.Add(p)
	s.checkPolicyWinLocked()
}

// drawHand draws three cards for the legislative session.
func (s *GameState) drawHand() (policy.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.winner != FactionNone {
		return nil, ErrGameOver
	}
	if len(s.drawn) > 0 {
		return nil, ErrInvalidState("hand already drawn")
	}
	cards, err := s.deck.Draw(policy.HandSize)
	if err != nil {
		return nil, err
	}
	s.drawn = append(policy.List(nil), cards...)
	return append(policy.List(nil), cards...), nil
}

func (s *GameState) hand() policy.List {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(policy.List(nil), s.drawn...)
}

// discardDrawn moves one held card to the discard pile.
func (s *GameState) discardDrawn(p policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.winner != FactionNone {
		return ErrGameOver
	}
	if !s.drawn.Remove(p) {
		return ErrInvalidState(fmt.Sprintf("%s is not in the drawn hand %s", p, s.drawn))
	}
	return s.deck.Discard(p)
}

// enactDrawn enacts the single remaining held card.
func (s *GameState) enactDrawn(resetTracker bool) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.winner != FactionNone {
		return policy.PolicyInvalid, ErrGameOver
	}
	if len(s.drawn) != 1 {
		return policy.PolicyInvalid, ErrInvalidState(fmt.Sprintf("expected 1 held card, have %d", len(s.drawn)))
	}
	p := s.drawn[0]
	s.drawn = nil
	if resetTracker {
		s.tracker = 0
	}
	s.enactLocked(p)
	return p, nil
}

// vetoAgenda discards every held card and advances the tracker.
func (s *GameState) vetoAgenda() (policy.Policy, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.winner != FactionNone {
		return policy.PolicyInvalid, false, ErrGameOver
	}
	if err := s.deck.Discard(s.drawn...); err != nil {
		return policy.PolicyInvalid, false, err
	}
	s.drawn = nil
	return s.advanceTrackerLocked()
}

// claimPower reports whether the power is due now: the Fascist count equals
// its threshold and it has not fired. A due power is marked used.
func (s *GameState) claimPower(pw Power) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.winner != FactionNone || s.fascist != pw.threshold() {
		return false
	}
	var flag *bool
	switch pw {
	case PowerPeek:
		flag = &s.peekUsed
	case PowerFirstRemoval:
		flag = &s.firstRemovalUsed
	case PowerSecondRemoval:
		flag = &s.secondRemovalUsed
	default:
		return false
	}
	if *flag {
		return false
	}
	*flag = true
	return true
}

func (s *GameState) peek() (policy.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deck.Peek(policy.HandSize)
}

// removalTargets lists alive players other than the president.
func (s *GameState) removalTargets() []*Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Player, 0, len(s.players))
	for _, p := range s.aliveLocked() {
		if p != s.president {
			out = append(out, p)
		}
	}
	return out
}

// remove takes p out of the game. Removing Hitler ends it for the Liberals.
func (s *GameState) remove(p *Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.winner != FactionNone {
		return ErrGameOver
	}
	if p == nil || !p.alive {
		return ErrInvalidState("removal target is not alive")
	}
	if p == s.president {
		return ErrInvalidState("president cannot remove themself")
	}
	p.alive = false
	if p.Role == RoleHitler {
		s.declareWinnerLocked(FactionLiberal, WinHitlerRemoved)
	}
	return nil
}

// absorb stores a reply in the player's memory and trust map.
func (s *GameState) absorb(p *Player, st agent.Statement, trust map[string]agent.TrustAssessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.remember(s.round, st)
	p.updateTrust(trust)
}

// byName resolves an exact, case-insensitive name among candidates.
func byName(candidates []*Player, name string) *Player {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil
	}
	for _, p := range candidates {
		if strings.ToLower(p.Name) == key {
			return p
		}
	}
	return nil
}

func names(ps []*Player) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}
