package game

import (
	"context"
	"errors"
	"sync"
	"testing"

	"secrethitler-lite/game/agent"
	"secrethitler-lite/policy"
	"secrethitler-lite/transcript"
)

func TestElectionTracker_AutoEnactsAfterThreeFailures(t *testing.T) {
	p := newScript(func(msg agent.Message) string {
		if msg.Phase == PhaseTypeVoting.String() {
			return "Nein"
		}
		return firstChoice(msg)
	})
	e, tape := newTestEngine(t, Config{}, p)
	openEngine(t, e)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if err := e.playRound(ctx); err != nil {
			t.Fatalf("round %d err: %v", i, err)
		}
		if got := e.state.Tracker(); got != i {
			t.Fatalf("after %d failed elections tracker=%d", i, got)
		}
		if lib, fas := e.state.Counts(); lib+fas != 0 {
			t.Fatalf("no policy should be enacted yet, got %d/%d", lib, fas)
		}
	}
	if err := e.playRound(ctx); err != nil {
		t.Fatalf("round 3 err: %v", err)
	}
	if got := e.state.Tracker(); got != 0 {
		t.Fatalf("tracker must reset after auto-enactment, got %d", got)
	}
	if lib, fas := e.state.Counts(); lib+fas != 1 {
		t.Fatalf("expected exactly one auto-enacted policy, got %d/%d", lib, fas)
	}
	if got := len(events(tape.Records(), "policy_enacted")); got != 1 {
		t.Fatalf("expected 1 enactment event, got %d", got)
	}
	if got := len(byPhase(tape.Records(), PhaseTypeLegislativeSession)); got != 0 {
		t.Fatalf("failed elections must not reach the legislative session, got %d records", got)
	}
}

func TestElection_PassResetsTrackerAndMovesTermLimits(t *testing.T) {
	e, _ := newTestEngine(t, Config{}, newScript(nil))
	openEngine(t, e)
	e.state.tracker = 2

	if err := e.playRound(context.Background()); err != nil {
		t.Fatalf("playRound err: %v", err)
	}
	if got := e.state.Tracker(); got != 0 {
		t.Fatalf("tracker must reset on a passed vote, got %d", got)
	}
	if lib, fas := e.state.Counts(); lib+fas != 1 {
		t.Fatalf("expected one enacted policy, got %d/%d", lib, fas)
	}
	bob, alice := e.players["Bob"], e.players["Alice"]
	if !bob.LastPresident() || !alice.LastChancellor() {
		t.Fatalf("term-limit flags not moved to the elected government")
	}

	pres := startRound(t, e)
	if pres.Name != "Carol" {
		t.Fatalf("expected Carol to preside in round 2, got %s", pres.Name)
	}
	eligible := names(e.state.nominationEligible())
	for _, n := range eligible {
		if n == "Alice" || n == "Carol" {
			t.Fatalf("%s must not be eligible, got %v", n, eligible)
		}
	}
	if len(eligible) != 3 {
		t.Fatalf("expected 3 eligible chancellors, got %v", eligible)
	}
}

func TestHitlerElectedAfterThreeFascistPolicies(t *testing.T) {
	p := newScript(func(msg agent.Message) string {
		if msg.Phase == PhaseTypeNomination.String() {
			return "Dave"
		}
		return firstChoice(msg)
	})
	e, tape := newTestEngine(t, Config{}, p)
	openEngine(t, e)
	e.state.fascist = 3

	if err := e.playRound(context.Background()); err != nil {
		t.Fatalf("playRound err: %v", err)
	}
	w, reason := e.state.Winner()
	if w != FactionFascist || reason != WinHitlerElected {
		t.Fatalf("expected Fascist win by Hitler election, got %s/%s", w, reason)
	}
	recs := tape.Records()
	if n := len(byPhase(recs, PhaseTypeReflectionPostVote)) + len(byPhase(recs, PhaseTypeLegislativeSession)); n != 0 {
		t.Fatalf("no phase may run after the win, got %d records", n)
	}
}

func TestUnparseableVote_FallsBackAndRecordsAnomaly(t *testing.T) {
	p := newScript(func(msg agent.Message) string {
		if msg.Phase == PhaseTypeVoting.String() {
			return "Ja, probably"
		}
		return firstChoice(msg)
	})
	e, _ := newTestEngine(t, Config{}, p)
	openEngine(t, e)

	if err := e.playRound(context.Background()); err != nil {
		t.Fatalf("playRound must not fail on bad votes: %v", err)
	}
	snap := e.Snapshot()
	invalid := 0
	for _, a := range snap.Anomalies {
		if a.Reason == "invalid_vote" {
			invalid++
			if a.Used != "Ja" && a.Used != "Nein" {
				t.Fatalf("fallback vote %q is not a valid vote", a.Used)
			}
		}
	}
	if invalid != PlayerCount {
		t.Fatalf("expected %d vote anomalies, got %d", PlayerCount, invalid)
	}
	if snap.Metrics.Anomalies < PlayerCount {
		t.Fatalf("anomaly metric not counted: %d", snap.Metrics.Anomalies)
	}
}

func vetoScript(presidentAnswer string) *scriptProvider {
	return newScript(func(msg agent.Message) string {
		switch {
		case hasChoice(msg, decisionAgree):
			return presidentAnswer
		case hasChoice(msg, decisionVeto):
			return decisionVeto
		case len(msg.Choices) > 0 && msg.Phase == PhaseTypeVetoSession.String():
			return "Fascist"
		}
		return firstChoice(msg)
	})
}

func setupVeto(t *testing.T, p agent.Provider, tracker int) (*Engine, *transcript.Tape, *Player, *Player) {
	t.Helper()
	e, tape := newTestEngine(t, Config{DeckOrder: []policy.Policy{policy.Liberal, policy.Fascist, policy.Fascist}}, p)
	openEngine(t, e)
	e.state.fascist = VetoThreshold
	e.state.tracker = tracker
	pres := startRound(t, e)
	chanc := e.players["Alice"]
	if err := e.state.nominate(chanc); err != nil {
		t.Fatalf("nominate err: %v", err)
	}
	return e, tape, pres, chanc
}

func TestVetoRefused_EnactsOneAndLeavesTracker(t *testing.T) {
	e, tape, pres, chanc := setupVeto(t, vetoScript(decisionDisagree), 2)
	discardBefore := e.state.deck.DiscardLen()

	enacted, err := e.vetoSession(context.Background(), pres, chanc)
	if err != nil {
		t.Fatalf("vetoSession err: %v", err)
	}
	if !enacted {
		t.Fatalf("a refused veto must enact a policy")
	}
	lib, fas := e.state.Counts()
	if lib != 1 || fas != VetoThreshold {
		t.Fatalf("expected the Liberal card enacted, got %d/%d", lib, fas)
	}
	if got := e.state.Tracker(); got != 2 {
		t.Fatalf("refused veto must not touch the tracker, got %d", got)
	}
	if got := e.state.deck.DiscardLen() - discardBefore; got != 2 {
		t.Fatalf("expected 2 discarded cards, got %d", got)
	}
	if len(e.state.hand()) != 0 {
		t.Fatalf("hand must be empty after enactment")
	}
	if len(byPhase(tape.Records(), PhaseTypeVetoDiscussion)) != 0 {
		t.Fatalf("veto discussion must not run when the veto is refused")
	}
}

func TestVetoAgreed_DiscardsAllAndAdvancesTracker(t *testing.T) {
	e, tape, pres, chanc := setupVeto(t, vetoScript(decisionAgree), 1)
	discardBefore := e.state.deck.DiscardLen()

	enacted, err := e.vetoSession(context.Background(), pres, chanc)
	if err != nil {
		t.Fatalf("vetoSession err: %v", err)
	}
	if enacted {
		t.Fatalf("an agreed veto enacts nothing")
	}
	if lib, fas := e.state.Counts(); lib != 0 || fas != VetoThreshold {
		t.Fatalf("counts changed on veto: %d/%d", lib, fas)
	}
	if got := e.state.Tracker(); got != 2 {
		t.Fatalf("agreed veto must advance the tracker to 2, got %d", got)
	}
	if got := e.state.deck.DiscardLen() - discardBefore; got != 3 {
		t.Fatalf("expected all 3 cards discarded, got %d", got)
	}
	recs := tape.Records()
	disc := byPhase(recs, PhaseTypeVetoDiscussion)
	if len(disc) != PlayerCount {
		t.Fatalf("expected %d veto discussion replies, got %d", PlayerCount, len(disc))
	}
	if disc[0].Participant != pres.Name || disc[1].Participant != chanc.Name {
		t.Fatalf("president then chancellor must open the veto discussion, got %s, %s", disc[0].Participant, disc[1].Participant)
	}
	if len(byPhase(recs, PhaseTypeVetoReflection)) != PlayerCount {
		t.Fatalf("veto reflection missing")
	}
}

func TestVetoAgreed_TrackerLimitEnactsTopCard(t *testing.T) {
	e, _, pres, chanc := setupVeto(t, vetoScript(decisionAgree), 2)

	if _, err := e.vetoSession(context.Background(), pres, chanc); err != nil {
		t.Fatalf("vetoSession err: %v", err)
	}
	if got := e.state.Tracker(); got != 0 {
		t.Fatalf("tracker must reset after the forced enactment, got %d", got)
	}
	if lib, fas := e.state.Counts(); lib+fas != VetoThreshold+1 {
		t.Fatalf("expected one forced enactment, got %d/%d", lib, fas)
	}
}

func TestPeek_FiresOnce(t *testing.T) {
	e, tape := newTestEngine(t, Config{}, newScript(nil))
	openEngine(t, e)
	e.state.fascist = PeekThreshold
	pres := startRound(t, e)

	for i := 0; i < 2; i++ {
		if err := e.powerCheck(context.Background()); err != nil {
			t.Fatalf("powerCheck err: %v", err)
		}
	}
	if !e.Snapshot().PeekUsed {
		t.Fatalf("peek flag not set")
	}
	disc := byPhase(tape.Records(), PhaseTypePeekDiscussion)
	if len(disc) != PlayerCount {
		t.Fatalf("peek must run exactly once, got %d discussion replies", len(disc))
	}
	if disc[0].Participant != pres.Name {
		t.Fatalf("president must speak first, got %s", disc[0].Participant)
	}
	if got := len(events(tape.Records(), PowerPeek.String())); got != 1 {
		t.Fatalf("expected 1 peek event, got %d", got)
	}
}

func TestRemovingHitler_EndsGameImmediately(t *testing.T) {
	p := newScript(func(msg agent.Message) string {
		if msg.Phase == PhaseTypeRemovalDecision.String() {
			return "Dave"
		}
		return firstChoice(msg)
	})
	e, tape := newTestEngine(t, Config{}, p)
	e.state.fascist = FirstRemovalThreshold
	e.state.president = e.players["Bob"]

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run err: %v", err)
	}
	if res.Winner != FactionLiberal || res.Reason != WinHitlerRemoved {
		t.Fatalf("expected Liberal win by removal, got %s/%s", res.Winner, res.Reason)
	}
	recs := tape.Records()
	for _, ph := range []Phase{PhaseTypeRemovalReflection, PhaseTypeNomination, PhaseTypeVoting} {
		if n := len(byPhase(recs, ph)); n != 0 {
			t.Fatalf("phase %s ran after the game ended (%d records)", ph, n)
		}
	}
	post := byPhase(recs, PhaseTypePostGameDiscussion)
	if len(post) != PlayerCount-1 {
		t.Fatalf("expected %d post-game speakers, got %d", PlayerCount-1, len(post))
	}
	for _, r := range post {
		if r.Participant == "Dave" {
			t.Fatalf("removed player spoke in post-game")
		}
	}
}

func TestRemovalFallback_NeverRemovesPresident(t *testing.T) {
	p := newScript(func(msg agent.Message) string {
		if msg.Phase == PhaseTypeRemovalDecision.String() {
			return "Bob"
		}
		return firstChoice(msg)
	})
	for seed := int64(1); seed <= 8; seed++ {
		e, _ := newTestEngine(t, Config{Seed: seed}, p)
		openEngine(t, e)
		e.state.fascist = FirstRemovalThreshold
		pres := startRound(t, e)

		if err := e.powerCheck(context.Background()); err != nil {
			t.Fatalf("seed %d: powerCheck err: %v", seed, err)
		}
		if !pres.Alive() {
			t.Fatalf("seed %d: president removed themself", seed)
		}
		if got := len(e.state.alive()); got != PlayerCount-1 {
			t.Fatalf("seed %d: expected exactly one removal, %d alive", seed, got)
		}
		found := false
		for _, a := range e.Snapshot().Anomalies {
			if a.Reason == "invalid_name" && a.Got == "Bob" {
				found = true
			}
		}
		if !found {
			t.Fatalf("seed %d: fallback not recorded as anomaly", seed)
		}
	}
}

func TestNomination_ExactNameOnly(t *testing.T) {
	roster := []Seat{
		{Name: "Ann", Role: RoleLiberal},
		{Name: "Anna", Role: RoleFascist},
		{Name: "Annabel", Role: RoleLiberal},
		{Name: "Hank", Role: RoleHitler},
		{Name: "Lee", Role: RoleLiberal},
	}
	cases := []struct {
		decision string
		want     string
		anomaly  bool
	}{
		{decision: " annabel ", want: "Annabel"},
		{decision: "Ann", want: "Ann"},
		{decision: "Ann and Lee", anomaly: true},
	}
	for _, tc := range cases {
		p := newScript(func(msg agent.Message) string { return tc.decision })
		e, _ := newTestEngine(t, Config{Roster: roster}, p)
		openEngine(t, e)
		pres := startRound(t, e)
		if pres.Name != "Anna" {
			t.Fatalf("expected Anna to preside, got %s", pres.Name)
		}

		chanc, _, err := e.nominate(context.Background(), pres)
		if err != nil {
			t.Fatalf("nominate(%q) err: %v", tc.decision, err)
		}
		anomalies := len(e.Snapshot().Anomalies)
		if tc.anomaly {
			if anomalies != 1 {
				t.Fatalf("nominate(%q): expected fallback anomaly, got %d", tc.decision, anomalies)
			}
			if chanc == pres {
				t.Fatalf("fallback picked the president")
			}
			continue
		}
		if chanc.Name != tc.want || anomalies != 0 {
			t.Fatalf("nominate(%q) = %s (anomalies=%d), want %s", tc.decision, chanc.Name, anomalies, tc.want)
		}
	}
}

func TestRun_FatalProviderErrorAbortsInstance(t *testing.T) {
	p := newScript(nil)
	p.failErr = errors.New("connection refused")
	e, _ := newTestEngine(t, Config{}, p)

	res, err := e.Run(context.Background())
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FatalError, got %v", err)
	}
	if !errors.Is(err, agent.ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted in chain, got %v", err)
	}
	if fe.Phase != PhaseTypeNomination || fe.Round != 1 || fe.Participant != "Bob" {
		t.Fatalf("unexpected failure location: %+v", fe)
	}
	if res.Winner != FactionNone {
		t.Fatalf("aborted game must not have a winner")
	}
}

func TestRunGame_RuleProviderPlaysToCompletion(t *testing.T) {
	registry, err := agent.DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry err: %v", err)
	}
	for seed := int64(1); seed <= 4; seed++ {
		cfg := Config{Roster: StandardRoster(), Seed: seed, ShuffleSeats: true, MaxRounds: 200}
		e, tape := newTestEngine(t, cfg, agent.NewRuleProvider(registry, seed))

		res, err := e.Run(context.Background())
		if err != nil {
			t.Fatalf("seed %d: Run err: %v", seed, err)
		}
		if res.Winner == FactionNone || res.Reason == "" {
			t.Fatalf("seed %d: game ended without a winner", seed)
		}
		if res.Liberal > LiberalWinCount || res.Fascist > FascistWinCount {
			t.Fatalf("seed %d: counts out of range %d/%d", seed, res.Liberal, res.Fascist)
		}
		if lib, fas := e.state.deck.Counts(); lib != policy.LiberalCount || fas != policy.FascistCount {
			t.Fatalf("seed %d: deck multiset broken %d/%d", seed, lib, fas)
		}
		if res.Metrics.Calls == 0 || res.Metrics.TotalTokens == 0 {
			t.Fatalf("seed %d: metrics not recorded: %+v", seed, res.Metrics)
		}

		recs := tape.Records()
		if recs[0].Event != "game_started" {
			t.Fatalf("seed %d: first record %q", seed, recs[0].Event)
		}
		if last := recs[len(recs)-1]; last.Phase != PhaseTypePostGameReflection.String() {
			t.Fatalf("seed %d: last record phase %q", seed, last.Phase)
		}
		for i := 1; i < len(recs); i++ {
			if recs[i].Seq <= recs[i-1].Seq {
				t.Fatalf("seed %d: transcript out of order at %d", seed, i)
			}
		}

		for _, ps := range res.Snapshot.Players {
			if ps.Role == RoleLiberal && len(ps.Trust) == 0 {
				t.Fatalf("seed %d: Liberal %s has no trust map", seed, ps.Name)
			}
			if ps.Role != RoleLiberal && len(ps.Trust) != 0 {
				t.Fatalf("seed %d: %s (%s) must not keep trust", seed, ps.Name, ps.Role)
			}
			if len(ps.Memory) == 0 {
				t.Fatalf("seed %d: %s has no memory", seed, ps.Name)
			}
		}
	}
}

// flakyOpenProvider fails OpenSession from the failAt-th participant on and
// counts the sessions it opened and closed.
type flakyOpenProvider struct {
	*scriptProvider
	failAt int

	mu     sync.Mutex
	opened int
	closed int
}

func (p *flakyOpenProvider) OpenSession(ctx context.Context, participant string) (agent.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened+1 >= p.failAt {
		return agent.Session{}, errors.New("assistant quota reached")
	}
	p.opened++
	return p.scriptProvider.OpenSession(ctx, participant)
}

func (p *flakyOpenProvider) CloseSession(context.Context, agent.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func TestRun_FailedOpenClosesOpenedSessions(t *testing.T) {
	p := &flakyOpenProvider{scriptProvider: newScript(nil), failAt: 4}
	e, _ := newTestEngine(t, Config{}, p)

	_, err := e.Run(context.Background())
	var fe *FatalError
	if !errors.As(err, &fe) || fe.Phase != PhaseTypeSetup {
		t.Fatalf("expected setup *FatalError, got %v", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened != 3 {
		t.Fatalf("expected 3 opened sessions, got %d", p.opened)
	}
	if p.closed != p.opened {
		t.Fatalf("opened %d sessions but closed %d", p.opened, p.closed)
	}
}

func TestSecondRemoval_FiresOnceAndReflects(t *testing.T) {
	p := newScript(func(msg agent.Message) string {
		if msg.Phase == PhaseTypeRemovalDecision.String() {
			for _, c := range msg.Choices {
				if c != "Dave" {
					return c
				}
			}
		}
		return firstChoice(msg)
	})
	e, tape := newTestEngine(t, Config{}, p)
	openEngine(t, e)
	e.state.fascist = FirstRemovalThreshold
	pres := startRound(t, e)

	if err := e.powerCheck(context.Background()); err != nil {
		t.Fatalf("first powerCheck err: %v", err)
	}
	e.state.fascist = SecondRemovalThreshold
	for i := 0; i < 2; i++ {
		if err := e.powerCheck(context.Background()); err != nil {
			t.Fatalf("second powerCheck err: %v", err)
		}
	}

	snap := e.Snapshot()
	if !snap.FirstRemovalUsed || !snap.SecondRemovalUsed {
		t.Fatalf("removal flags not set: %+v", snap)
	}
	if snap.Winner != FactionNone {
		t.Fatalf("game must continue while Hitler lives, winner=%s", snap.Winner)
	}
	if got := len(e.state.alive()); got != PlayerCount-2 {
		t.Fatalf("expected two removals, %d alive", got)
	}
	if !pres.Alive() || !e.players["Dave"].Alive() {
		t.Fatalf("president and Hitler must survive")
	}

	recs := tape.Records()
	removed := events(recs, "player_removed")
	if len(removed) != 2 {
		t.Fatalf("expected 2 removal events, got %d", len(removed))
	}
	if removed[1].Fields["power"] != PowerSecondRemoval.String() {
		t.Fatalf("second event should come from the second removal, got %q", removed[1].Fields["power"])
	}
	// Reflections: everyone alive after each removal.
	if got := len(byPhase(recs, PhaseTypeRemovalReflection)); got != (PlayerCount-1)+(PlayerCount-2) {
		t.Fatalf("expected %d removal reflections, got %d", (PlayerCount-1)+(PlayerCount-2), got)
	}
}
