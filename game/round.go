package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"secrethitler-lite/game/agent"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// playRound runs one election round: nomination, discussion, vote, tally,
// reflection and, for an elected government, the legislative session.
func (e *Engine) playRound(ctx context.Context) error {
	round, pres, err := e.state.startRound()
	if err != nil {
		if errors.Is(err, ErrGameOver) {
			return nil
		}
		return e.fatal(PhaseTypeNomination, "", err)
	}
	ctx, span := e.tracer.Start(ctx, "game.round", trace.WithAttributes(
		attribute.Int("game.round", round),
		attribute.String("game.president", pres.Name),
	))
	defer span.End()

	chanc, nomination, err := e.nominate(ctx, pres)
	if err != nil {
		return err
	}
	log.Printf("[Engine %s] round=%d president=%s chancellor=%s", e.cfg.GameID, round, pres.Name, chanc.Name)

	pool, err := e.discuss(ctx, discussion{
		phase:     PhaseTypePostNominationDiscussion,
		order:     e.shuffledExcept(pres),
		seed:      fmt.Sprintf("President %s nominated %s as chancellor and said:\n%s\n\n", pres.Name, chanc.Name, nomination.External()),
		continues: true,
		instruction: fmt.Sprintf("Discuss the proposed government of President %s and Chancellor %s before the vote.",
			pres.Name, chanc.Name),
		title: func(p *Player) string {
			if p == chanc {
				return "Chancellor"
			}
			return ""
		},
	})
	if err != nil {
		return err
	}

	passed, outcome, err := e.vote(ctx, pool)
	if err != nil {
		return err
	}
	if e.state.over() {
		return nil
	}

	if err := e.reflect(ctx, PhaseTypeReflectionPostVote, pool+outcome,
		"Reflect privately on the vote and what it tells you about the other players."); err != nil {
		return err
	}
	if !passed {
		return nil
	}

	var enacted bool
	if _, fas := e.state.Counts(); fas == VetoThreshold {
		enacted, err = e.vetoSession(ctx, pres, chanc)
	} else {
		enacted, err = e.legislativeSession(ctx, pres, chanc)
	}
	if err != nil {
		return err
	}
	if e.state.over() || !enacted {
		return nil
	}
	return e.postEnactment(ctx, pres, chanc)
}

// nominate asks the president for a chancellor among the eligible players.
func (e *Engine) nominate(ctx context.Context, pres *Player) (*Player, agent.Reply, error) {
	eligible := e.state.nominationEligible()
	if len(eligible) == 0 {
		return nil, agent.Reply{}, e.fatal(PhaseTypeNomination, pres.Name, ErrInvalidState("no eligible chancellor"))
	}
	r, err := e.ask(ctx, pres, brief{
		phase:       PhaseTypeNomination,
		instruction: "You are president this round. Nominate a chancellor and explain your choice to the table.",
		choices:     names(eligible),
	})
	if err != nil {
		return nil, r, err
	}
	chanc := e.pickPlayer(PhaseTypeNomination, pres, r.Decision(), eligible)
	if err := e.state.nominate(chanc); err != nil {
		return nil, r, e.fatal(PhaseTypeNomination, pres.Name, err)
	}
	e.emitEvent(PhaseTypeNomination, "chancellor_nominated", map[string]string{
		"president":  pres.Name,
		"chancellor": chanc.Name,
	})
	return chanc, r, nil
}

// vote collects every alive player's vote concurrently and applies the
// tally. outcome is a pool line describing the result.
func (e *Engine) vote(ctx context.Context, pool string) (passed bool, outcome string, err error) {
	alive := e.state.alive()
	results, err := e.concurrent(ctx, PhaseTypeVoting, alive, func(*Player) brief {
		return brief{
			phase:       PhaseTypeVoting,
			pool:        pool,
			instruction: "Vote on the proposed government.",
			choices:     []string{VoteJa.String(), VoteNein.String()},
		}
	})
	if err != nil {
		return false, "", err
	}

	var voteLines []string
	for _, p := range alive {
		v := e.pickVote(p, results[p.Name].Decision())
		e.state.recordVote(p.Name, v)
		voteLines = append(voteLines, fmt.Sprintf("%s voted %s", p.Name, v))
	}
	ja, nein, passed := e.state.tally()
	fields := map[string]string{
		"ja":    strconv.Itoa(ja),
		"nein":  strconv.Itoa(nein),
		"votes": strings.Join(voteLines, "; "),
	}
	log.Printf("[Engine %s] tally ja=%d nein=%d passed=%v", e.cfg.GameID, ja, nein, passed)

	if passed {
		e.emitEvent(PhaseTypeTally, "election_passed", fields)
		if err := e.state.electGovernment(); err != nil {
			return false, "", e.fatal(PhaseTypeTally, "", err)
		}
		if w, reason := e.state.Winner(); w != FactionNone {
			e.emitEvent(PhaseTypeTally, string(reason), map[string]string{"winner": w.String()})
		}
		return true, fmt.Sprintf("The vote passed %d to %d (%s).\n\n", ja, nein, fields["votes"]), nil
	}

	e.emitEvent(PhaseTypeTally, "election_failed", fields)
	top, forced, err := e.state.failElection()
	if err != nil {
		return false, "", e.fatal(PhaseTypeTally, "", err)
	}
	outcome = fmt.Sprintf("The vote failed %d to %d (%s).\n\n", ja, nein, fields["votes"])
	if forced {
		e.announceEnactment(PhaseTypeTally, top, "election_tracker")
		outcome += fmt.Sprintf("Three elections failed in a row, so the top policy (%s) was enacted.\n\n", top)
	}
	return false, outcome, nil
}

// shuffledExcept returns the seating order without p, shuffled.
func (e *Engine) shuffledExcept(p *Player) []*Player {
	out := make([]*Player, 0, PlayerCount)
	for _, o := range e.state.seating() {
		if o != p {
			out = append(out, o)
		}
	}
	e.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// governmentFirst orders the president, then the chancellor, then everyone
// else alive in seating order.
func (e *Engine) governmentFirst(pres, chanc *Player) []*Player {
	out := []*Player{pres}
	if chanc != nil {
		out = append(out, chanc)
	}
	for _, p := range e.state.alive() {
		if p != pres && p != chanc {
			out = append(out, p)
		}
	}
	return out
}

func governmentTitle(pres, chanc *Player) func(p *Player) string {
	return func(p *Player) string {
		switch p {
		case pres:
			return "President"
		case chanc:
			return "Chancellor"
		}
		return ""
	}
}

func (e *Engine) postEnactment(ctx context.Context, pres, chanc *Player) error {
	pool, err := e.discuss(ctx, discussion{
		phase:       PhaseTypePostEnactmentDiscussion,
		order:       e.governmentFirst(pres, chanc),
		seed:        e.lastEnactedLine(),
		instruction: "A policy was just enacted. Discuss what it means and who you believe.",
		title:       governmentTitle(pres, chanc),
	})
	if err != nil {
		return err
	}
	return e.reflect(ctx, PhaseTypePostEnactmentReflection, pool,
		"Reflect privately on the enacted policy and the government that passed it.")
}

func (e *Engine) lastEnactedLine() string {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	if n := len(e.state.enacted); n > 0 {
		return fmt.Sprintf("A %s policy was enacted.\n\n", e.state.enacted[n-1])
	}
	return ""
}
