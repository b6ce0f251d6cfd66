package game

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"secrethitler-lite/policy"
)

// presidentDiscard draws the hand and has the president discard one card.
func (e *Engine) presidentDiscard(ctx context.Context, phase Phase, pres *Player) error {
	hand, err := e.state.drawHand()
	if err != nil {
		return e.fatal(phase, pres.Name, err)
	}
	e.emitEvent(phase, "policies_drawn", map[string]string{"president": pres.Name, "cards": handText(hand)})

	r, err := e.ask(ctx, pres, brief{
		phase:       phase,
		private:     fmt.Sprintf("You drew these policies: %s.", handText(hand)),
		instruction: "As president, discard one policy. The other two go to the chancellor.",
		choices:     policyNames(hand.Distinct()),
	})
	if err != nil {
		return err
	}
	c := e.pickPolicy(phase, pres, r.Decision(), hand)
	if err := e.state.discardDrawn(c); err != nil {
		return e.fatal(phase, pres.Name, err)
	}
	return nil
}

// chancellorDiscard has the chancellor discard one of the two held cards.
func (e *Engine) chancellorDiscard(ctx context.Context, phase Phase, chanc *Player, instruction string) error {
	rest := e.state.hand()
	r, err := e.ask(ctx, chanc, brief{
		phase:       phase,
		private:     fmt.Sprintf("The president passed you these policies: %s.", handText(rest)),
		instruction: instruction,
		choices:     policyNames(rest.Distinct()),
	})
	if err != nil {
		return err
	}
	c := e.pickPolicy(phase, chanc, r.Decision(), rest)
	if err := e.state.discardDrawn(c); err != nil {
		return e.fatal(phase, chanc.Name, err)
	}
	return nil
}

// legislativeSession is the normal draw 3, discard 1, discard 1, enact 1.
func (e *Engine) legislativeSession(ctx context.Context, pres, chanc *Player) (bool, error) {
	const phase = PhaseTypeLegislativeSession
	if err := e.presidentDiscard(ctx, phase, pres); err != nil {
		return false, err
	}
	if err := e.chancellorDiscard(ctx, phase, chanc, "As chancellor, discard one policy. The other is enacted."); err != nil {
		return false, err
	}
	p, err := e.state.enactDrawn(true)
	if err != nil {
		return false, e.fatal(phase, chanc.Name, err)
	}
	e.announceEnactment(phase, p, "legislative_session")
	return true, nil
}

// vetoSession replaces the legislative session once five Fascist policies
// are enacted. The chancellor may propose a veto; if the president agrees
// all three cards are discarded and the election tracker advances. A
// refused veto forces an enactment and leaves the tracker untouched.
func (e *Engine) vetoSession(ctx context.Context, pres, chanc *Player) (bool, error) {
	const phase = PhaseTypeVetoSession
	if err := e.presidentDiscard(ctx, phase, pres); err != nil {
		return false, err
	}

	rest := e.state.hand()
	r, err := e.ask(ctx, chanc, brief{
		phase:       phase,
		private:     fmt.Sprintf("The president passed you these policies: %s.", handText(rest)),
		instruction: "As chancellor, discard one policy so the other is enacted, or propose a veto of both.",
		choices:     append(policyNames(rest.Distinct()), decisionVeto),
	})
	if err != nil {
		return false, err
	}

	veto, discard := e.pickVetoChoice(chanc, r.Decision(), rest)
	if !veto {
		if err := e.state.discardDrawn(discard); err != nil {
			return false, e.fatal(phase, chanc.Name, err)
		}
		p, err := e.state.enactDrawn(true)
		if err != nil {
			return false, e.fatal(phase, chanc.Name, err)
		}
		e.announceEnactment(phase, p, "veto_session")
		return true, nil
	}

	e.emitEvent(phase, "veto_proposed", map[string]string{"chancellor": chanc.Name})
	pr, err := e.ask(ctx, pres, brief{
		phase:       phase,
		pool:        fmt.Sprintf("Chancellor %s proposed a veto and said:\n%s\n\n", chanc.Name, r.External()),
		private:     fmt.Sprintf("The chancellor holds: %s.", handText(rest)),
		instruction: "As president, agree to the veto to discard both policies, or disagree to force an enactment.",
		choices:     []string{decisionAgree, decisionDisagree},
	})
	if err != nil {
		return false, err
	}

	if !e.pickAgreement(phase, pres, pr.Decision()) {
		e.emitEvent(phase, "veto_refused", map[string]string{"president": pres.Name})
		if err := e.chancellorDiscard(ctx, phase, chanc,
			"The president refused the veto. Discard one policy; the other is enacted."); err != nil {
			return false, err
		}
		p, err := e.state.enactDrawn(false)
		if err != nil {
			return false, e.fatal(phase, chanc.Name, err)
		}
		e.announceEnactment(phase, p, "veto_refused")
		return true, nil
	}

	top, forced, err := e.state.vetoAgenda()
	if err != nil {
		return false, e.fatal(phase, pres.Name, err)
	}
	log.Printf("[Engine %s] veto agreed president=%s chancellor=%s", e.cfg.GameID, pres.Name, chanc.Name)
	e.emitEvent(phase, "veto_agreed", map[string]string{
		"president":  pres.Name,
		"chancellor": chanc.Name,
		"tracker":    strconv.Itoa(e.state.Tracker()),
	})
	if forced {
		e.announceEnactment(phase, top, "election_tracker")
	}
	if e.state.over() {
		return false, nil
	}

	pool, err := e.discuss(ctx, discussion{
		phase:       PhaseTypeVetoDiscussion,
		order:       e.governmentFirst(pres, chanc),
		lead:        fmt.Sprintf("After agreeing to veto the policies, President %s said:\n", pres.Name),
		instruction: "The agenda was vetoed and all three policies discarded. Discuss the veto.",
		title:       governmentTitle(pres, chanc),
	})
	if err != nil {
		return false, err
	}
	return false, e.reflect(ctx, PhaseTypeVetoReflection, pool, "Reflect privately on the veto.")
}

// pickVetoChoice resolves the chancellor's veto-session reply. The fallback
// is uniform over the held cards and the veto.
func (e *Engine) pickVetoChoice(chanc *Player, decision string, rest policy.List) (veto bool, discard policy.Policy) {
	if isVeto(decision) {
		return true, policy.PolicyInvalid
	}
	if c, err := policy.Parse(decision); err == nil && rest.Contains(c) {
		return false, c
	}
	i := e.rng.Intn(len(rest) + 1)
	if i == len(rest) {
		e.anomaly(PhaseTypeVetoSession, chanc, decision, decisionVeto, "invalid_veto_choice")
		return true, policy.PolicyInvalid
	}
	e.anomaly(PhaseTypeVetoSession, chanc, decision, rest[i].String(), "invalid_veto_choice")
	return false, rest[i]
}
