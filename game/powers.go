package game

import (
	"context"
	"fmt"
	"log"
)

// powerCheck runs at the top of every round with the previous round's
// president. Each power fires at most once, when the Fascist count equals
// its threshold.
func (e *Engine) powerCheck(ctx context.Context) error {
	pres, _ := e.state.government()
	if pres == nil {
		return nil
	}
	if e.state.claimPower(PowerPeek) {
		if err := e.peek(ctx, pres); err != nil {
			return err
		}
	}
	for _, pw := range []Power{PowerFirstRemoval, PowerSecondRemoval} {
		if e.state.over() {
			return nil
		}
		if e.state.claimPower(pw) {
			if err := e.removal(ctx, pres, pw); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) peek(ctx context.Context, pres *Player) error {
	top, err := e.state.peek()
	if err != nil {
		return e.fatal(PhaseTypePowerCheck, pres.Name, err)
	}
	log.Printf("[Engine %s] peek president=%s", e.cfg.GameID, pres.Name)
	e.emitEvent(PhaseTypePowerCheck, PowerPeek.String(), map[string]string{"president": pres.Name, "cards": handText(top)})

	pool, err := e.discuss(ctx, discussion{
		phase:       PhaseTypePeekDiscussion,
		order:       e.governmentFirst(pres, nil),
		lead:        fmt.Sprintf("After peeking at the top 3 policies, President %s said:\n", pres.Name),
		instruction: fmt.Sprintf("President %s has peeked at the top 3 policies. Discuss.", pres.Name),
		private: func(p *Player) string {
			if p == pres {
				return fmt.Sprintf("You peeked at the top 3 policies: %s.", handText(top))
			}
			return ""
		},
	})
	if err != nil {
		return err
	}
	return e.reflect(ctx, PhaseTypePeekReflection, pool, "Reflect privately on the president's claim about the peek.")
}

func (e *Engine) removal(ctx context.Context, pres *Player, pw Power) error {
	pool, err := e.discuss(ctx, discussion{
		phase:       PhaseTypeRemovalDiscussion,
		order:       e.state.alive(),
		instruction: fmt.Sprintf("President %s must remove one player from the game. Discuss who should go.", pres.Name),
		title: func(p *Player) string {
			if p == pres {
				return "President"
			}
			return ""
		},
	})
	if err != nil {
		return err
	}

	targets := e.state.removalTargets()
	if len(targets) == 0 {
		return e.fatal(PhaseTypeRemovalDecision, pres.Name, ErrInvalidState("no removal target"))
	}
	r, err := e.ask(ctx, pres, brief{
		phase:       PhaseTypeRemovalDecision,
		pool:        pool,
		instruction: "As president, choose one player to remove from the game.",
		choices:     names(targets),
	})
	if err != nil {
		return err
	}
	target := e.pickPlayer(PhaseTypeRemovalDecision, pres, r.Decision(), targets)
	if err := e.state.remove(target); err != nil {
		return e.fatal(PhaseTypeRemovalDecision, pres.Name, err)
	}
	log.Printf("[Engine %s] %s president=%s removed=%s", e.cfg.GameID, pw, pres.Name, target.Name)
	fields := map[string]string{"president": pres.Name, "removed": target.Name, "power": pw.String()}
	if w, reason := e.state.Winner(); w != FactionNone {
		fields["winner"] = w.String()
		fields["reason"] = string(reason)
	}
	e.emitEvent(PhaseTypeRemovalDecision, "player_removed", fields)
	if e.state.over() {
		return nil
	}

	pool += fmt.Sprintf("After removing a player, President %s said:\n%s\n\n", pres.Name, r.External())
	return e.reflect(ctx, PhaseTypeRemovalReflection, pool,
		fmt.Sprintf("%s was removed from the game. Reflect privately on the removal.", target.Name))
}
