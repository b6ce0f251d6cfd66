package game

import (
	"fmt"
	"strings"

	"secrethitler-lite/policy"
)

// brief is one request's framing: what the player is asked and what it may
// answer with.
type brief struct {
	phase       Phase
	pool        string
	instruction string
	private     string
	choices     []string
}

// content renders the context a player sees for one request. The role
// block reveals teammates only to the Fascist and Hitler.
func (e *Engine) content(p *Player, b brief) string {
	s := e.state
	s.mu.Lock()
	round, lib, fas, tracker := s.round, s.liberal, s.fascist, s.tracker
	var pres, chanc string
	if s.president != nil {
		pres = s.president.Name
	}
	if s.chancellor != nil {
		chanc = s.chancellor.Name
	}
	alive := names(s.aliveLocked())
	var teammates []string
	if p.Role != RoleLiberal {
		for _, o := range s.players {
			if o != p && o.Role != RoleLiberal {
				teammates = append(teammates, fmt.Sprintf("%s (%s)", o.Name, o.Role))
			}
		}
	}
	s.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Round %d. Phase: %s.\n", round, b.phase)
	fmt.Fprintf(&sb, "You are %s and your secret role is %s.\n", p.Name, p.Role)
	if len(teammates) > 0 {
		fmt.Fprintf(&sb, "Your teammate: %s.\n", strings.Join(teammates, ", "))
	}
	fmt.Fprintf(&sb, "Enacted policies: Liberal %d/%d, Fascist %d/%d. Failed elections in a row: %d/%d.\n",
		lib, LiberalWinCount, fas, FascistWinCount, tracker, TrackerLimit)
	if pres != "" {
		fmt.Fprintf(&sb, "President: %s.", pres)
		if chanc != "" {
			fmt.Fprintf(&sb, " Chancellor nominee: %s.", chanc)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Players still in the game: %s.\n", strings.Join(alive, ", "))
	if b.private != "" {
		sb.WriteString(b.private)
		sb.WriteString("\n")
	}
	if b.pool != "" {
		sb.WriteString("\nWhat has been said so far:\n")
		sb.WriteString(b.pool)
	}
	sb.WriteString("\n")
	sb.WriteString(b.instruction)
	sb.WriteString("\n")
	if len(b.choices) > 0 {
		fmt.Fprintf(&sb, "Your decision must be exactly one of: %s.\n", strings.Join(b.choices, ", "))
	} else {
		fmt.Fprintf(&sb, "There is nothing to decide; set decision to %q.\n", decisionNone)
	}
	return sb.String()
}

func policyNames(ps []policy.Policy) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	return out
}

func handText(ps []policy.Policy) string {
	return strings.Join(policyNames(ps), ", ")
}

func speaker(i int, name, title string) string {
	if title != "" {
		name = title + " " + name
	}
	if i == 0 {
		return name + " said:\n"
	}
	return "Then " + name + " said:\n"
}
