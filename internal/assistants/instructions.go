package assistants

import (
	"fmt"
	"strings"
)

const gameRules = `Rules for 5-player Secret Hitler

Players are secretly assigned roles: 3 Liberals, 1 Fascist and Hitler.
Liberals win by enacting 5 Liberal policies or by removing Hitler.
Fascists win by enacting 6 Fascist policies or by electing Hitler as Chancellor after 3 Fascist policies are enacted.
The Fascist and Hitler know each other. Liberals only know their own role.

Election: the presidency rotates around the table. The President nominates a Chancellor; the last elected Chancellor is ineligible. Everyone votes Ja or Nein and a strict majority passes the government. A failed vote advances the election tracker; three failures in a row enact the top policy of the deck. A tie fails.
Legislative session: the President draws 3 policies and discards 1, the Chancellor enacts 1 of the remaining 2. Claims about discarded policies may be lies.
Executive powers for the President of the round after the enactment: 3 Fascist policies let them peek at the top 3 policies, 4 and 5 Fascist policies let them remove a player. At 5 Fascist policies the Chancellor may propose a veto, which the President can accept; an accepted veto discards both policies and advances the election tracker.`

const notes = `Notes:
- "You" always refers to you, and so does your name.
- Discussion pools are the statements made so far about the current event of the current round.
- External dialogue is seen by other players; internal dialogue is private; decisions are public.
- Anyone may lie. Your role, teammates and the board are given in every message.
- Always answer with the requested JSON object.`

// instructions builds the assistant-level instructions for participant.
// Role knowledge is carried per message, so one text fits every role.
func (p *Provider) instructions(participant string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are playing a game of 5 player Secret Hitler.\nYour name is %s. This name is unique; whenever it is used, it refers to you.\n", participant)
	if p.cfg.Registry != nil {
		if persona := p.cfg.Registry.ByName(participant); persona != nil {
			fmt.Fprintf(&b, "Your personality: %s. You are %s.\n", persona.Tagline, persona.Style)
		}
	}
	b.WriteString("Make decisions based on your personality and your role.\n\n")
	b.WriteString(gameRules)
	b.WriteString("\n\n")
	b.WriteString(notes)
	return b.String()
}
