package policy

import (
	"errors"
	"fmt"
	"math/rand"
)

var (
	ErrNotOut      = errors.New("policy not in play")
	ErrInvalidSize = errors.New("invalid draw size")
)

// Deck is the 17-card policy deck.
//
// Every card is in exactly one of three places: the draw pile, the discard
// pile, or out of the piles (held by the government or enacted on the board).
// A reshuffle moves every discarded and out card back to the draw pile, so
// the 6 Liberal / 11 Fascist multiset is never lost or duplicated.
type Deck struct {
	draw    List
	discard List
	out     List

	rng        *rand.Rand
	reshuffles int
}

// NewDeck returns a freshly shuffled full deck.
func NewDeck(rng *rand.Rand) *Deck {
	d := &Deck{rng: rng}
	d.draw = make(List, 0, TotalCount)
	for i := 0; i < LiberalCount; i++ {
		d.draw.Add(Liberal)
	}
	for i := 0; i < FascistCount; i++ {
		d.draw.Add(Fascist)
	}
	d.draw.Shuffle(d.rng)
	return d
}

// NewDeckFrom builds a deck with a fixed draw order. Cards missing from
// order are placed in the discard pile so the full multiset stays intact.
func NewDeckFrom(rng *rand.Rand, order []Policy) (*Deck, error) {
	d := &Deck{rng: rng}
	if len(order) > TotalCount {
		return nil, fmt.Errorf("deck order has %d cards, max %d", len(order), TotalCount)
	}
	d.draw.Init(order)
	lib := LiberalCount - d.draw.CountOf(Liberal)
	fas := FascistCount - d.draw.CountOf(Fascist)
	if lib < 0 || fas < 0 || d.draw.CountOf(PolicyInvalid) > 0 {
		return nil, fmt.Errorf("deck order %s does not fit 6 Liberal / 11 Fascist", d.draw)
	}
	for i := 0; i < lib; i++ {
		d.discard.Add(Liberal)
	}
	for i := 0; i < fas; i++ {
		d.discard.Add(Fascist)
	}
	return d, nil
}

// Draw removes n cards from the top of the draw pile. When fewer than n
// remain the deck is reshuffled first.
func (d *Deck) Draw(n int) ([]Policy, error) {
	if n <= 0 || n > TotalCount {
		return nil, ErrInvalidSize
	}
	if d.draw.Count() < n {
		d.reshuffle()
	}
	cards, ok := d.draw.PopPolicies(n)
	if !ok {
		return nil, fmt.Errorf("draw %d: only %d cards available after reshuffle", n, d.draw.Count())
	}
	d.out.Add(cards...)
	return cards, nil
}

// DrawTop takes the single top card for an automatic enactment. Like every
// other draw point it reshuffles while fewer than HandSize cards remain.
func (d *Deck) DrawTop() (Policy, error) {
	if d.draw.Count() < HandSize {
		d.reshuffle()
	}
	cards, err := d.Draw(1)
	if err != nil {
		return PolicyInvalid, err
	}
	return cards[0], nil
}

// Peek returns the top n cards without removing them, reshuffling first if
// fewer than n remain.
func (d *Deck) Peek(n int) ([]Policy, error) {
	if n <= 0 || n > TotalCount {
		return nil, ErrInvalidSize
	}
	if d.draw.Count() < n {
		d.reshuffle()
	}
	out := make([]Policy, n)
	copy(out, d.draw[:n])
	return out, nil
}

// Discard moves held cards to the discard pile.
func (d *Deck) Discard(policies ...Policy) error {
	for _, p := range policies {
		if !d.out.Remove(p) {
			return fmt.Errorf("discard %s: %w", p, ErrNotOut)
		}
		d.discard.Add(p)
	}
	return nil
}

// Len returns the size of the draw pile.
func (d *Deck) Len() int { return d.draw.Count() }

// DiscardLen returns the size of the discard pile.
func (d *Deck) DiscardLen() int { return d.discard.Count() }

// OutLen returns the number of cards held or enacted.
func (d *Deck) OutLen() int { return d.out.Count() }

// Reshuffles reports how many reshuffles have happened.
func (d *Deck) Reshuffles() int { return d.reshuffles }

// Counts returns the Liberal and Fascist totals across all three places.
func (d *Deck) Counts() (liberal, fascist int) {
	for _, ls := range []List{d.draw, d.discard, d.out} {
		liberal += ls.CountOf(Liberal)
		fascist += ls.CountOf(Fascist)
	}
	return liberal, fascist
}

func (d *Deck) reshuffle() {
	d.draw.Add(d.discard...)
	d.draw.Add(d.out...)
	d.discard = d.discard[:0]
	d.out = d.out[:0]
	d.draw.Shuffle(d.rng)
	d.reshuffles++
}
