package policy

import (
	"math/rand"
	"strings"
)

type List []Policy

func (ls *List) Init(policies []Policy) {
	*ls = make([]Policy, len(policies))
	copy(*ls, policies)
}

// Count 总张数
func (ls List) Count() int {
	return len(ls)
}

// CountOf returns how many cards of kind p are in the list.
func (ls List) CountOf(p Policy) int {
	n := 0
	for _, c := range ls {
		if c == p {
			n++
		}
	}
	return n
}

func (ls List) Contains(p Policy) bool {
	return ls.CountOf(p) > 0
}

func (ls List) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(ls), func(i, j int) {
		ls[i], ls[j] = ls[j], ls[i]
	})
}

func (ls *List) Add(policies ...Policy) {
	*ls = append(*ls, policies...)
}

// PopPolicies takes size cards from the top (front) of the list.
func (ls *List) PopPolicies(size int) ([]Policy, bool) {
	if size < 0 || size > ls.Count() {
		return nil, false
	}
	out := make([]Policy, size)
	copy(out, (*ls)[:size])
	*ls = (*ls)[size:]
	return out, true
}

// Remove deletes the first card of kind p. It reports false when p is not held.
func (ls *List) Remove(p Policy) bool {
	for i, c := range *ls {
		if c == p {
			*ls = append((*ls)[:i], (*ls)[i+1:]...)
			return true
		}
	}
	return false
}

// Distinct returns the card kinds present, Liberal first.
func (ls List) Distinct() []Policy {
	out := make([]Policy, 0, 2)
	for _, p := range []Policy{Liberal, Fascist} {
		if ls.Contains(p) {
			out = append(out, p)
		}
	}
	return out
}

func (ls List) String() string {
	names := make([]string, 0, len(ls))
	for _, p := range ls {
		names = append(names, p.String())
	}
	return "[" + strings.Join(names, ", ") + "]"
}
