package policy

import (
	"fmt"
	"strings"
)

// Policy is a single policy card.
type Policy byte

const (
	PolicyInvalid Policy = 0
	Liberal       Policy = 1
	Fascist       Policy = 2
)

var PolicyTypeDictionary = map[Policy]string{
	PolicyInvalid: "Invalid",
	Liberal:       "Liberal",
	Fascist:       "Fascist",
}

// Deck composition for the fixed rule set.
const (
	LiberalCount = 6
	FascistCount = 11
	TotalCount   = LiberalCount + FascistCount

	// HandSize is the number of cards drawn for a legislative session.
	HandSize = 3
)

func (p Policy) String() string {
	if s, ok := PolicyTypeDictionary[p]; ok {
		return s
	}
	return fmt.Sprintf("Policy(%d)", byte(p))
}

func (p Policy) Valid() bool {
	return p == Liberal || p == Fascist
}

// Parse matches a card name exactly, ignoring case and surrounding space.
func Parse(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "liberal":
		return Liberal, nil
	case "fascist":
		return Fascist, nil
	default:
		return PolicyInvalid, fmt.Errorf("invalid policy: %q", s)
	}
}
