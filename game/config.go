package game

import (
	"fmt"
	"strings"

	"secrethitler-lite/policy"
)

// Seat is one roster entry.
type Seat struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

type Config struct {
	GameID string

	// Roster must hold five uniquely named players: three Liberals, one
	// Fascist and Hitler.
	Roster []Seat

	// RNG seed (0 => time-based)
	Seed int64

	// ShuffleSeats randomizes seating order once at setup.
	ShuffleSeats bool

	// MaxRounds stops a runaway game (0 disables the limit).
	MaxRounds int

	// DeckOrder fixes the draw pile, top first; tests only.
	DeckOrder []policy.Policy
}

// StandardRoster is the fixed five-player roster.
func StandardRoster() []Seat {
	return []Seat{
		{Name: "Alice", Role: RoleLiberal},
		{Name: "Bob", Role: RoleFascist},
		{Name: "Carol", Role: RoleLiberal},
		{Name: "Dave", Role: RoleHitler},
		{Name: "Eve", Role: RoleLiberal},
	}
}

func (c Config) validate() error {
	if len(c.Roster) != PlayerCount {
		return fmt.Errorf("roster must have %d players, got %d", PlayerCount, len(c.Roster))
	}
	seen := make(map[string]bool, len(c.Roster))
	counts := make(map[Role]int, 3)
	for _, s := range c.Roster {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("player name must not be empty")
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("duplicate player name %q", name)
		}
		seen[key] = true
		if _, ok := RoleTypeDictionary[s.Role]; !ok {
			return fmt.Errorf("player %q has invalid role %d", name, s.Role)
		}
		counts[s.Role]++
	}
	if counts[RoleLiberal] != 3 || counts[RoleFascist] != 1 || counts[RoleHitler] != 1 {
		return fmt.Errorf("roster must have 3 Liberals, 1 Fascist and Hitler, got %d/%d/%d",
			counts[RoleLiberal], counts[RoleFascist], counts[RoleHitler])
	}
	if c.MaxRounds < 0 {
		return fmt.Errorf("MaxRounds must be >= 0")
	}
	return nil
}
