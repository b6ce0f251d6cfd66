package agent

// PersonalityProfile defines the tunable parameters for a RuleProvider.
type PersonalityProfile struct {
	Agreeableness float64 `json:"agreeableness"` // 0.0–1.0: tendency to vote Ja / agree
	Suspicion     float64 `json:"suspicion"`     // 0.0–1.0: lowers trust scores
	Vetoing       float64 `json:"vetoing"`       // 0.0–1.0: chance to propose a veto when offered
	Randomness    float64 `json:"randomness"`    // 0.0–1.0: decision noise
}

// Persona defines a named player character.
type Persona struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Tagline   string             `json:"tagline"`
	Style     string             `json:"style"`
	Profile   PersonalityProfile `json:"profile"`
	AvatarKey string             `json:"avatarKey,omitempty"`
}

var defaultProfile = PersonalityProfile{
	Agreeableness: 0.6,
	Suspicion:     0.4,
	Vetoing:       0.2,
	Randomness:    0.3,
}
