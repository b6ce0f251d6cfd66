package transcript

// Kind tells decision records from engine events.
type Kind byte

const (
	KindDecision Kind = 1
	KindEvent    Kind = 2
)

var KindTypeDictionary = map[Kind]string{
	KindDecision: "decision",
	KindEvent:    "event",
}

func (k Kind) String() string { return KindTypeDictionary[k] }

func parseKind(s string) Kind {
	for k, name := range KindTypeDictionary {
		if name == s {
			return k
		}
	}
	return 0
}

// Trust is one participant's read on another player.
type Trust struct {
	Reasoning string  `json:"reasoning"`
	Score     float64 `json:"score"`
}

// Record is one line of a game transcript: either a participant's reply in
// a phase or an event the engine produced (tally, enactment, removal, win).
type Record struct {
	GameID      string            `json:"game_id"`
	Seq         uint64            `json:"seq"`
	Round       int               `json:"round"`
	Phase       string            `json:"phase"`
	Kind        Kind              `json:"kind"`
	Participant string            `json:"participant,omitempty"`
	Internal    string            `json:"internal,omitempty"`
	External    string            `json:"external,omitempty"`
	Decision    string            `json:"decision,omitempty"`
	Trust       map[string]Trust  `json:"trust,omitempty"`
	Event       string            `json:"event,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	TimeMs      int64             `json:"time_ms"`
}
