package transcript

import (
	"sync"
	"time"
)

// Sink receives transcript records in emission order.
type Sink interface {
	Emit(rec Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Record)

func (f SinkFunc) Emit(rec Record) { f(rec) }

// MultiSink fans a record out to every non-nil sink.
type MultiSink []Sink

func (m MultiSink) Emit(rec Record) {
	for _, s := range m {
		if s != nil {
			s.Emit(rec)
		}
	}
}

// Tape stamps records with the game ID, a sequence number and a timestamp,
// keeps them in memory and forwards them downstream.
type Tape struct {
	mu         sync.Mutex
	gameID     string
	seq        uint64
	records    []Record
	downstream MultiSink
	now        func() time.Time
}

func NewTape(gameID string, downstream ...Sink) *Tape {
	return &Tape{
		gameID:     gameID,
		downstream: MultiSink(downstream),
		now:        time.Now,
	}
}

func (t *Tape) GameID() string { return t.gameID }

// Emit stamps and stores rec. Downstream sinks are called under the tape
// lock so they observe records in sequence order.
func (t *Tape) Emit(rec Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	rec.GameID = t.gameID
	rec.Seq = t.seq
	if rec.TimeMs == 0 {
		rec.TimeMs = t.now().UnixMilli()
	}
	t.records = append(t.records, rec)
	t.downstream.Emit(rec)
}

// Records returns a copy of everything emitted so far.
func (t *Tape) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Record(nil), t.records...)
}

func (t *Tape) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Filter returns the records for which keep reports true.
func Filter(recs []Record, keep func(Record) bool) []Record {
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
