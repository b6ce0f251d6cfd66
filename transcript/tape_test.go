package transcript

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTape_StampsAndForwardsInOrder(t *testing.T) {
	var forwarded []uint64
	tape := NewTape("g1", SinkFunc(func(r Record) { forwarded = append(forwarded, r.Seq) }), nil)
	for i := 0; i < 3; i++ {
		tape.Emit(Record{Round: 1, Phase: "voting", Kind: KindDecision, Participant: "Alice"})
	}
	recs := tape.Records()
	if len(recs) != 3 || tape.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, r := range recs {
		if r.GameID != "g1" || r.Seq != uint64(i+1) {
			t.Fatalf("record %d stamped wrong: %+v", i, r)
		}
		if r.TimeMs == 0 {
			t.Fatalf("record %d missing timestamp", i)
		}
	}
	if diff := cmp.Diff([]uint64{1, 2, 3}, forwarded); diff != "" {
		t.Fatalf("forward order mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecode_PreservesRecord(t *testing.T) {
	rec := Record{
		GameID:      "g1",
		Seq:         42,
		Round:       3,
		Phase:       "reflection_post_vote",
		Kind:        KindDecision,
		Participant: "Carol",
		Internal:    "Bob looks shady",
		External:    "I trust the government",
		Decision:    "na",
		Trust: map[string]Trust{
			"Bob": {Reasoning: "voted Ja twice", Score: 2},
		},
		TimeMs: 1700000000000,
	}
	b64, err := EncodeB64(rec)
	if err != nil {
		t.Fatalf("EncodeB64 err: %v", err)
	}
	got, err := DecodeB64(b64)
	if err != nil {
		t.Fatalf("DecodeB64 err: %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	event := Record{GameID: "g1", Seq: 43, Round: 3, Phase: "tally", Kind: KindEvent, Event: "election_failed", Fields: map[string]string{"ja": "2"}}
	data, err := ToJSON(event)
	if err != nil {
		t.Fatalf("ToJSON err: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("json output invalid: %v", err)
	}
	if m["event"] != "election_failed" || m["kind"] != "event" {
		t.Fatalf("unexpected json: %s", data)
	}
}

func TestDecode_RejectsUnknownKind(t *testing.T) {
	if _, err := DecodeB64("!!"); err == nil {
		t.Fatalf("expected base64 error")
	}
	data, err := Encode(Record{Kind: 9})
	if err != nil {
		t.Fatalf("Encode err: %v", err)
	}
	if _, err := Decode(data); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestFilter(t *testing.T) {
	recs := []Record{{Kind: KindEvent}, {Kind: KindDecision}, {Kind: KindEvent}}
	got := Filter(recs, func(r Record) bool { return r.Kind == KindEvent })
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
}
