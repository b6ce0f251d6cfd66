package transcript

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct converts rec to a protobuf Struct, the envelope stored by the
// ledger and pushed to spectators.
func ToStruct(rec Record) (*structpb.Struct, error) {
	m := map[string]any{
		"game_id": rec.GameID,
		"seq":     float64(rec.Seq),
		"round":   rec.Round,
		"phase":   rec.Phase,
		"kind":    rec.Kind.String(),
		"time_ms": float64(rec.TimeMs),
	}
	if rec.Participant != "" {
		m["participant"] = rec.Participant
		m["internal"] = rec.Internal
		m["external"] = rec.External
		m["decision"] = rec.Decision
	}
	if len(rec.Trust) > 0 {
		trust := make(map[string]any, len(rec.Trust))
		for name, a := range rec.Trust {
			trust[name] = map[string]any{"reasoning": a.Reasoning, "score": a.Score}
		}
		m["trust"] = trust
	}
	if rec.Event != "" {
		m["event"] = rec.Event
	}
	if len(rec.Fields) > 0 {
		fields := make(map[string]any, len(rec.Fields))
		for k, v := range rec.Fields {
			fields[k] = v
		}
		m["fields"] = fields
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("build record struct: %w", err)
	}
	return st, nil
}

// FromStruct is the inverse of ToStruct.
func FromStruct(st *structpb.Struct) (Record, error) {
	if st == nil {
		return Record{}, fmt.Errorf("nil record struct")
	}
	m := st.AsMap()
	rec := Record{
		GameID:      str(m, "game_id"),
		Seq:         uint64(num(m, "seq")),
		Round:       int(num(m, "round")),
		Phase:       str(m, "phase"),
		Kind:        parseKind(str(m, "kind")),
		Participant: str(m, "participant"),
		Internal:    str(m, "internal"),
		External:    str(m, "external"),
		Decision:    str(m, "decision"),
		Event:       str(m, "event"),
		TimeMs:      int64(num(m, "time_ms")),
	}
	if rec.Kind == 0 {
		return Record{}, fmt.Errorf("record %d: unknown kind %q", rec.Seq, str(m, "kind"))
	}
	if raw, ok := m["trust"].(map[string]any); ok {
		rec.Trust = make(map[string]Trust, len(raw))
		for name, v := range raw {
			entry, _ := v.(map[string]any)
			rec.Trust[name] = Trust{Reasoning: str(entry, "reasoning"), Score: num(entry, "score")}
		}
	}
	if raw, ok := m["fields"].(map[string]any); ok {
		rec.Fields = make(map[string]string, len(raw))
		for k := range raw {
			rec.Fields[k] = str(raw, k)
		}
	}
	return rec, nil
}

// Encode returns the protobuf wire bytes of rec.
func Encode(rec Record) ([]byte, error) {
	st, err := ToStruct(rec)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func Decode(data []byte) (Record, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return FromStruct(&st)
}

// EncodeB64 is Encode wrapped in standard base64, the form persisted in
// envelope_b64 columns.
func EncodeB64(rec Record) (string, error) {
	data, err := Encode(rec)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func DecodeB64(s string) (Record, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Record{}, fmt.Errorf("decode envelope: %w", err)
	}
	return Decode(data)
}

// ToJSON renders rec as canonical protobuf JSON for spectators.
func ToJSON(rec Record) ([]byte, error) {
	st, err := ToStruct(rec)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(st)
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	f, _ := m[key].(float64)
	return f
}
