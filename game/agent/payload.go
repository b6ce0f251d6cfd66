package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Variant selects the payload shape a participant answers with.
type Variant byte

const (
	VariantOrdinary Variant = 1
	VariantTrust    Variant = 2 // also carries a trust assessment per other alive player
)

var VariantTypeDictionary = map[Variant]string{
	VariantOrdinary: "ordinary",
	VariantTrust:    "trust",
}

func (v Variant) String() string { return VariantTypeDictionary[v] }

const (
	MinTrustScore = 0
	MaxTrustScore = 5
)

// Statement is the part every decision payload shares.
type Statement struct {
	Internal string `json:"internal_dialogue"`
	External string `json:"external_dialogue"`
	Decision string `json:"decision"`
}

// TrustAssessment is one entry of a trust map.
type TrustAssessment struct {
	Reasoning string  `json:"trust_reasoning"`
	Score     float64 `json:"trust_score"`
}

// Payload is a decoded decision. It is either an OrdinaryPayload or a
// TrustPayload, fixed by the participant's Variant.
type Payload interface {
	Variant() Variant
	Base() Statement
}

type OrdinaryPayload struct {
	Statement
}

func (OrdinaryPayload) Variant() Variant  { return VariantOrdinary }
func (p OrdinaryPayload) Base() Statement { return p.Statement }

type TrustPayload struct {
	Statement
	Trust map[string]TrustAssessment `json:"trust"`
}

func (TrustPayload) Variant() Variant  { return VariantTrust }
func (p TrustPayload) Base() Statement { return p.Statement }

// TrustOf returns the trust map of p, or nil for ordinary payloads.
func TrustOf(p Payload) map[string]TrustAssessment {
	if tp, ok := p.(TrustPayload); ok {
		return tp.Trust
	}
	return nil
}

type wirePayload struct {
	Statement
	Trust map[string]TrustAssessment `json:"trust,omitempty"`
}

// DecodePayload parses raw model output into the payload shape of v.
// Malformed output returns an empty payload of the right variant plus an
// error; callers fall back instead of retrying.
func DecodePayload(v Variant, raw string) (Payload, error) {
	var w wirePayload
	cleaned := stripCodeFence(raw)
	err := json.Unmarshal([]byte(cleaned), &w)
	if err == nil && strings.TrimSpace(w.External) == "" && strings.TrimSpace(w.Decision) == "" && strings.TrimSpace(w.Internal) == "" {
		err = fmt.Errorf("payload has no dialogue or decision fields")
	}
	if err != nil {
		if v == VariantTrust {
			return TrustPayload{}, fmt.Errorf("decode %s payload: %w", v, err)
		}
		return OrdinaryPayload{}, fmt.Errorf("decode %s payload: %w", v, err)
	}

	if v != VariantTrust {
		return OrdinaryPayload{Statement: w.Statement}, nil
	}
	trust := make(map[string]TrustAssessment, len(w.Trust))
	for name, a := range w.Trust {
		a.Score = clampScore(a.Score)
		trust[name] = a
	}
	return TrustPayload{Statement: w.Statement, Trust: trust}, nil
}

// EncodePayload renders p in the wire shape providers are asked to return.
func EncodePayload(p Payload) (string, error) {
	w := wirePayload{Statement: p.Base(), Trust: TrustOf(p)}
	raw, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clampScore(v float64) float64 {
	if v < MinTrustScore {
		return MinTrustScore
	}
	if v > MaxTrustScore {
		return MaxTrustScore
	}
	return v
}
