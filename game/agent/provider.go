package agent

import (
	"context"
	"strings"
)

// Session is the opaque per-participant conversation handle. A provider
// keeps the participant's history under it for the whole game.
type Session struct {
	ID          string
	Participant string
}

// Message is one decision request as handed to a provider.
//
// ID names the decision. Every attempt of one Decide call carries the same
// ID, so a provider that keeps a conversation can add the prompt once and
// only start a new run on retry.
type Message struct {
	ID          string
	Participant string
	Phase       string
	Variant     Variant
	Content     string
	Schema      Schema
	Choices     []string
	Others      []string
}

// RunStatus 请求运行状态
type RunStatus byte

const (
	RunStatusUnknown    RunStatus = 0
	RunStatusQueued     RunStatus = 1
	RunStatusInProgress RunStatus = 2
	RunStatusCompleted  RunStatus = 3
	RunStatusExpired    RunStatus = 4
	RunStatusFailed     RunStatus = 5
	RunStatusCancelling RunStatus = 6
	RunStatusCancelled  RunStatus = 7
)

var RunStatusTypeDictionary = map[RunStatus]string{
	RunStatusUnknown:    "unknown",
	RunStatusQueued:     "queued",
	RunStatusInProgress: "in_progress",
	RunStatusCompleted:  "completed",
	RunStatusExpired:    "expired",
	RunStatusFailed:     "failed",
	RunStatusCancelling: "cancelling",
	RunStatusCancelled:  "cancelled",
}

func (s RunStatus) String() string { return RunStatusTypeDictionary[s] }

// ParseRunStatus maps a provider status string. "incomplete" is treated as
// a failure and "requires_action" as still running.
func ParseRunStatus(s string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued":
		return RunStatusQueued
	case "in_progress", "requires_action":
		return RunStatusInProgress
	case "completed":
		return RunStatusCompleted
	case "expired":
		return RunStatusExpired
	case "failed", "incomplete":
		return RunStatusFailed
	case "cancelling":
		return RunStatusCancelling
	case "cancelled":
		return RunStatusCancelled
	default:
		return RunStatusUnknown
	}
}

// Terminal reports whether a run in this status will not change again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusExpired, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Run is the provider's view of one submitted request.
type Run struct {
	ID        string
	Status    RunStatus
	Usage     Usage
	LastError *RunError
	// Output holds the assistant reply once Status is completed.
	Output string
}

// Provider is the external decision service.
//
// Submit errors wrapping ErrRateLimited are retried after the rate-limit
// delay; errors wrapping ErrProviderFatal are never retried.
type Provider interface {
	OpenSession(ctx context.Context, participant string) (Session, error)
	Submit(ctx context.Context, s Session, msg Message) (runID string, err error)
	Poll(ctx context.Context, s Session, runID string) (Run, error)
	Cancel(ctx context.Context, s Session, runID string) error
	CloseSession(ctx context.Context, s Session) error
	// Name returns a human-readable identifier for logs.
	Name() string
}
