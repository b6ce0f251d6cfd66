package game

import (
	"errors"
	"fmt"
)

var (
	ErrGameOver   = errors.New("game already over")
	ErrRoundLimit = errors.New("round limit reached")
)

type InvalidStateError string

func (e InvalidStateError) Error() string { return "invalid state: " + string(e) }

func ErrInvalidState(msg string) error { return InvalidStateError(msg) }

// FatalError aborts a game instance: a participant request failed after all
// retries or the context ended. Other instances are unaffected.
type FatalError struct {
	Round       int
	Phase       Phase
	Participant string
	Err         error
}

func (e *FatalError) Error() string {
	if e.Participant != "" {
		return fmt.Sprintf("game aborted (round=%d phase=%s participant=%s): %v", e.Round, e.Phase, e.Participant, e.Err)
	}
	return fmt.Sprintf("game aborted (round=%d phase=%s): %v", e.Round, e.Phase, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
