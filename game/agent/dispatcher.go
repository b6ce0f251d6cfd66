package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Participant is a dispatch target. Dead participants are skipped.
type Participant struct {
	Name  string
	Alive bool
}

// OrderedTurn configures one ordered discussion.
type OrderedTurn struct {
	// Build makes the request for p given everything said so far.
	Build func(p Participant, pool string) Request
	// Line renders reply r of the i-th speaker into the shared pool.
	// Nil uses "<name> said:\n<external>\n\n".
	Line func(i int, p Participant, r Reply) string
}

// Dispatcher sequences batches of decision requests.
type Dispatcher struct {
	decider Decider
}

func NewDispatcher(decider Decider) *Dispatcher {
	return &Dispatcher{decider: decider}
}

// Ordered queries alive participants one at a time in the given order. Each
// request is built from the pool so far, which starts as seed and grows by
// one line per reply. It returns the replies in speaking order and the final
// pool.
func (d *Dispatcher) Ordered(ctx context.Context, order []Participant, seed string, turn OrderedTurn) ([]Reply, string, error) {
	if turn.Build == nil {
		return nil, seed, fmt.Errorf("ordered dispatch requires a request builder")
	}
	line := turn.Line
	if line == nil {
		line = DefaultLine
	}

	var pool strings.Builder
	pool.WriteString(seed)
	replies := make([]Reply, 0, len(order))
	spoken := 0
	for _, p := range order {
		if !p.Alive {
			continue
		}
		r, err := d.decider.Decide(ctx, turn.Build(p, pool.String()))
		if err != nil {
			return replies, pool.String(), fmt.Errorf("%s: %w", p.Name, err)
		}
		pool.WriteString(line(spoken, p, r))
		replies = append(replies, r)
		spoken++
	}
	return replies, pool.String(), nil
}

// Concurrent queries every alive participant in parallel against the same
// context. All calls run to completion; the first error is returned after
// the rest have drained, together with the replies that did succeed.
func (d *Dispatcher) Concurrent(ctx context.Context, participants []Participant, build func(p Participant) Request) (map[string]Reply, error) {
	alive := make([]Participant, 0, len(participants))
	for _, p := range participants {
		if p.Alive {
			alive = append(alive, p)
		}
	}
	results := make(map[string]Reply, len(alive))
	if len(alive) == 0 {
		return results, nil
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(len(alive))
	for _, p := range alive {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("%s: %w: %v", p.Name, ErrDecisionPanic, rec)
				}
			}()
			r, err := d.decider.Decide(ctx, build(p))
			if err != nil {
				return fmt.Errorf("%s: %w", p.Name, err)
			}
			mu.Lock()
			results[p.Name] = r
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// DefaultLine is the plain pool line used when no Line func is given.
func DefaultLine(_ int, p Participant, r Reply) string {
	return p.Name + " said:\n" + r.External() + "\n\n"
}
