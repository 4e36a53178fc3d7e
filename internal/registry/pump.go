package registry

import (
	"context"
	"time"

	"github.com/fleetline/mdmclient/internal/agenterr"
)

var errStopRequested = agenterr.New(agenterr.StopRequested, "registry.AwaitDone", "", nil)

// StopToken is the process-wide cooperative-cancellation flag consulted by
// the Resolver at recursion boundaries and by the Executor between items
// (§5). Unlike context.Context cancellation (used for timeouts on individual
// suspension points), a StopToken models an operator-requested stop that
// should unwind cleanly without treating the unwind as an error.
type StopToken struct {
	ch chan struct{}
}

// NewStopToken constructs an unset token.
func NewStopToken() *StopToken {
	return &StopToken{ch: make(chan struct{})}
}

// Stop requests cooperative cancellation. Safe to call more than once.
func (s *StopToken) Stop() {
	select {
	case <-s.ch:
	default:
		close(s.ch)
	}
}

// Requested reports whether Stop has been called.
func (s *StopToken) Requested() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// PollResolution is the cadence at which AwaitDone polls a completion flag,
// per §5. Its one caller is the Executor's launchd-job state query.
const PollResolution = 100 * time.Millisecond

// AwaitDone polls done at PollResolution until it reports true, the stop
// token is tripped, or ctx is cancelled. Grounded on the teacher's
// scheduler.Scheduler tick loop (internal/scheduler/scheduler.go), which
// drives work off the same fixed-resolution ticker; here the ticker drives a
// cooperative poll of a delegate's completion flag instead of dispatching
// scheduled jobs.
func AwaitDone(ctx context.Context, stop *StopToken, done func() bool) error {
	if done() {
		return nil
	}
	ticker := time.NewTicker(PollResolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if stop != nil && stop.Requested() {
				return errStopRequested
			}
			if done() {
				return nil
			}
		}
	}
}
