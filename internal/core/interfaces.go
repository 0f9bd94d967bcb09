// Package core defines the fundamental types shared by the lockstep harness.
package core

import (
	"context"
	"time"
)

// PhaseNumber identifies one globally numbered stage of a workload run.
// Phase numbers start at 0 and only ever increase.
type PhaseNumber int

// Operation is a single measurement of one unit of work performed by an actor.
// Records are immutable once emitted.
type Operation struct {
	Actor     string
	ActorID   int
	Name      string
	Phase     PhaseNumber
	Timestamp time.Time
	Duration  time.Duration
	Success   bool
	Weight    int64 // Bytes, documents or any other size the actor attributes to the op
	Error     string
}

// Reporter receives Operation records. Implementations must be safe for
// concurrent use by every actor goroutine.
type Reporter interface {
	Report(Operation)
}

// Actor is one independently scheduled unit of workload logic.
// Run is called once on the actor's own goroutine and returns when the
// actor's phase loop is exhausted.
type Actor interface {
	Name() string
	Run(ctx context.Context) error
}

// NullReporter discards all operations.
var NullReporter Reporter = nullReporter{}

type nullReporter struct{}

func (nullReporter) Report(Operation) {}

// MultiReporter fans every operation out to each of its reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(op Operation) {
	for _, r := range m {
		r.Report(op)
	}
}
