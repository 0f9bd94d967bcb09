// Package metrics times units of actor work and exports the resulting
// Operation records.
package metrics

import (
	"time"

	"lockstep/internal/core"
)

// Operation is a named, per-actor source of timers. An Operation and the
// timers it starts belong to a single actor goroutine.
type Operation struct {
	actor    string
	actorID  int
	name     string
	phase    core.PhaseNumber
	reporter core.Reporter
	clock    core.Clock
}

// OperationOption configures an Operation.
type OperationOption func(*Operation)

// WithClock overrides the clock used for timestamps.
func WithClock(clock core.Clock) OperationOption {
	return func(o *Operation) {
		o.clock = clock
	}
}

// NewOperation creates an Operation reporting to reporter.
func NewOperation(actor string, actorID int, name string, reporter core.Reporter, opts ...OperationOption) *Operation {
	if reporter == nil {
		reporter = core.NullReporter
	}
	o := &Operation{
		actor:    actor,
		actorID:  actorID,
		name:     name,
		reporter: reporter,
		clock:    core.RealClock{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name returns the operation name.
func (o *Operation) Name() string {
	return o.name
}

// EnterPhase tags records of subsequently started timers with phase.
func (o *Operation) EnterPhase(phase core.PhaseNumber) {
	o.phase = phase
}

// Start captures the start timestamp of one unit of work.
func (o *Operation) Start() Timer {
	return Timer{op: o, phase: o.phase, start: o.clock.Now()}
}

// Time runs fn inside a timer, recording success with weight or failure
// with the returned error.
func (o *Operation) Time(fn func() (weight int64, err error)) error {
	t := o.Start()
	weight, err := fn()
	if err != nil {
		t.Fail(err)
		return err
	}
	t.Success(weight)
	return nil
}

// Timer measures one unit of work. It is a value type so starting a timer
// does not allocate. Only the first Success, Fail or Discard has an effect.
type Timer struct {
	op       *Operation
	phase    core.PhaseNumber
	start    time.Time
	finished bool
}

// Success records the unit of work as successful with the given weight.
func (t *Timer) Success(weight int64) {
	t.finish(true, weight, "")
}

// Fail records the unit of work as failed.
func (t *Timer) Fail(err error) {
	msg := "failed"
	if err != nil {
		msg = err.Error()
	}
	t.finish(false, 0, msg)
}

// Discard drops the measurement without reporting it.
func (t *Timer) Discard() {
	t.finished = true
}

func (t *Timer) finish(success bool, weight int64, errMsg string) {
	if t.finished || t.op == nil {
		return
	}
	t.finished = true

	t.op.reporter.Report(core.Operation{
		Actor:     t.op.actor,
		ActorID:   t.op.actorID,
		Name:      t.op.name,
		Phase:     t.phase,
		Timestamp: t.start,
		Duration:  t.op.clock.Since(t.start),
		Success:   success,
		Weight:    weight,
		Error:     errMsg,
	})
}
