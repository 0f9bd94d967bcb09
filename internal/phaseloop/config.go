package phaseloop

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"lockstep/internal/core"
	"lockstep/internal/ratelimit"
)

// StopKind selects how a phase decides it is finished for one actor.
type StopKind int

const (
	// StopNone makes the phase a no-op: the actor joins the barrier and
	// does no work.
	StopNone StopKind = iota
	// StopIterations yields a fixed number of tokens.
	StopIterations
	// StopDuration yields tokens until a wall-clock duration has elapsed.
	StopDuration
	// StopExternal yields tokens until the phase's end signal is raised.
	StopExternal
)

func (k StopKind) String() string {
	switch k {
	case StopNone:
		return "none"
	case StopIterations:
		return "iterations"
	case StopDuration:
		return "duration"
	case StopExternal:
		return "external"
	}
	return fmt.Sprintf("StopKind(%d)", int(k))
}

// StopCondition is the stopping rule of one phase for one actor.
type StopCondition struct {
	Kind       StopKind
	Iterations int
	Duration   time.Duration
}

func Iterations(n int) StopCondition { return StopCondition{Kind: StopIterations, Iterations: n} }
func Duration(d time.Duration) StopCondition { return StopCondition{Kind: StopDuration, Duration: d} }
func External() StopCondition { return StopCondition{Kind: StopExternal} }
func None() StopCondition { return StopCondition{} }

func (s StopCondition) String() string {
	switch s.Kind {
	case StopIterations:
		return fmt.Sprintf("iterations(%d)", s.Iterations)
	case StopDuration:
		return fmt.Sprintf("duration(%s)", s.Duration)
	}
	return s.Kind.String()
}

// Validate checks the condition is well formed.
func (s StopCondition) Validate() error {
	switch s.Kind {
	case StopNone, StopExternal:
		return nil
	case StopIterations:
		if s.Iterations < 0 {
			return errors.Wrapf(core.ErrConfiguration, "negative iteration count %d", s.Iterations)
		}
		return nil
	case StopDuration:
		if s.Duration < 0 {
			return errors.Wrapf(core.ErrConfiguration, "negative duration %s", s.Duration)
		}
		return nil
	}
	return errors.Wrapf(core.ErrConfiguration, "unknown stop condition %s", s.Kind)
}

// PhaseConfig describes one phase of one actor. T is the actor's own
// per-phase payload; it may be nil.
type PhaseConfig[T any] struct {
	Stop StopCondition

	// SleepBefore and SleepAfter pause the actor around every token.
	SleepBefore time.Duration
	SleepAfter  time.Duration

	// RateLimit throttles tokens across every loop sharing the same rate
	// limit group and phase.
	RateLimit ratelimit.Rate

	Config *T
}

// Validate checks the phase is well formed.
func (c PhaseConfig[T]) Validate() error {
	if err := c.Stop.Validate(); err != nil {
		return err
	}
	if c.SleepBefore < 0 || c.SleepAfter < 0 {
		return errors.Wrapf(core.ErrConfiguration, "negative sleep (before %s, after %s)", c.SleepBefore, c.SleepAfter)
	}
	if c.RateLimit.Events < 0 || c.RateLimit.Per < 0 {
		return errors.Wrapf(core.ErrConfiguration, "negative rate limit %s", c.RateLimit)
	}
	return nil
}
