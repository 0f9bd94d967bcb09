package core

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrRegistration is returned when a participant registers after the run started.
	ErrRegistration = errors.New("registration after run start")

	// ErrConfiguration marks malformed phase configuration. It is always
	// surfaced before any actor goroutine starts.
	ErrConfiguration = errors.New("invalid phase configuration")

	// ErrStaleReport is returned once stale completion reports exceed the
	// configured limit. Below the limit stale reports are only logged.
	ErrStaleReport = errors.New("stale phase completion report")

	// ErrProtocol marks a mis-ordered call into the orchestrator, such as a
	// completion report for a phase that has not started.
	ErrProtocol = errors.New("phase protocol violation")
)

// ActorFailure wraps an error raised by an actor's domain logic together with
// where it happened. Recovered panics are reported as ActorFailure too.
type ActorFailure struct {
	Actor string
	ID    int
	Phase PhaseNumber
	Err   error
}

func (f *ActorFailure) Error() string {
	return fmt.Sprintf("actor %s#%d failed in phase %d: %v", f.Actor, f.ID, f.Phase, f.Err)
}

func (f *ActorFailure) Unwrap() error {
	return f.Err
}

// PanicError wraps a value recovered from a panicking actor.
type PanicError struct {
	Value interface{}
	Stack string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}
