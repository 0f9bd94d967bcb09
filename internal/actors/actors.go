// Package actors holds the actor types a workload file can name.
package actors

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"lockstep/internal/config"
	"lockstep/internal/core"
	"lockstep/internal/phaseloop"
	"lockstep/internal/sharedstate"
)

// Env carries the run-wide dependencies of every actor.
type Env struct {
	Barrier  phaseloop.Barrier
	Registry *sharedstate.Registry
	Reporter core.Reporter
	Logger   *zap.Logger
	Clock    core.Clock

	// Dir resolves relative paths in actor payloads.
	Dir string
	// HTTPTimeout bounds every request of HTTP actors. Zero means no limit.
	HTTPTimeout time.Duration
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Clock == nil {
		e.Clock = core.RealClock{}
	}
	if e.Reporter == nil {
		e.Reporter = core.NullReporter
	}
	return e
}

func (e Env) loopOptions(group string) []phaseloop.Option {
	opts := []phaseloop.Option{
		phaseloop.WithClock(e.Clock),
		phaseloop.WithLogger(e.Logger),
		phaseloop.WithRateLimitGroup(group),
	}
	if e.Registry != nil {
		opts = append(opts, phaseloop.WithRegistry(e.Registry))
	}
	return opts
}

// Builder constructs the actor running thread id of actor group cfg. The
// actor registers with env.Barrier before Builder returns.
type Builder func(env Env, cfg config.ActorConfig, id int) (core.Actor, error)

var builders = map[string]Builder{
	"HelloWorld":  NewHelloWorld,
	"HTTPRequest": NewHTTPRequest,
}

// Lookup returns the builder for an actor type.
func Lookup(typ string) (Builder, error) {
	b, ok := builders[typ]
	if !ok {
		return nil, errors.Wrapf(core.ErrConfiguration, "unknown actor type %q (known: %v)", typ, Types())
	}
	return b, nil
}

// Types lists the known actor types.
func Types() []string {
	types := make([]string, 0, len(builders))
	for t := range builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
