// Package coordinator manages actor lifecycle and orchestration.
package coordinator

import (
	"context"
	stderrors "errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lockstep/internal/actors"
	"lockstep/internal/config"
	"lockstep/internal/core"
	"lockstep/internal/orchestrator"
	"lockstep/internal/sharedstate"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger handed to the orchestrator, the registry and
// every actor.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock used by the barrier, phase loops and operation
// timers.
func WithClock(clock core.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithHTTPTimeout bounds every request sent by HTTP actors.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.httpTimeout = d
	}
}

// WithOrchestratorOptions passes options through to the barrier.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(c *Coordinator) {
		c.orchOpts = append(c.orchOpts, opts...)
	}
}

type member struct {
	actor core.Actor
	name  string
	id    int
}

// Coordinator runs one workload: it builds every actor thread, starts the
// barrier and waits for all of them. A Coordinator runs once.
type Coordinator struct {
	reporter    core.Reporter
	logger      *zap.Logger
	clock       core.Clock
	httpTimeout time.Duration
	orchOpts    []orchestrator.Option

	orch        *orchestrator.Orchestrator
	registry    *sharedstate.Registry
	ran         atomic.Bool
	activeCount atomic.Int32

	mu       sync.Mutex
	failures []error
}

func NewCoordinator(reporter core.Reporter, opts ...Option) *Coordinator {
	c := &Coordinator{
		reporter: reporter,
		logger:   zap.NewNop(),
		clock:    core.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reporter == nil {
		c.reporter = core.NullReporter
	}
	c.orch = orchestrator.New(append([]orchestrator.Option{
		orchestrator.WithLogger(c.logger),
		orchestrator.WithClock(c.clock),
	}, c.orchOpts...)...)
	c.registry = sharedstate.New(sharedstate.WithLogger(c.logger))
	return c
}

// Orchestrator returns the barrier of the run.
func (c *Coordinator) Orchestrator() *orchestrator.Orchestrator {
	return c.orch
}

// CurrentPhase returns the global phase of the run.
func (c *Coordinator) CurrentPhase() core.PhaseNumber {
	return c.orch.CurrentPhase()
}

// PhaseCount returns the number of phases of the run.
func (c *Coordinator) PhaseCount() int {
	return c.orch.PhaseCount()
}

// ActiveActors returns the number of actor threads still running.
func (c *Coordinator) ActiveActors() int {
	return int(c.activeCount.Load())
}

// Run builds and runs every actor of w and returns once all of them are
// done. Configuration errors are returned before any actor starts. Actor
// failures do not stop the other actors; they are returned joined, each as
// a *core.ActorFailure. Cancelling ctx stops the run at the next phase
// boundary and is not an error.
func (c *Coordinator) Run(ctx context.Context, w *config.Workload) error {
	if c.ran.Swap(true) {
		return errors.Wrap(core.ErrProtocol, "coordinator already ran")
	}
	defer func() {
		if err := c.registry.Close(); err != nil {
			c.logger.Warn("closing shared state", zap.Error(err))
		}
	}()

	if err := w.Validate(); err != nil {
		c.orch.RequestStop()
		return err
	}
	members, err := c.build(w)
	if err != nil {
		c.orch.RequestStop()
		return err
	}

	c.logger.Info("starting workload",
		zap.String("workload", w.Name),
		zap.Int("actors", len(members)),
		zap.Int("phases", c.orch.PhaseCount()))
	c.orch.Start()

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			c.logger.Info("workload interrupted", zap.Error(ctx.Err()))
			c.orch.RequestStop()
		case <-finished:
		}
	}()

	var g errgroup.Group
	for _, m := range members {
		c.activeCount.Add(1)
		g.Go(func() error {
			defer c.activeCount.Add(-1)
			c.runActor(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Info("workload finished",
		zap.String("workload", w.Name),
		zap.Int("phase", int(c.orch.CurrentPhase())),
		zap.Int("failures", len(c.failures)))
	return stderrors.Join(c.failures...)
}

func (c *Coordinator) build(w *config.Workload) ([]member, error) {
	env := actors.Env{
		Barrier:     c.orch,
		Registry:    c.registry,
		Reporter:    c.reporter,
		Logger:      c.logger,
		Clock:       c.clock,
		Dir:         w.Dir,
		HTTPTimeout: c.httpTimeout,
	}

	var members []member
	for _, ac := range w.Actors {
		build, err := actors.Lookup(ac.Type)
		if err != nil {
			return nil, errors.WithMessagef(err, "actor %s", ac.Name)
		}
		for id := 0; id < ac.Threads; id++ {
			a, err := build(env, ac, id)
			if err != nil {
				return nil, errors.WithMessagef(err, "building actor %s#%d", ac.Name, id)
			}
			members = append(members, member{actor: a, name: ac.Name, id: id})
		}
	}
	return members, nil
}

func (c *Coordinator) runActor(ctx context.Context, m member) {
	err := c.call(ctx, m)
	if err == nil {
		return
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}

	var failure *core.ActorFailure
	if !errors.As(err, &failure) {
		failure = &core.ActorFailure{Actor: m.name, ID: m.id, Phase: c.orch.CurrentPhase(), Err: err}
	}
	c.logger.Error("actor failed",
		zap.String("actor", failure.Actor),
		zap.Int("id", failure.ID),
		zap.Int("phase", int(failure.Phase)),
		zap.Error(failure.Err))

	c.mu.Lock()
	c.failures = append(c.failures, failure)
	c.mu.Unlock()
}

// call runs the actor and turns a panic into a *core.PanicError.
func (c *Coordinator) call(ctx context.Context, m member) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &core.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return m.actor.Run(ctx)
}
