// Package phaseloop drives one actor through the phases of a workload.
//
// A Loop registers its actor with the orchestrator when it is built. The
// actor then ranges over Loop.Phases, and inside each phase over
// ActorPhase.Tokens:
//
//	for phase, ap := range loop.Phases(ctx) {
//		for range ap.Tokens() {
//			// one unit of work
//		}
//	}
//	return loop.Err()
//
// Finishing the body of the outer loop reports the phase complete and
// blocks until every other actor finished it too. Leaving the outer loop
// early, by break, return or panic, releases the actor's barrier slot so the
// remaining actors keep going.
package phaseloop

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"lockstep/internal/core"
	"lockstep/internal/orchestrator"
	"lockstep/internal/ratelimit"
	"lockstep/internal/sharedstate"
)

// Barrier is the part of the orchestrator a Loop depends on.
type Barrier interface {
	RegisterParticipant(orchestrator.Participant) (orchestrator.ParticipantID, error)
	AwaitPhaseStart(ctx context.Context, local core.PhaseNumber) (core.PhaseNumber, bool)
	ReportPhaseComplete(id orchestrator.ParticipantID, phase core.PhaseNumber) error
	Release(id orchestrator.ParticipantID)
	RequestStop()
	PhaseEnded(phase core.PhaseNumber) <-chan struct{}
	Stopped() <-chan struct{}
}

type options struct {
	clock     core.Clock
	logger    *zap.Logger
	registry  *sharedstate.Registry
	rateGroup string
}

// Option configures a Loop.
type Option func(*options)

// WithClock overrides the clock used for Duration phases and sleeps.
func WithClock(clock core.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry shares rate limiters through reg. Without a registry every
// Loop gets private limiters.
func WithRegistry(reg *sharedstate.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithRateLimitGroup names the group of loops that share rate limiters.
// It defaults to the actor name.
func WithRateLimitGroup(group string) Option {
	return func(o *options) {
		o.rateGroup = group
	}
}

// Loop is one actor's view of the workload phases. A Loop is owned by a
// single goroutine and its Phases sequence may be ranged over only once.
type Loop[T any] struct {
	barrier  Barrier
	id       orchestrator.ParticipantID
	name     string
	phases   []PhaseConfig[T]
	clock    core.Clock
	logger   *zap.Logger
	limiters map[core.PhaseNumber]*sharedstate.Handle[*ratelimit.RateLimiter]
	own      map[core.PhaseNumber]*ratelimit.RateLimiter
	err      error
	closed   bool
}

// New validates phases and registers the actor with barrier. Phases past the
// end of the list are treated as None.
func New[T any](barrier Barrier, name string, phases []PhaseConfig[T], opts ...Option) (*Loop[T], error) {
	o := options{
		clock:     core.RealClock{},
		logger:    zap.NewNop(),
		rateGroup: name,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var nonBlocking []core.PhaseNumber
	for i, p := range phases {
		if err := p.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "actor %s phase %d", name, i)
		}
		if p.Stop.Kind == StopExternal {
			nonBlocking = append(nonBlocking, core.PhaseNumber(i))
		}
	}

	l := &Loop[T]{
		barrier:  barrier,
		name:     name,
		phases:   phases,
		clock:    o.clock,
		logger:   o.logger.With(zap.String("actor", name)),
		limiters: make(map[core.PhaseNumber]*sharedstate.Handle[*ratelimit.RateLimiter]),
		own:      make(map[core.PhaseNumber]*ratelimit.RateLimiter),
	}
	if err := l.buildLimiters(o.registry, o.rateGroup); err != nil {
		l.releaseLimiters()
		return nil, err
	}

	id, err := barrier.RegisterParticipant(orchestrator.Participant{
		Name:        name,
		Phases:      len(phases),
		NonBlocking: nonBlocking,
	})
	if err != nil {
		l.releaseLimiters()
		return nil, err
	}
	l.id = id
	return l, nil
}

func (l *Loop[T]) buildLimiters(reg *sharedstate.Registry, group string) error {
	for i, p := range l.phases {
		if p.RateLimit.Zero() {
			continue
		}
		phase := core.PhaseNumber(i)
		rt := p.RateLimit
		if reg == nil {
			l.own[phase] = ratelimit.NewRateLimiter(rt)
			continue
		}
		h, err := sharedstate.Get(reg, fmt.Sprintf("%s/phase-%d", group, i), func() (*ratelimit.RateLimiter, error) {
			return ratelimit.NewRateLimiter(rt), nil
		})
		if err != nil {
			return errors.Wrapf(err, "rate limiter for %s phase %d", group, i)
		}
		l.limiters[phase] = h
	}
	return nil
}

func (l *Loop[T]) limiter(phase core.PhaseNumber) *ratelimit.RateLimiter {
	if h, ok := l.limiters[phase]; ok {
		return h.Value()
	}
	return l.own[phase]
}

// ID returns the actor's participant id.
func (l *Loop[T]) ID() orchestrator.ParticipantID {
	return l.id
}

// Err returns the barrier error that ended the loop, if any.
func (l *Loop[T]) Err() error {
	return l.err
}

// Close releases the actor's barrier slot and its rate limiters. It is
// called automatically when Phases finishes; calling it again is harmless.
func (l *Loop[T]) Close() {
	if l.closed {
		return
	}
	l.closed = true
	l.barrier.Release(l.id)
	l.releaseLimiters()
}

func (l *Loop[T]) releaseLimiters() {
	for _, h := range l.limiters {
		h.Release()
	}
}

// Phases returns the sequence of phases this actor takes part in. It ends
// when the run is done or ctx is cancelled.
func (l *Loop[T]) Phases(ctx context.Context) iter.Seq2[core.PhaseNumber, *ActorPhase[T]] {
	return func(yield func(core.PhaseNumber, *ActorPhase[T]) bool) {
		defer l.Close()

		local := core.PhaseNumber(-1)
		for {
			phase, ok := l.barrier.AwaitPhaseStart(ctx, local)
			if !ok {
				return
			}

			ap := l.enter(ctx, phase)
			cont := yield(phase, ap)
			ap.exit()
			if !cont {
				l.logger.Debug("left phase loop early", zap.Int("phase", int(phase)))
				return
			}

			if err := l.barrier.ReportPhaseComplete(l.id, phase); err != nil {
				l.logger.Error("phase completion rejected", zap.Int("phase", int(phase)), zap.Error(err))
				l.err = err
				l.barrier.RequestStop()
				return
			}
			local = phase
		}
	}
}

func (l *Loop[T]) enter(ctx context.Context, phase core.PhaseNumber) *ActorPhase[T] {
	cfg := PhaseConfig[T]{}
	if int(phase) < len(l.phases) {
		cfg = l.phases[phase]
	}

	ap := &ActorPhase[T]{
		loop:    l,
		ctx:     ctx,
		number:  phase,
		cfg:     cfg,
		limiter: l.limiter(phase),
	}
	switch cfg.Stop.Kind {
	case StopDuration:
		if cfg.Stop.Duration <= 0 {
			ap.expired.Store(true)
		} else {
			ap.stopTimer = l.clock.AfterFunc(cfg.Stop.Duration, func() { ap.expired.Store(true) })
		}
	case StopExternal:
		ap.ended = l.barrier.PhaseEnded(phase)
	}

	l.logger.Debug("entered phase", zap.Int("phase", int(phase)), zap.Stringer("stop", cfg.Stop))
	return ap
}

// ActorPhase is one actor's view of one phase. It is only valid inside the
// body of the Phases loop that produced it.
type ActorPhase[T any] struct {
	loop      *Loop[T]
	ctx       context.Context
	number    core.PhaseNumber
	cfg       PhaseConfig[T]
	limiter   *ratelimit.RateLimiter
	ended     <-chan struct{}
	expired   atomic.Bool
	stopTimer func() bool
	done      int
	stopped   bool
}

// Number returns the global phase number.
func (p *ActorPhase[T]) Number() core.PhaseNumber {
	return p.number
}

// Config returns the actor payload configured for this phase, or nil when
// the actor has no configuration for it.
func (p *ActorPhase[T]) Config() *T {
	return p.cfg.Config
}

// Condition returns the stopping condition of the phase.
func (p *ActorPhase[T]) Condition() StopCondition {
	return p.cfg.Stop
}

// Iterations returns the number of tokens yielded so far.
func (p *ActorPhase[T]) Iterations() int {
	return p.done
}

// Stop ends the phase for this actor after the current token.
func (p *ActorPhase[T]) Stop() {
	p.stopped = true
}

// Tokens yields one token per unit of work until the phase's stopping
// condition is met, ctx is cancelled or the run stops. Ranging over it again
// within the same phase resumes where the previous range left off.
func (p *ActorPhase[T]) Tokens() iter.Seq[int] {
	return func(yield func(int) bool) {
		done := p.ctx.Done()
		stopped := p.loop.barrier.Stopped()

		for p.more() {
			select {
			case <-done:
				return
			case <-stopped:
				return
			default:
			}

			if !p.sleep(p.cfg.SleepBefore) {
				return
			}
			if p.limiter != nil {
				if err := p.limiter.Wait(p.ctx); err != nil {
					return
				}
			}

			i := p.done
			p.done++
			if !yield(i) {
				return
			}

			if !p.sleep(p.cfg.SleepAfter) {
				return
			}
		}
	}
}

func (p *ActorPhase[T]) more() bool {
	if p.stopped {
		return false
	}
	switch p.cfg.Stop.Kind {
	case StopIterations:
		return p.done < p.cfg.Stop.Iterations
	case StopDuration:
		return !p.expired.Load()
	case StopExternal:
		select {
		case <-p.ended:
			return false
		default:
			return true
		}
	}
	return false
}

func (p *ActorPhase[T]) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	woke := make(chan struct{})
	cancel := p.loop.clock.AfterFunc(d, func() { close(woke) })
	defer cancel()
	select {
	case <-woke:
		return true
	case <-p.ctx.Done():
		return false
	case <-p.loop.barrier.Stopped():
		return false
	}
}

func (p *ActorPhase[T]) exit() {
	if p.stopTimer != nil {
		p.stopTimer()
	}
	p.stopped = true
}
