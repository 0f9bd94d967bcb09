package actors

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"lockstep/internal/config"
	"lockstep/internal/core"
	"lockstep/internal/metrics"
	"lockstep/internal/phaseloop"
	"lockstep/internal/sharedstate"
)

// HelloWorldPhase is the per-phase payload of a HelloWorld actor.
type HelloWorldPhase struct {
	Message string `yaml:"message"`
}

// Greetings counts greetings across every HelloWorld thread of a group.
type Greetings struct {
	n atomic.Int64
}

func (g *Greetings) Add() int64 { return g.n.Add(1) }

func (g *Greetings) Load() int64 { return g.n.Load() }

// HelloWorld greets once per token and bumps a counter shared by its whole
// actor group.
type HelloWorld struct {
	name    string
	id      int
	loop    *phaseloop.Loop[HelloWorldPhase]
	op      *metrics.Operation
	counter *sharedstate.Handle[*Greetings]
	logger  *zap.Logger
}

// NewHelloWorld builds one HelloWorld thread.
func NewHelloWorld(env Env, cfg config.ActorConfig, id int) (core.Actor, error) {
	env = env.withDefaults()

	phases, err := config.PhaseConfigs[HelloWorldPhase](cfg)
	if err != nil {
		return nil, err
	}

	var counter *sharedstate.Handle[*Greetings]
	if env.Registry != nil {
		counter, err = sharedstate.Get(env.Registry, cfg.Name, func() (*Greetings, error) {
			return &Greetings{}, nil
		})
		if err != nil {
			return nil, err
		}
	}

	loop, err := phaseloop.New(env.Barrier, cfg.Name, phases, env.loopOptions(cfg.Name)...)
	if err != nil {
		if counter != nil {
			counter.Release()
		}
		return nil, err
	}

	return &HelloWorld{
		name:    cfg.Name,
		id:      id,
		loop:    loop,
		op:      metrics.NewOperation(cfg.Name, id, "greet", env.Reporter, metrics.WithClock(env.Clock)),
		counter: counter,
		logger:  env.Logger.With(zap.String("actor", cfg.Name), zap.Int("id", id)),
	}, nil
}

func (h *HelloWorld) Name() string {
	return h.name
}

func (h *HelloWorld) Run(ctx context.Context) error {
	if h.counter != nil {
		defer h.counter.Release()
	}

	for phase, ap := range h.loop.Phases(ctx) {
		h.op.EnterPhase(phase)
		msg := "hello, world"
		if cfg := ap.Config(); cfg != nil && cfg.Message != "" {
			msg = cfg.Message
		}

		for range ap.Tokens() {
			_ = h.op.Time(func() (int64, error) {
				var count int64
				if h.counter != nil {
					count = h.counter.Value().Add()
				}
				h.logger.Debug(msg, zap.Int("phase", int(phase)), zap.Int64("count", count))
				return int64(len(msg)), nil
			})
		}
	}
	return h.loop.Err()
}
