package actors

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"lockstep/internal/config"
	"lockstep/internal/core"
	"lockstep/internal/data"
	lshttp "lockstep/internal/http"
	"lockstep/internal/metrics"
	"lockstep/internal/phaseloop"
	"lockstep/internal/sharedstate"
	"lockstep/internal/template"
)

// HTTPRequestPhase is the per-phase payload of an HTTPRequest actor.
// Request and Requests are sent in that order once per token.
type HTTPRequestPhase struct {
	Request  *lshttp.RequestConfig  `yaml:"request"`
	Requests []lshttp.RequestConfig `yaml:"requests"`
	// Data names parameter files whose rows are exposed to the requests as
	// ${data.<name>.<field>}.
	Data map[string]data.Config `yaml:"data"`
	// StopOnError fails the actor on the first request that could not be
	// sent. By default such requests are only recorded as failed.
	StopOnError bool `yaml:"stopOnError"`
}

func (p *HTTPRequestPhase) requests() []lshttp.RequestConfig {
	var out []lshttp.RequestConfig
	if p.Request != nil {
		out = append(out, *p.Request)
	}
	return append(out, p.Requests...)
}

// sharedClient is the HTTP client of one actor group.
type sharedClient struct {
	*http.Client
}

func (c sharedClient) Close() error {
	c.CloseIdleConnections()
	return nil
}

type httpPhase struct {
	workflow    *lshttp.Workflow
	sources     data.Sources
	stopOnError bool
}

// HTTPRequest sends the phase's requests once per token against an HTTP
// backing service.
type HTTPRequest struct {
	name    string
	id      int
	loop    *phaseloop.Loop[HTTPRequestPhase]
	phases  map[core.PhaseNumber]*httpPhase
	handles []interface{ Release() }
	logger  *zap.Logger
}

// NewHTTPRequest builds one HTTPRequest thread. The HTTP client and data
// sources are shared by every thread of the group.
func NewHTTPRequest(env Env, cfg config.ActorConfig, id int) (actor core.Actor, err error) {
	env = env.withDefaults()
	if env.Registry == nil {
		env.Registry = sharedstate.New()
	}

	phases, err := config.PhaseConfigs[HTTPRequestPhase](cfg)
	if err != nil {
		return nil, err
	}

	h := &HTTPRequest{
		name:   cfg.Name,
		id:     id,
		phases: make(map[core.PhaseNumber]*httpPhase),
		logger: env.Logger.With(zap.String("actor", cfg.Name), zap.Int("id", id)),
	}
	defer func() {
		if err != nil {
			h.release()
		}
	}()

	client, err := sharedstate.Get(env.Registry, cfg.Name, func() (sharedClient, error) {
		return sharedClient{&http.Client{Timeout: env.HTTPTimeout}}, nil
	})
	if err != nil {
		return nil, err
	}
	h.handles = append(h.handles, client)

	for i, pc := range phases {
		reqs := pc.Config.requests()
		if len(reqs) == 0 {
			continue
		}
		phase := core.PhaseNumber(i)

		w, err := lshttp.NewWorkflow(reqs, client.Value().Client, env.Logger, func(name string) *metrics.Operation {
			return metrics.NewOperation(cfg.Name, id, name, env.Reporter, metrics.WithClock(env.Clock))
		})
		if err != nil {
			return nil, errors.Wrapf(core.ErrConfiguration, "actor %s phase %d: %v", cfg.Name, i, err)
		}

		sources := make(data.Sources, len(pc.Config.Data))
		for name, dc := range pc.Config.Data {
			src, err := sharedstate.Get(env.Registry, fmt.Sprintf("%s/%d/%s", cfg.Name, i, name), func() (*data.Source, error) {
				return data.Open(name, dc, env.Dir)
			})
			if err != nil {
				return nil, errors.Wrapf(core.ErrConfiguration, "actor %s phase %d: %v", cfg.Name, i, err)
			}
			h.handles = append(h.handles, src)
			sources[name] = src.Value()
		}

		h.phases[phase] = &httpPhase{workflow: w, sources: sources, stopOnError: pc.Config.StopOnError}
	}

	h.loop, err = phaseloop.New(env.Barrier, cfg.Name, phases, env.loopOptions(cfg.Name)...)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (h *HTTPRequest) Name() string {
	return h.name
}

func (h *HTTPRequest) Run(ctx context.Context) error {
	defer h.release()

	for phase, ap := range h.loop.Phases(ctx) {
		p := h.phases[phase]
		if p == nil {
			for range ap.Tokens() {
			}
			continue
		}
		p.workflow.EnterPhase(phase)

		for i := range ap.Tokens() {
			vars := template.NewVars()
			vars.Set("actor", h.name)
			vars.Set("actor_id", h.id)
			vars.Set("phase", int(phase))
			vars.Set("iteration", i)
			p.sources.InjectVariables(vars)

			err := p.workflow.Run(ctx, vars)
			if err == nil || ctx.Err() != nil {
				continue
			}
			if p.stopOnError {
				return &core.ActorFailure{Actor: h.name, ID: h.id, Phase: phase, Err: err}
			}
			h.logger.Debug("request chain aborted", zap.Int("phase", int(phase)), zap.Error(err))
		}
	}
	return h.loop.Err()
}

func (h *HTTPRequest) release() {
	for _, r := range h.handles {
		r.Release()
	}
	h.handles = nil
}
