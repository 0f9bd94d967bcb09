// Package http sends the configured requests of an HTTP actor and records
// each one as an operation.
package http

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"lockstep/internal/core"
	"lockstep/internal/metrics"
	"lockstep/internal/template"
)

// Workflow is a chain of requests sharing one set of variables. Values
// extracted from a response are visible to the requests after it.
// A Workflow belongs to one actor thread.
type Workflow struct {
	requests []*Request
	ops      []*metrics.Operation
}

// NewWorkflow builds a workflow. newOp creates the operation each request is
// timed under.
func NewWorkflow(cfgs []RequestConfig, client *http.Client, logger *zap.Logger, newOp func(name string) *metrics.Operation) (*Workflow, error) {
	w := &Workflow{}
	for i := range cfgs {
		cfg := cfgs[i]
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		w.requests = append(w.requests, NewRequest(cfg, client, logger))
		w.ops = append(w.ops, newOp(cfg.Name))
	}
	return w, nil
}

// Len returns the number of requests.
func (w *Workflow) Len() int {
	return len(w.requests)
}

// EnterPhase tags subsequent operations with phase.
func (w *Workflow) EnterPhase(phase core.PhaseNumber) {
	for _, op := range w.ops {
		op.EnterPhase(phase)
	}
}

// Run sends every request in order. Error statuses are recorded as failed
// operations and the chain continues; any other error is recorded and ends
// the chain, since later requests may depend on values it did not extract.
func (w *Workflow) Run(ctx context.Context, vars *template.Vars) error {
	for i, req := range w.requests {
		timer := w.ops[i].Start()
		result, err := req.Execute(ctx, vars)

		var statusErr *StatusError
		switch {
		case err == nil:
			timer.Success(result.BytesRecv)
		case ctx.Err() != nil:
			timer.Discard()
			return ctx.Err()
		case errors.As(err, &statusErr):
			timer.Fail(err)
		default:
			timer.Fail(err)
			return errors.WithMessage(err, req.Name())
		}
	}
	return nil
}
