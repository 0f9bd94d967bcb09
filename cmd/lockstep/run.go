package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lockstep/internal/collector"
	"lockstep/internal/config"
	"lockstep/internal/coordinator"
	"lockstep/internal/core"
	"lockstep/internal/metrics"
	"lockstep/internal/orchestrator"
	"lockstep/internal/progress"
)

// runWorkload runs the workload at path and writes the report to stdout.
// It returns the process exit code.
func runWorkload(ctx context.Context, s settings, path string, stdout, stderr io.Writer) (int, error) {
	logger, err := newLogger(s.LogLevel, stderr)
	if err != nil {
		return ExitError, err
	}
	defer logger.Sync()

	w, err := config.Load(path)
	if err != nil {
		return ExitError, err
	}

	coll := collector.NewCollector(collector.WithLogger(logger))
	reporters := core.MultiReporter{coll}

	if s.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		pr, err := metrics.NewPrometheusReporter(reg)
		if err != nil {
			return ExitError, errors.Wrap(err, "registering metrics")
		}
		reporters = append(reporters, pr)

		_, stop, err := serveMetrics(s.MetricsAddr, reg, logger)
		if err != nil {
			return ExitError, err
		}
		defer stop()
	}

	coord := coordinator.NewCoordinator(reporters,
		coordinator.WithLogger(logger),
		coordinator.WithHTTPTimeout(s.HTTPTimeout),
		coordinator.WithOrchestratorOptions(
			orchestrator.WithStallTimeout(s.StallTimeout),
		))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	prog := progress.NewProgress(coll, coord, s.Quiet)
	prog.SetOutput(stderr)
	prog.Printf("lockstep starting: workload %q, %d actor threads, %d phases",
		w.Name, w.Threads(), w.PhaseCount())
	prog.Start()

	runErr := coord.Run(ctx, w)

	prog.Stop()
	coll.Close()

	if errors.Is(runErr, core.ErrConfiguration) {
		return ExitError, runErr
	}
	if ctx.Err() != nil {
		prog.Print("run interrupted, reporting partial results")
	}

	m := coll.Compute()
	var results *collector.ThresholdResults
	if w.Thresholds != nil {
		results = w.Thresholds.Check(m)
	}

	if s.Output == "json" {
		if err := collector.FormatJSON(stdout, m, results); err != nil {
			return ExitError, errors.Wrap(err, "writing report")
		}
	} else {
		collector.FormatText(stdout, m, results)
	}

	if runErr != nil {
		return ExitError, runErr
	}
	if results != nil && !results.Passed {
		if s.Output == "text" {
			prog.Print("threshold check failed")
		}
		return ExitThresholdFailed, nil
	}
	return ExitSuccess, nil
}

// serveMetrics exposes reg on addr under /metrics until the returned stop
// function is called. It returns the address actually listened on.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, errors.Wrap(err, "metrics listener")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return ln.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
