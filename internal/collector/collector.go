// Package collector aggregates operation records and computes run metrics.
package collector

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"lockstep/internal/core"
)

const defaultBufferSize = 1000

// Option configures a Collector.
type Option func(*Collector)

// WithBufferSize sets the capacity of the report channel. Report blocks
// while the buffer is full.
func WithBufferSize(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the clock used to measure the run duration.
func WithClock(clock core.Clock) Option {
	return func(c *Collector) {
		c.clock = clock
	}
}

// Collector aggregates operations from actors and produces a summary.
// It implements core.Reporter.
type Collector struct {
	logger     *zap.Logger
	clock      core.Clock
	bufferSize int

	ops       []core.Operation
	ch        chan core.Operation
	done      chan struct{}
	mu        sync.Mutex
	closeOnce sync.Once
	startTime time.Time
	endTime   time.Time
}

// NewCollector creates a new Collector and starts its collection goroutine.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		logger:     zap.NewNop(),
		clock:      core.RealClock{},
		bufferSize: defaultBufferSize,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ch = make(chan core.Operation, c.bufferSize)
	c.startTime = c.clock.Now()
	go c.collect()
	return c
}

func (c *Collector) collect() {
	for op := range c.ch {
		c.mu.Lock()
		c.ops = append(c.ops, op)
		c.mu.Unlock()
	}
	close(c.done)
}

// Report sends an operation to the collector. It blocks while the buffer is
// full, so every operation reported before Close is recorded.
func (c *Collector) Report(op core.Operation) {
	c.ch <- op
}

// Close stops accepting operations and waits for buffered ones to be
// recorded. Reporting after Close panics, so close only after every actor
// has returned.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.endTime = c.clock.Now()
		c.mu.Unlock()
		close(c.ch)
		<-c.done
		c.logger.Debug("collector closed",
			zap.Int("operations", c.Count()),
			zap.Duration("duration", c.Duration()))
	})
}

// Operations returns a copy of the collected operations.
func (c *Collector) Operations() []core.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]core.Operation, len(c.ops))
	copy(result, c.ops)
	return result
}

// Count returns the number of operations recorded so far.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ops)
}

// Duration returns the run duration.
// If the collector is closed, returns the duration from start to end.
// If still running, returns the duration from start to now.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	end := c.endTime
	c.mu.Unlock()
	if !end.IsZero() {
		return end.Sub(c.startTime)
	}
	return c.clock.Since(c.startTime)
}

// Compute aggregates everything collected so far.
func (c *Collector) Compute() *Metrics {
	return ComputeMetrics(c.Operations(), c.Duration())
}
