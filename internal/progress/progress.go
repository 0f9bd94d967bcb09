// Package progress draws a single status line while a workload runs.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"lockstep/internal/collector"
	"lockstep/internal/core"
)

// Run is the run state shown on the progress line.
type Run interface {
	CurrentPhase() core.PhaseNumber
	PhaseCount() int
	ActiveActors() int
}

type Progress struct {
	startTime time.Time
	collector *collector.Collector
	run       Run
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopped   atomic.Bool
	quiet     bool
	interval  time.Duration
	output    io.Writer
	mu        sync.Mutex
}

func NewProgress(c *collector.Collector, run Run, quiet bool) *Progress {
	return &Progress{
		collector: c,
		run:       run,
		quiet:     quiet,
		interval:  time.Second,
		output:    os.Stderr,
	}
}

func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

func (p *Progress) Start() {
	if p.quiet {
		return
	}
	p.startTime = time.Now()
	p.stopCh = make(chan struct{})
	p.ticker = time.NewTicker(p.interval)
	go p.loop()
}

func (p *Progress) loop() {
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			p.printProgress()
		}
	}
}

func (p *Progress) printProgress() {
	m := p.collector.Compute()
	elapsed := time.Since(p.startTime).Round(time.Second)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60
	errorRate := 0.0
	if m.TotalOperations > 0 {
		errorRate = float64(m.FailureCount) / float64(m.TotalOperations) * 100
	}

	phase, actors := "-", "-"
	if p.run != nil {
		if n := p.run.CurrentPhase(); n >= 0 {
			phase = fmt.Sprintf("%d/%d", int(n)+1, p.run.PhaseCount())
		}
		actors = fmt.Sprint(p.run.ActiveActors())
	}

	p.write(fmt.Sprintf("\033[K[%02d:%02d] Phase: %s | Actors: %s | Operations: %d | Ops/s: %.1f | Errors: %d (%.1f%%)\r",
		mins, secs, phase, actors, m.TotalOperations, m.OpsPerSec, m.FailureCount, errorRate))
}

// Stop halts the ticker and clears the status line. It is safe to call
// more than once.
func (p *Progress) Stop() {
	if p.quiet || p.stopped.Swap(true) {
		return
	}
	if p.ticker != nil {
		p.ticker.Stop()
		close(p.stopCh)
	}
	p.write("\033[K")
}

// Print writes message on its own line above the status line.
func (p *Progress) Print(message string) {
	p.Printf("%s", message)
}

func (p *Progress) Printf(format string, args ...any) {
	if p.quiet {
		return
	}
	p.write("\033[K" + fmt.Sprintf(format, args...) + "\n")
}

func (p *Progress) write(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	io.WriteString(p.output, s)
}
