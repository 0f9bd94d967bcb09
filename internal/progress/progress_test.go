package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"lockstep/internal/collector"
	"lockstep/internal/core"
)

func TestNewProgress(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	progress := NewProgress(c, nil, false)

	if progress.collector != c {
		t.Error("collector not assigned")
	}
	if progress.quiet {
		t.Error("quiet should be false")
	}
}

func TestNewProgress_Quiet(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	progress := NewProgress(c, nil, true)

	if !progress.quiet {
		t.Error("quiet should be true")
	}
}

func TestProgress_QuietMode(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	progress := NewProgress(c, nil, true) // quiet mode

	// Start and stop should not panic in quiet mode
	progress.Start()
	time.Sleep(10 * time.Millisecond)
	progress.Stop()
}

func TestProgress_DoubleStop(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	progress := NewProgress(c, nil, true)
	progress.Start()

	// Double stop should not panic
	progress.Stop()
	progress.Stop()
}

func TestProgress_StopWithoutStart(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	progress := NewProgress(c, nil, false)

	// Stop without start should not panic
	progress.Stop()
}

func TestProgress_Print(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	var buf bytes.Buffer
	progress := NewProgress(c, nil, false)
	progress.SetOutput(&buf)

	progress.Print("Phase: test (duration: 10s)")

	output := buf.String()

	// Should contain the escape sequence to clear line before message
	if !strings.Contains(output, "\033[K") {
		t.Error("expected output to contain line clear escape sequence")
	}

	// Should contain the message
	if !strings.Contains(output, "Phase: test (duration: 10s)") {
		t.Errorf("expected output to contain message, got: %q", output)
	}

	// Message should end with newline
	if !strings.Contains(output, "Phase: test (duration: 10s)\n") {
		t.Error("expected message to end with newline")
	}
}

func TestProgress_Print_QuietModeDoesNotPrint(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	var buf bytes.Buffer
	progress := NewProgress(c, nil, true) // quiet mode
	progress.SetOutput(&buf)

	progress.Print("Phase: test")

	output := buf.String()

	// In quiet mode, Print should not output
	if output != "" {
		t.Errorf("expected no output in quiet mode, got: %q", output)
	}
}

func TestProgress_Printf(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	var buf bytes.Buffer
	progress := NewProgress(c, nil, false)
	progress.SetOutput(&buf)

	progress.Printf("Phase: %s (actors: %d)", "warmup", 10)

	output := buf.String()

	if !strings.Contains(output, "Phase: warmup (actors: 10)\n") {
		t.Errorf("expected formatted message, got: %q", output)
	}
}

func TestProgress_SetOutput(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	var buf1, buf2 bytes.Buffer
	progress := NewProgress(c, nil, false)

	progress.SetOutput(&buf1)
	progress.Print("message1")

	progress.SetOutput(&buf2)
	progress.Print("message2")

	if !strings.Contains(buf1.String(), "message1") {
		t.Error("expected message1 in buf1")
	}
	if !strings.Contains(buf2.String(), "message2") {
		t.Error("expected message2 in buf2")
	}
	if strings.Contains(buf1.String(), "message2") {
		t.Error("buf1 should not contain message2")
	}
}

type fakeRun struct {
	phase  core.PhaseNumber
	count  int
	actors int
}

func (f fakeRun) CurrentPhase() core.PhaseNumber { return f.phase }
func (f fakeRun) PhaseCount() int                { return f.count }
func (f fakeRun) ActiveActors() int              { return f.actors }

func TestProgress_Line(t *testing.T) {
	tests := []struct {
		name string
		run  Run
		want string
	}{
		{"no run", nil, "Phase: - | Actors: - |"},
		{"before start", fakeRun{phase: -1, count: 3, actors: 4}, "Phase: - | Actors: 4 |"},
		{"second phase", fakeRun{phase: 1, count: 3, actors: 2}, "Phase: 2/3 | Actors: 2 |"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := collector.NewCollector()
			c.Report(core.Operation{Name: "greet", Success: true})
			c.Report(core.Operation{Name: "greet", Success: false})
			c.Close()

			var buf bytes.Buffer
			p := NewProgress(c, tt.run, false)
			p.SetOutput(&buf)
			p.startTime = time.Now()
			p.printProgress()

			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in %q", tt.want, out)
			}
			if !strings.Contains(out, "Operations: 2 |") || !strings.Contains(out, "Errors: 1 (50.0%)") {
				t.Errorf("unexpected counters in %q", out)
			}
		})
	}
}

func TestProgress_Ticks(t *testing.T) {
	c := collector.NewCollector()
	c.Report(core.Operation{Name: "greet", Success: true})

	var out core.MockWriter
	p := NewProgress(c, fakeRun{phase: 0, count: 1, actors: 3}, false)
	p.SetOutput(&out)
	p.interval = 10 * time.Millisecond

	p.Printf("starting %s", "greeters")
	p.Start()
	time.Sleep(50 * time.Millisecond)
	p.Stop()
	c.Close()

	if !strings.Contains(out.String(), "Phase: 1/1 | Actors: 3 | Operations: 1 |") {
		t.Errorf("expected a progress line, got %q", out.String())
	}
	if lines := out.Lines(); len(lines) == 0 || !strings.HasSuffix(lines[0], "starting greeters") {
		t.Errorf("expected the message on its own line, got %q", lines)
	}
}
