// Command lockstep runs a workload file: every actor thread it describes
// executes its phases against a backing service, all of them advancing
// from phase to phase together.
//
// Usage:
//
//	lockstep run [flags] workload.yaml
//	lockstep validate workload.yaml
//	lockstep actors
//
// Every flag can also be set through a LOCKSTEP_* environment variable,
// for example LOCKSTEP_LOG_LEVEL=debug or LOCKSTEP_METRICS_ADDR=:9090.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lockstep/internal/actors"
	"lockstep/internal/config"
)

const (
	ExitSuccess         = 0
	ExitThresholdFailed = 1
	ExitError           = 2
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

// settings are the runtime options of one invocation.
type settings struct {
	LogLevel     string
	Output       string
	Quiet        bool
	Timeout      time.Duration
	StallTimeout time.Duration
	MetricsAddr  string
	HTTPTimeout  time.Duration
}

func loadSettings(v *viper.Viper) (settings, error) {
	s := settings{
		LogLevel:     v.GetString("log-level"),
		Output:       v.GetString("output"),
		Quiet:        v.GetBool("quiet"),
		Timeout:      v.GetDuration("timeout"),
		StallTimeout: v.GetDuration("stall-timeout"),
		MetricsAddr:  v.GetString("metrics-addr"),
		HTTPTimeout:  v.GetDuration("http-timeout"),
	}
	if s.Output != "text" && s.Output != "json" {
		return s, errors.Errorf("--output must be 'text' or 'json', got %q", s.Output)
	}
	if _, err := zapcore.ParseLevel(s.LogLevel); err != nil {
		return s, errors.Wrap(err, "--log-level")
	}
	return s, nil
}

// newLogger builds a console logger on w. Logs go to stderr so stdout only
// carries the report.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

func newRootCmd(v *viper.Viper, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "lockstep",
		Short:         "Phase-synchronized workload generator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")
	_ = v.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newRunCmd(v, stdout, stderr), newValidateCmd(stdout), newActorsCmd(stdout))
	return root
}

func newRunCmd(v *viper.Viper, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run workload.yaml",
		Short: "Run a workload file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return &exitError{code: ExitError, err: err}
			}
			code, err := runWorkload(cmd.Context(), s, args[0], stdout, stderr)
			if code != ExitSuccess || err != nil {
				return &exitError{code: code, err: err}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringP("output", "o", "text", "report format: text, json")
	f.BoolP("quiet", "q", false, "suppress the progress line")
	f.Duration("timeout", 0, "stop the run after this long (0 = no limit)")
	f.Duration("stall-timeout", 30*time.Second, "log the actors holding up a phase after this long (0 = never)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.Duration("http-timeout", 30*time.Second, "timeout of each request sent by HTTP actors")
	_ = v.BindPFlags(f)
	return cmd
}

func newValidateCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "validate workload.yaml",
		Short: "Check a workload file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := config.Load(args[0])
			if err != nil {
				return &exitError{code: ExitError, err: err}
			}
			for _, a := range w.Actors {
				if _, err := actors.Lookup(a.Type); err != nil {
					return &exitError{code: ExitError, err: errors.WithMessagef(err, "actor %s", a.Name)}
				}
			}
			fmt.Fprintf(stdout, "workload %q: %d actor groups, %d threads, %d phases\n",
				w.Name, len(w.Actors), w.Threads(), w.PhaseCount())
			return nil
		},
	}
}

func newActorsCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "actors",
		Short: "List the actor types a workload can use",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, t := range actors.Types() {
				fmt.Fprintln(stdout, t)
			}
		},
	}
}

func execute(args []string, stdout, stderr io.Writer) int {
	v := viper.New()
	v.SetEnvPrefix("LOCKSTEP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := newRootCmd(v, stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return ExitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return ExitError
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
