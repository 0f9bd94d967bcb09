// Package config parses workload files.
//
// A workload lists actor groups. Each group names a compiled-in actor type,
// the number of threads to run it on and one entry per phase. A phase entry
// carries the stopping condition the phase loop understands (repeat,
// duration, external or nop) next to the actor type's own keys, which are
// decoded later into the actor's payload type.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"lockstep/internal/collector"
	"lockstep/internal/core"
	"lockstep/internal/phaseloop"
	"lockstep/internal/ratelimit"
)

// Workload is the root of a workload file.
type Workload struct {
	Name       string                `yaml:"name"`
	Actors     []ActorConfig         `yaml:"actors"`
	Thresholds *collector.Thresholds `yaml:"thresholds,omitempty"`

	// Dir is the directory of the workload file. Relative paths inside
	// actor payloads resolve against it.
	Dir string `yaml:"-"`
}

// ActorConfig describes one actor group.
type ActorConfig struct {
	Name    string       `yaml:"name"`
	Type    string       `yaml:"type"`
	Threads int          `yaml:"threads"`
	Phases  []PhaseEntry `yaml:"phases"`
}

// PhaseEntry is one phase of one actor group as written in the workload file.
type PhaseEntry struct {
	Repeat      *int           `yaml:"repeat"`
	Duration    *time.Duration `yaml:"duration"`
	External    bool           `yaml:"external"`
	Nop         bool           `yaml:"nop"`
	SleepBefore time.Duration  `yaml:"sleepBefore"`
	SleepAfter  time.Duration  `yaml:"sleepAfter"`
	RateLimit   ratelimit.Rate `yaml:"rateLimit"`

	node *yaml.Node
}

// UnmarshalYAML implements yaml.Unmarshaler. The raw node is kept so the
// actor payload can be decoded from the same mapping.
func (p *PhaseEntry) UnmarshalYAML(node *yaml.Node) error {
	type plain PhaseEntry
	var raw plain
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = PhaseEntry(raw)
	p.node = node
	return nil
}

// Stop returns the stopping condition of the entry.
func (p PhaseEntry) Stop() (phaseloop.StopCondition, error) {
	var conds []phaseloop.StopCondition
	if p.Repeat != nil {
		conds = append(conds, phaseloop.Iterations(*p.Repeat))
	}
	if p.Duration != nil {
		conds = append(conds, phaseloop.Duration(*p.Duration))
	}
	if p.External {
		conds = append(conds, phaseloop.External())
	}
	if p.Nop {
		conds = append(conds, phaseloop.None())
	}

	switch len(conds) {
	case 0:
		return phaseloop.None(), nil
	case 1:
		return conds[0], conds[0].Validate()
	}
	return phaseloop.StopCondition{}, errors.Wrap(core.ErrConfiguration,
		"only one of repeat, duration, external and nop may be set")
}

// Decode decodes the entry's mapping into v. Keys v does not know are
// ignored, including the stopping condition keys.
func (p PhaseEntry) Decode(v any) error {
	if p.node == nil {
		return nil
	}
	return p.node.Decode(v)
}

// PhaseConfigs converts the phase entries of a into phase loop configs,
// decoding each entry's payload into a fresh T.
func PhaseConfigs[T any](a ActorConfig) ([]phaseloop.PhaseConfig[T], error) {
	out := make([]phaseloop.PhaseConfig[T], len(a.Phases))
	for i, entry := range a.Phases {
		stop, err := entry.Stop()
		if err != nil {
			return nil, errors.WithMessagef(err, "actor %s phase %d", a.Name, i)
		}
		payload := new(T)
		if err := entry.Decode(payload); err != nil {
			return nil, errors.Wrapf(core.ErrConfiguration, "actor %s phase %d: %v", a.Name, i, err)
		}
		out[i] = phaseloop.PhaseConfig[T]{
			Stop:        stop,
			SleepBefore: entry.SleepBefore,
			SleepAfter:  entry.SleepAfter,
			RateLimit:   entry.RateLimit,
			Config:      payload,
		}
		if err := out[i].Validate(); err != nil {
			return nil, errors.WithMessagef(err, "actor %s phase %d", a.Name, i)
		}
	}
	return out, nil
}

// PhaseCount returns the number of phases in the run, the longest phase
// list over all actor groups.
func (w *Workload) PhaseCount() int {
	n := 0
	for _, a := range w.Actors {
		if len(a.Phases) > n {
			n = len(a.Phases)
		}
	}
	return n
}

// Threads returns the total number of actor threads.
func (w *Workload) Threads() int {
	n := 0
	for _, a := range w.Actors {
		n += a.Threads
	}
	return n
}

// Validate checks the workload is runnable. Threads left at zero default
// to one.
func (w *Workload) Validate() error {
	if len(w.Actors) == 0 {
		return errors.Wrap(core.ErrConfiguration, "workload has no actors")
	}

	seen := make(map[string]bool, len(w.Actors))
	for i := range w.Actors {
		a := &w.Actors[i]
		if a.Name == "" {
			return errors.Wrapf(core.ErrConfiguration, "actor %d has no name", i)
		}
		if seen[a.Name] {
			return errors.Wrapf(core.ErrConfiguration, "duplicate actor name %q", a.Name)
		}
		seen[a.Name] = true

		if a.Type == "" {
			return errors.Wrapf(core.ErrConfiguration, "actor %s has no type", a.Name)
		}
		if a.Threads < 0 {
			return errors.Wrapf(core.ErrConfiguration, "actor %s has %d threads", a.Name, a.Threads)
		}
		if a.Threads == 0 {
			a.Threads = 1
		}

		for j, entry := range a.Phases {
			if _, err := entry.Stop(); err != nil {
				return errors.WithMessagef(err, "actor %s phase %d", a.Name, j)
			}
			if entry.SleepBefore < 0 || entry.SleepAfter < 0 {
				return errors.Wrapf(core.ErrConfiguration, "actor %s phase %d: negative sleep", a.Name, j)
			}
		}
	}

	// An external phase ends when the blocking participants finish it. With
	// every group external nothing would ever end it.
	for j := 0; j < w.PhaseCount(); j++ {
		if w.allExternal(j) {
			return errors.Wrapf(core.ErrConfiguration,
				"phase %d: every actor group is external, so the phase never ends", j)
		}
	}

	if err := w.Thresholds.Validate(); err != nil {
		return errors.Wrapf(core.ErrConfiguration, "thresholds: %v", err)
	}
	return nil
}

// allExternal reports whether every group runs phase j as external. Groups
// with fewer phases idle through j as a blocking participant.
func (w *Workload) allExternal(j int) bool {
	for _, a := range w.Actors {
		if j >= len(a.Phases) || !a.Phases[j].External {
			return false
		}
	}
	return true
}

// Parse decodes and validates a workload document.
func Parse(data []byte) (*Workload, error) {
	var w Workload
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrap(err, "parsing workload")
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Load reads, decodes and validates a workload file.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading workload file")
	}

	w, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	w.Dir = filepath.Dir(path)
	return w, nil
}
