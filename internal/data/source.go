// Package data loads parameter rows from CSV or JSON files and hands them
// out to actor threads.
package data

import (
	"encoding/csv"
	"fmt"
	"maps"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Mode defines how data rows are selected during iteration.
type Mode string

const (
	// ModeSequential iterates through rows in order, wrapping around.
	ModeSequential Mode = "sequential"
	// ModeRandom selects a random row for each iteration.
	ModeRandom Mode = "random"
)

// Config names a data file in a workload phase.
type Config struct {
	File string `yaml:"file"`
	Mode Mode   `yaml:"mode"`
}

// Validate checks the file name and mode.
func (c Config) Validate() error {
	if c.File == "" {
		return errors.New("data file not set")
	}
	switch c.Mode {
	case "", ModeSequential, ModeRandom:
		return nil
	}
	return errors.Errorf("unknown data mode %q", c.Mode)
}

// Source is a loaded data file. Rows are handed out round-robin or at random
// and every caller gets its own copy.
type Source struct {
	name    string
	rows    []map[string]any
	mode    Mode
	counter atomic.Uint64
	mu      sync.Mutex
	rng     *rand.Rand
}

// NewSource creates a data source from loaded rows.
func NewSource(name string, rows []map[string]any, mode Mode) *Source {
	if mode == "" {
		mode = ModeSequential
	}
	return &Source{
		name: name,
		rows: rows,
		mode: mode,
		rng:  rand.New(rand.NewSource(rand.Int63())),
	}
}

// Name returns the source name.
func (s *Source) Name() string {
	return s.name
}

// Len returns the number of rows.
func (s *Source) Len() int {
	return len(s.rows)
}

// Next returns a copy of the next row. Safe for concurrent use.
func (s *Source) Next() map[string]any {
	if len(s.rows) == 0 {
		return nil
	}

	var idx int
	switch s.mode {
	case ModeRandom:
		s.mu.Lock()
		idx = s.rng.Intn(len(s.rows))
		s.mu.Unlock()
	default:
		n := s.counter.Add(1) - 1
		idx = int(n % uint64(len(s.rows)))
	}

	return maps.Clone(s.rows[idx])
}

// Open loads the file named by cfg, resolving relative paths against dir.
func Open(name string, cfg Config, dir string) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "data source %s", name)
	}
	return LoadFile(name, cfg.File, cfg.Mode, dir)
}

// LoadFile loads a data file (CSV or JSON) and returns a Source.
func LoadFile(name, path string, mode Mode, configDir string) (*Source, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, path)
	}

	var rows []map[string]any
	var err error

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = loadCSV(path)
	case ".json":
		rows, err = loadJSON(path)
	default:
		return nil, errors.Errorf("unsupported file format %q (use .csv or .json)", ext)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	if len(rows) == 0 {
		return nil, errors.Errorf("data file %s is empty", path)
	}

	return NewSource(name, rows, mode), nil
}

// loadCSV loads a CSV file. First row is headers, subsequent rows are data.
func loadCSV(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.New("CSV must have header row and at least one data row")
	}

	headers := records[0]
	rows := make([]map[string]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]any, len(headers))
		for i, header := range headers {
			if i < len(record) {
				row[header] = record[i]
			} else {
				row[header] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// loadJSON loads a JSON file holding an array of objects.
func loadJSON(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}

	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, errors.New("JSON must be an array of objects")
	}

	var rows []map[string]any
	var rowErr error
	doc.ForEach(func(i, value gjson.Result) bool {
		row, ok := value.Value().(map[string]any)
		if !ok {
			rowErr = errors.Errorf("element %d is not an object", i.Int())
			return false
		}
		rows = append(rows, row)
		return true
	})
	return rows, rowErr
}

// Sources is a collection of named data sources.
type Sources map[string]*Source

// InjectVariables sets the next row of every source. Each field is
// available as "data.<source>.<field>".
func (s Sources) InjectVariables(vars interface {
	Set(key string, value any)
}) {
	for name, source := range s {
		for field, value := range source.Next() {
			vars.Set(fmt.Sprintf("data.%s.%s", name, field), value)
		}
	}
}
