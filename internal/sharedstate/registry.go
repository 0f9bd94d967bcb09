// Package sharedstate lets unrelated actors share one lazily built value.
//
// Values are keyed by their Go type plus an optional name, so two actor
// implementations that ask for the same (type, name) pair observe the exact
// same instance without holding references to each other.
package sharedstate

import (
	"io"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by Get after the registry has been torn down.
var ErrClosed = errors.New("shared state registry closed")

type key struct {
	typ  reflect.Type
	name string
}

func (k key) String() string {
	return k.typ.PkgPath() + "." + k.typ.String() + "\x00" + k.name
}

type entry struct {
	value any
	refs  atomic.Int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithEagerRelease drops an entry as soon as its last Handle is released
// instead of keeping it until Close.
func WithEagerRelease() Option {
	return func(r *Registry) {
		r.eager = true
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry holds the shared values of one workload run.
type Registry struct {
	logger *zap.Logger
	eager  bool

	mu      sync.RWMutex
	entries map[key]*entry
	closed  bool
	sf      singleflight.Group
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:  zap.NewNop(),
		entries: make(map[key]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle is one holder's reference to a shared value.
type Handle[T any] struct {
	reg     *Registry
	key     key
	entry   *entry
	value   T
	release sync.Once
}

// Value returns the shared value.
func (h *Handle[T]) Value() T {
	return h.value
}

// Release drops this holder's reference. It is safe to call more than once.
func (h *Handle[T]) Release() {
	h.release.Do(func() {
		h.reg.release(h.key, h.entry)
	})
}

// Get returns a handle to the value stored under T and name, building it
// with factory on first access. Concurrent first accesses run factory
// exactly once and all receive the same instance. A failed factory is not
// remembered; the next Get tries again.
func Get[T any](r *Registry, name string, factory func() (T, error)) (*Handle[T], error) {
	k := key{typ: reflect.TypeOf((*T)(nil)).Elem(), name: name}

	for {
		e, err := r.lookupOrBuild(k, func() (any, error) { return factory() })
		if err != nil {
			return nil, err
		}
		if r.acquire(k, e) {
			value, _ := e.value.(T)
			return &Handle[T]{reg: r, key: k, entry: e, value: value}, nil
		}
		// The entry was reclaimed between construction and acquisition.
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close tears the registry down. Values implementing io.Closer are closed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var first error
	for k, e := range r.entries {
		if c, ok := e.value.(io.Closer); ok {
			if err := c.Close(); err != nil {
				r.logger.Warn("closing shared state", zap.String("type", k.typ.String()), zap.String("name", k.name), zap.Error(err))
				if first == nil {
					first = errors.Wrapf(err, "closing shared %s %q", k.typ, k.name)
				}
			}
		}
		delete(r.entries, k)
	}
	return first
}

func (r *Registry) lookupOrBuild(k key, factory func() (any, error)) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[k]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return e, nil
	}

	v, err, _ := r.sf.Do(k.String(), func() (any, error) {
		r.mu.RLock()
		e, ok := r.entries[k]
		r.mu.RUnlock()
		if ok {
			return e, nil
		}

		value, err := factory()
		if err != nil {
			return nil, errors.Wrapf(err, "building shared %s %q", k.typ, k.name)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return nil, ErrClosed
		}
		e = &entry{value: value}
		r.entries[k] = e
		r.logger.Debug("shared state created", zap.String("type", k.typ.String()), zap.String("name", k.name))
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

// acquire takes a reference on e if it is still the live entry for k.
func (r *Registry) acquire(k key, e *entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.entries[k] != e {
		return false
	}
	e.refs.Add(1)
	return true
}

func (r *Registry) release(k key, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.refs.Add(-1) > 0 || !r.eager || r.entries[k] != e {
		return
	}
	delete(r.entries, k)
	if c, ok := e.value.(io.Closer); ok {
		if err := c.Close(); err != nil {
			r.logger.Warn("closing shared state", zap.String("type", k.typ.String()), zap.String("name", k.name), zap.Error(err))
		}
	}
}
