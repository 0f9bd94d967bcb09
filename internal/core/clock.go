package core

import (
	"sort"
	"sync"
	"time"
)

// Clock provides time operations that can be mocked for testing.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// AfterFunc calls f on its own goroutine once d has elapsed.
	// The returned func cancels the call if it has not fired yet.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// RealClock uses the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// FakeClock is a test clock that can be manually advanced.
// It is safe for concurrent use; timers fire synchronously inside Advance and Set.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FakeClock) Since(t time.Time) time.Duration { return f.Now().Sub(t) }

func (f *FakeClock) AfterFunc(d time.Duration, fn func()) func() bool {
	f.mu.Lock()
	t := &fakeTimer{at: f.current.Add(d), f: fn}
	if d <= 0 {
		f.mu.Unlock()
		fn()
		return func() bool { return false }
	}
	f.timers = append(f.timers, t)
	f.mu.Unlock()

	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
	f.fire()
}

func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.current = t
	f.mu.Unlock()
	f.fire()
}

// fire runs every pending timer whose deadline has been reached, earliest first.
func (f *FakeClock) fire() {
	f.mu.Lock()
	var due, pending []*fakeTimer
	for _, t := range f.timers {
		switch {
		case t.stopped:
		case !t.at.After(f.current):
			t.stopped = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	f.timers = pending
	f.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}
