// Package orchestrator implements the phase barrier that keeps every actor of a
// workload in lock-step.
//
// Participants register before the run starts. Once started, the global phase
// number advances from k to k+1 only after every participant has reported
// completion of phase k. Waiters block on a per-generation channel that is
// closed on each advance, so no goroutine ever polls.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"lockstep/internal/core"
)

// notStarted is the global phase number before Start is called.
const notStarted core.PhaseNumber = -1

// ParticipantID identifies one registered participant. IDs are dense and
// assigned in registration order starting at 0.
type ParticipantID int

// Participant describes an actor thread joining the barrier.
type Participant struct {
	Name string
	// Phases is the number of phases the participant has configured. The
	// global phase count is the maximum over all participants; phases past
	// a participant's own list are no-ops for it.
	Phases int
	// NonBlocking lists the phases in which the participant runs until the
	// phase's end signal instead of holding the phase open itself.
	NonBlocking []core.PhaseNumber
}

// Status is a snapshot of one participant for diagnostics.
type Status struct {
	ID       ParticipantID
	Name     string
	Reported core.PhaseNumber
	Released bool
}

type participant struct {
	id          ParticipantID
	name        string
	nonBlocking map[core.PhaseNumber]bool
	reported    core.PhaseNumber
	released    bool
}

func (p *participant) blocking(phase core.PhaseNumber) bool {
	return !p.nonBlocking[phase]
}

// signal is a close-once broadcast channel guarded by the orchestrator mutex.
type signal struct {
	ch     chan struct{}
	closed bool
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStaleReportLimit makes stale completion reports fatal once more than
// limit of them have been seen. Zero keeps them warnings forever.
func WithStaleReportLimit(limit int) Option {
	return func(o *Orchestrator) {
		o.staleLimit = limit
	}
}

// WithClock overrides the clock driving the stall diagnostic.
func WithClock(clock core.Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithStallTimeout logs the participants holding up a phase whenever a waiter
// has been blocked for d. Zero disables the diagnostic.
func WithStallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.stallTimeout = d
	}
}

// Orchestrator is the barrier shared by every participant of one run.
// All methods are safe for concurrent use.
type Orchestrator struct {
	logger       *zap.Logger
	clock        core.Clock
	staleLimit   int
	stallTimeout time.Duration

	mu           sync.Mutex
	started      bool
	done         bool
	phase        core.PhaseNumber
	phaseCount   int
	participants []*participant
	arrived      int
	blocking     int
	blockingLeft int
	staleReports int
	advanced     *signal
	stopped      *signal
	ends         map[core.PhaseNumber]*signal
}

// New creates an Orchestrator with no participants.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:   zap.NewNop(),
		clock:    core.RealClock{},
		phase:    notStarted,
		advanced: newSignal(),
		stopped:  newSignal(),
		ends:     make(map[core.PhaseNumber]*signal),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterParticipant adds a participant to the barrier. It fails with
// core.ErrRegistration once Start has been called.
func (o *Orchestrator) RegisterParticipant(p Participant) (ParticipantID, error) {
	if p.Phases < 0 {
		return 0, errors.Wrapf(core.ErrConfiguration, "participant %q has %d phases", p.Name, p.Phases)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return 0, errors.Wrapf(core.ErrRegistration, "participant %q", p.Name)
	}

	part := &participant{
		id:          ParticipantID(len(o.participants)),
		name:        p.Name,
		nonBlocking: make(map[core.PhaseNumber]bool, len(p.NonBlocking)),
		reported:    notStarted,
	}
	for _, n := range p.NonBlocking {
		part.nonBlocking[n] = true
	}
	o.participants = append(o.participants, part)
	if p.Phases > o.phaseCount {
		o.phaseCount = p.Phases
	}

	o.logger.Debug("participant registered",
		zap.Int("id", int(part.id)),
		zap.String("name", p.Name),
		zap.Int("phases", p.Phases))
	return part.id, nil
}

// Start closes registration and begins phase 0. A run without participants
// or without phases is done immediately. Calling Start twice is a no-op.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return
	}
	o.started = true

	if len(o.participants) == 0 || o.phaseCount == 0 {
		o.logger.Info("nothing to run",
			zap.Int("participants", len(o.participants)),
			zap.Int("phases", o.phaseCount))
		o.finishLocked()
		return
	}

	o.logger.Info("run started",
		zap.Int("participants", len(o.participants)),
		zap.Int("phases", o.phaseCount))
	o.beginPhaseLocked(0)
}

// AwaitPhaseStart blocks until the global phase number exceeds local and
// returns it. It returns false once the run is done or ctx is cancelled.
func (o *Orchestrator) AwaitPhaseStart(ctx context.Context, local core.PhaseNumber) (core.PhaseNumber, bool) {
	var stall chan struct{}
	rearm := func() {}
	if o.stallTimeout > 0 {
		stall = make(chan struct{}, 1)
		var cancel func() bool
		rearm = func() {
			cancel = o.clock.AfterFunc(o.stallTimeout, func() {
				select {
				case stall <- struct{}{}:
				default:
				}
			})
		}
		rearm()
		defer func() { cancel() }()
	}

	for {
		o.mu.Lock()
		if o.done {
			phase := o.phase
			o.mu.Unlock()
			return phase, false
		}
		if o.started && o.phase > local {
			phase := o.phase
			o.mu.Unlock()
			return phase, true
		}
		wait := o.advanced.ch
		o.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			o.mu.Lock()
			phase := o.phase
			o.mu.Unlock()
			return phase, false
		case <-stall:
			o.logStall(local)
			rearm()
		}
	}
}

// ReportPhaseComplete marks participant id done with phase. The last report
// for a phase advances the global phase and wakes every waiter.
//
// Reports for a phase that already advanced are stale: they are logged and
// ignored, unless the stale report limit is exceeded, in which case
// core.ErrStaleReport is returned. Reporting a phase that has not begun, or
// an unknown participant, returns core.ErrProtocol.
func (o *Orchestrator) ReportPhaseComplete(id ParticipantID, phase core.PhaseNumber) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.participantLocked(id)
	if err != nil {
		return err
	}
	if o.done {
		return nil
	}
	if !o.started {
		return errors.Wrapf(core.ErrProtocol, "%s reported phase %d before start", p.name, phase)
	}

	switch {
	case phase < o.phase:
		o.staleReports++
		o.logger.Warn("stale phase completion report",
			zap.String("participant", p.name),
			zap.Int("reported", int(phase)),
			zap.Int("current", int(o.phase)),
			zap.Int("staleReports", o.staleReports))
		if o.staleLimit > 0 && o.staleReports > o.staleLimit {
			return errors.Wrapf(core.ErrStaleReport, "%d stale reports exceed limit %d", o.staleReports, o.staleLimit)
		}
		return nil
	case phase > o.phase:
		return errors.Wrapf(core.ErrProtocol, "%s reported phase %d while phase %d is running", p.name, phase, o.phase)
	}

	if p.released || p.reported >= phase {
		return nil
	}
	o.arriveLocked(p)
	return nil
}

// Release retires a participant whose actor failed. It counts as complete for
// the current phase and every later one, so its peers are never stalled.
func (o *Orchestrator) Release(id ParticipantID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.participantLocked(id)
	if err != nil || p.released {
		return
	}
	p.released = true
	o.logger.Debug("participant released", zap.String("participant", p.name), zap.Int("phase", int(o.phase)))

	if o.started && !o.done && p.reported < o.phase {
		o.arriveLocked(p)
	}
}

// RequestStop ends the run. Every current and future AwaitPhaseStart returns
// false. It is idempotent.
func (o *Orchestrator) RequestStop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.done {
		return
	}
	o.logger.Info("stop requested", zap.Int("phase", int(o.phase)))
	o.finishLocked()
}

// PhaseEnded returns a channel closed when phase should end for its
// non-blocking participants: once every blocking participant reported it,
// on EndPhase, when the phase advances, or when the run stops.
func (o *Orchestrator) PhaseEnded(phase core.PhaseNumber) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.done || phase < o.phase {
		return closedCh
	}
	return o.endSignalLocked(phase).ch
}

// EndPhase raises the end signal of phase explicitly.
func (o *Orchestrator) EndPhase(phase core.PhaseNumber) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.done || phase < o.phase {
		return
	}
	o.endSignalLocked(phase).close()
}

// Stopped returns a channel closed once the run is done, whether it
// completed its last phase or was stopped.
func (o *Orchestrator) Stopped() <-chan struct{} {
	return o.stopped.ch
}

// CurrentPhase returns the global phase number, or -1 before Start.
func (o *Orchestrator) CurrentPhase() core.PhaseNumber {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// PhaseCount returns the number of phases in the run.
func (o *Orchestrator) PhaseCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phaseCount
}

// Done reports whether the run has finished.
func (o *Orchestrator) Done() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Participants returns a snapshot of every registered participant.
func (o *Orchestrator) Participants() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Status, len(o.participants))
	for i, p := range o.participants {
		out[i] = Status{ID: p.id, Name: p.name, Reported: p.reported, Released: p.released}
	}
	return out
}

func (o *Orchestrator) participantLocked(id ParticipantID) (*participant, error) {
	if id < 0 || int(id) >= len(o.participants) {
		return nil, errors.Wrapf(core.ErrProtocol, "unknown participant %d", id)
	}
	return o.participants[id], nil
}

func (o *Orchestrator) endSignalLocked(phase core.PhaseNumber) *signal {
	s, ok := o.ends[phase]
	if !ok {
		s = newSignal()
		o.ends[phase] = s
	}
	return s
}

// arriveLocked records p as done with the current phase.
func (o *Orchestrator) arriveLocked(p *participant) {
	p.reported = o.phase
	o.arrived++
	if p.blocking(o.phase) {
		o.blockingLeft--
		if o.blockingLeft == 0 {
			o.endSignalLocked(o.phase).close()
		}
	}
	if o.arrived == len(o.participants) {
		o.advanceLocked()
	}
}

func (o *Orchestrator) advanceLocked() {
	next := o.phase + 1
	o.logger.Debug("phase complete", zap.Int("phase", int(o.phase)))
	if int(next) >= o.phaseCount {
		o.logger.Info("run complete", zap.Int("phases", o.phaseCount))
		o.finishLocked()
		return
	}
	o.beginPhaseLocked(next)
}

// beginPhaseLocked moves to phase k and wakes everyone waiting on the
// previous generation. Released participants arrive immediately, which may
// cascade into further advances.
func (o *Orchestrator) beginPhaseLocked(k core.PhaseNumber) {
	if prev, ok := o.ends[o.phase]; ok {
		prev.close()
		delete(o.ends, o.phase)
	}

	o.phase = k
	o.arrived = 0
	o.blocking = 0
	for _, p := range o.participants {
		if p.blocking(k) {
			o.blocking++
		}
	}
	o.blockingLeft = o.blocking

	prev := o.advanced
	o.advanced = newSignal()
	prev.close()

	o.logger.Debug("phase started", zap.Int("phase", int(k)))

	for _, p := range o.participants {
		if p.released {
			o.arriveLocked(p)
			if o.phase != k || o.done {
				return
			}
		}
	}
}

func (o *Orchestrator) finishLocked() {
	o.done = true
	for k, s := range o.ends {
		s.close()
		delete(o.ends, k)
	}
	o.advanced.close()
	o.stopped.close()
}

func (o *Orchestrator) logStall(local core.PhaseNumber) {
	o.mu.Lock()
	var pending []string
	for _, p := range o.participants {
		if !p.released && p.reported < o.phase {
			pending = append(pending, p.name)
		}
	}
	phase := o.phase
	o.mu.Unlock()

	sort.Strings(pending)
	o.logger.Warn("phase barrier stalled",
		zap.Int("phase", int(phase)),
		zap.Int("waitingFrom", int(local)),
		zap.Duration("after", o.stallTimeout),
		zap.Strings("pending", pending))
}
