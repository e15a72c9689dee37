// Package reactor multiplexes I/O readiness and timer expiry onto a single
// blocking goroutine and turns both into task wakes.
package reactor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-task-runtime/core"
	"github.com/Swind/go-task-runtime/timer"
)

const (
	eventBatch = 256

	minBackoff = time.Millisecond
	maxBackoff = 100 * time.Millisecond
)

type registration struct {
	armed Interest
	read  core.Waker
	write core.Waker
}

// Options configures a Reactor.
type Options struct {
	// Name labels log lines and metrics.
	Name    string
	Logger  core.Logger
	Metrics core.Metrics
	// TimerOnly skips the OS poller; Register then fails with
	// core.ErrIOUnsupported.
	TimerOnly bool
}

// Reactor owns the OS poller and drives the timer wheel. Its goroutine blocks
// in the poller with a timeout bounded by the wheel's next deadline, so a
// single blocking point serves both I/O and timers.
type Reactor struct {
	name    string
	logger  core.Logger
	metrics core.Metrics
	wheel   *timer.Wheel

	mu     sync.Mutex
	poller poller
	regs   map[int]*registration
	fatal  error

	started atomic.Bool
	closing atomic.Bool
	done    chan struct{}

	turns   atomic.Uint64
	retries atomic.Uint64
}

// New creates a reactor for wheel. It fails only if the OS poller cannot be
// created.
func New(wheel *timer.Wheel, opts Options) (*Reactor, error) {
	if opts.TimerOnly {
		return newWithPoller(wheel, newTimerPoller(), opts), nil
	}
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("create poller: %w", err)
	}
	return newWithPoller(wheel, p, opts), nil
}

func newWithPoller(wheel *timer.Wheel, p poller, opts Options) *Reactor {
	r := &Reactor{
		name:    opts.Name,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		wheel:   wheel,
		poller:  p,
		regs:    make(map[int]*registration),
		done:    make(chan struct{}),
	}
	if r.logger == nil {
		r.logger = core.NewNoOpLogger()
	}
	if r.metrics == nil {
		r.metrics = &core.NilMetrics{}
	}
	wheel.OnEarlierDeadline(r.Wake)
	return r
}

// Wheel returns the timer wheel driven by this reactor.
func (r *Reactor) Wheel() *timer.Wheel { return r.wheel }

// Start launches the reactor goroutine. Calling it twice is a no-op.
func (r *Reactor) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.loop()
}

// Wake interrupts the blocking wait so the reactor recomputes its timeout.
func (r *Reactor) Wake() {
	r.mu.Lock()
	p := r.poller
	r.mu.Unlock()
	if err := p.wake(); err != nil {
		r.logger.Warn("reactor wake failed", core.F("runtime", r.name), core.F("error", err))
	}
}

// Err returns the fatal error once the reactor has failed or closed.
func (r *Reactor) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// Registered returns the number of descriptors with an armed direction.
func (r *Reactor) Registered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regs)
}

// Turns returns how many times the reactor returned from its blocking wait.
func (r *Reactor) Turns() uint64 { return r.turns.Load() }

// Register arms the directions in interest on fd; waker is woken exactly once
// when any of them becomes ready, after which those directions are disarmed.
// Re-registering a direction with a waker of the same task replaces it; a
// different task's waker is rejected with core.ErrFDAlreadyRegistered.
func (r *Reactor) Register(fd int, interest Interest, waker core.Waker) error {
	if fd < 0 {
		return fmt.Errorf("register fd %d: %w", fd, core.ErrFDNotRegistered)
	}
	interest &= ReadWrite
	if interest == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal != nil {
		return r.fatal
	}

	reg := r.regs[fd]
	prev := Interest(0)
	if reg != nil {
		prev = reg.armed
		if interest&Readable != 0 && reg.armed&Readable != 0 && !reg.read.WillWake(waker) {
			return fmt.Errorf("fd %d %s: %w", fd, Readable, core.ErrFDAlreadyRegistered)
		}
		if interest&Writable != 0 && reg.armed&Writable != 0 && !reg.write.WillWake(waker) {
			return fmt.Errorf("fd %d %s: %w", fd, Writable, core.ErrFDAlreadyRegistered)
		}
	}

	next := prev | interest
	if next != prev {
		if err := r.poller.arm(fd, prev, next); err != nil {
			return fmt.Errorf("arm fd %d for %s: %w", fd, next, err)
		}
	}
	if reg == nil {
		reg = &registration{}
		r.regs[fd] = reg
	}
	reg.armed = next
	if interest&Readable != 0 {
		reg.read = waker
	}
	if interest&Writable != 0 {
		reg.write = waker
	}
	return nil
}

// IsArmed reports whether every direction in interest is still armed on fd.
func (r *Reactor) IsArmed(fd int, interest Interest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.regs[fd]
	return reg != nil && reg.armed&interest == interest
}

// Disarm removes the directions in interest from fd without waking anyone.
func (r *Reactor) Disarm(fd int, interest Interest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.regs[fd]
	if reg == nil {
		return nil
	}
	return r.disarmLocked(fd, reg, interest)
}

// Deregister drops every registration on fd. Call it before closing fd.
func (r *Reactor) Deregister(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.regs[fd]
	if reg == nil {
		return fmt.Errorf("deregister fd %d: %w", fd, core.ErrFDNotRegistered)
	}
	return r.disarmLocked(fd, reg, ReadWrite)
}

func (r *Reactor) disarmLocked(fd int, reg *registration, interest Interest) error {
	next := reg.armed &^ interest
	var err error
	if next != reg.armed && r.fatal == nil {
		err = r.poller.arm(fd, reg.armed, next)
	}
	reg.armed = next
	if interest&Readable != 0 {
		reg.read = core.Waker{}
	}
	if interest&Writable != 0 {
		reg.write = core.Waker{}
	}
	if next == 0 {
		delete(r.regs, fd)
	}
	return err
}

// Close stops the reactor goroutine, closes the poller and wakes every
// remaining registration; their futures then fail with core.ErrDriverClosed.
// Pending timers are dropped without waking.
func (r *Reactor) Close() error {
	if !r.closing.CompareAndSwap(false, true) {
		return nil
	}
	r.Wake()
	if r.started.Load() {
		<-r.done
	}
	r.failAll(core.ErrDriverClosed)
	r.wheel.Clear()

	r.mu.Lock()
	p := r.poller
	r.mu.Unlock()
	return p.close()
}

func (r *Reactor) loop() {
	defer close(r.done)
	events := make([]readyEvent, eventBatch)
	backoff := minBackoff

	for !r.closing.Load() {
		r.turn(events, r.waitTimeout(), &backoff)
	}
}

// Turn runs one blocking wait of at most maxWait (bounded further by the next
// timer deadline), dispatches readiness and fires due timers. It is for
// executors that drive the reactor from their own goroutine instead of
// calling Start. A negative maxWait waits only for the next deadline.
func (r *Reactor) Turn(maxWait time.Duration) {
	timeout := r.waitTimeout()
	if maxWait >= 0 && (timeout < 0 || maxWait < timeout) {
		timeout = maxWait
	}
	backoff := minBackoff
	r.turn(make([]readyEvent, eventBatch), timeout, &backoff)
}

func (r *Reactor) turn(events []readyEvent, timeout time.Duration, backoff *time.Duration) {
	r.mu.Lock()
	p := r.poller
	r.mu.Unlock()

	n, err := p.wait(events, timeout)
	r.turns.Add(1)
	if err != nil {
		switch classifyPollError(err) {
		case errRetry:
		case errTransient:
			r.retries.Add(1)
			r.logger.Warn("reactor poll failed, retrying",
				core.F("runtime", r.name), core.F("error", err), core.F("backoff", *backoff))
			time.Sleep(*backoff)
			*backoff = min(*backoff*2, maxBackoff)
		default:
			r.logger.Error("reactor poller failed, falling back to timers only",
				core.F("runtime", r.name), core.F("error", err))
			r.failAll(fmt.Errorf("%w: %w", core.ErrReactorFatal, err))
			r.mu.Lock()
			old := r.poller
			r.poller = newTimerPoller()
			r.mu.Unlock()
			_ = old.close()
		}
		return
	}
	*backoff = minBackoff

	if n > 0 {
		r.dispatch(events[:n])
	}
	if fired := r.wheel.AdvanceToNow(); fired > 0 {
		r.metrics.RecordTimersFired(r.name, fired)
	}
}

func (r *Reactor) waitTimeout() time.Duration {
	next, ok := r.wheel.NextDeadline()
	if !ok {
		return -1
	}
	d := next.Sub(r.wheel.Clock().Now())
	if d < 0 {
		return 0
	}
	return d
}

func (r *Reactor) dispatch(events []readyEvent) {
	var wakers []core.Waker
	r.mu.Lock()
	for _, ev := range events {
		reg := r.regs[ev.fd]
		if reg == nil {
			continue
		}
		fired := ev.ready & reg.armed
		if fired == 0 {
			continue
		}
		if fired&Readable != 0 {
			wakers = append(wakers, reg.read)
		}
		if fired&Writable != 0 && !(fired&Readable != 0 && reg.write.WillWake(reg.read)) {
			wakers = append(wakers, reg.write)
		}
		if err := r.disarmLocked(ev.fd, reg, fired); err != nil {
			r.logger.Warn("disarm after readiness failed",
				core.F("runtime", r.name), core.F("fd", ev.fd), core.F("error", err))
		}
	}
	r.mu.Unlock()

	for _, w := range wakers {
		w.Wake()
	}
}

// failAll records err as fatal and wakes every registration.
func (r *Reactor) failAll(err error) {
	var wakers []core.Waker
	r.mu.Lock()
	if r.fatal == nil {
		r.fatal = err
	}
	for fd, reg := range r.regs {
		if reg.armed&Readable != 0 {
			wakers = append(wakers, reg.read)
		}
		if reg.armed&Writable != 0 {
			wakers = append(wakers, reg.write)
		}
		delete(r.regs, fd)
	}
	r.mu.Unlock()

	for _, w := range wakers {
		w.Wake()
	}
}

func errIOUnsupported(fd int) error {
	return fmt.Errorf("fd %d: %w", fd, core.ErrIOUnsupported)
}

// IsFatal reports whether err came from a failed or closed reactor.
func IsFatal(err error) bool {
	return errors.Is(err, core.ErrReactorFatal) || errors.Is(err, core.ErrDriverClosed)
}
