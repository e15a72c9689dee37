package core

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// State bits of a Cell. Idle is the absence of every bit.
const (
	stateScheduled uint32 = 1 << iota
	stateRunning
	stateNotified
	stateCancelRequested
	stateComplete
	stateCancelled

	stateTerminal = stateComplete | stateCancelled
)

// TaskState is the logical state of a Cell.
type TaskState int

const (
	TaskIdle TaskState = iota
	TaskScheduled
	TaskRunning
	TaskComplete
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskIdle:
		return "Idle"
	case TaskScheduled:
		return "Scheduled"
	case TaskRunning:
		return "Running"
	case TaskComplete:
		return "Complete"
	case TaskCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// RunOutcome reports what happened when a scheduler handed a Cell its turn.
type RunOutcome int

const (
	// RunSkipped means the cell was already terminal; nothing ran.
	RunSkipped RunOutcome = iota
	// RunIdle means the poll returned Pending and no wake arrived meanwhile.
	RunIdle
	// RunRescheduled means a wake arrived during the poll; the caller must
	// enqueue the cell again.
	RunRescheduled
	// RunComplete means the computation produced its result.
	RunComplete
	// RunPanicked means the computation panicked; the result is a *PanicError.
	RunPanicked
	// RunCancelled means a cancel request was honoured instead of, or after, the poll.
	RunCancelled
)

// Cell is the runtime's record of one spawned computation.
//
// The state word arbitrates every race on the cell: the Running bit is the
// run permit, the Notified bit records a wake that arrived mid-poll, and the
// terminal bits are set exactly once. Only the permit holder touches the
// computation, the result slot, or calls the drop hook.
type Cell struct {
	id    TaskID
	name  string
	state atomic.Uint32
	sched Scheduler

	poll func(cx *Context) bool
	drop func()

	value any
	err   error

	mu         sync.Mutex
	joinWakers []Waker
	done       chan struct{}

	polls atomic.Uint64
}

// NewCell wraps f into an Idle cell owned by sched.
func NewCell[T any](sched Scheduler, name string, f Future[T]) *Cell {
	c := &Cell{
		id:    GenerateTaskID(),
		name:  name,
		sched: sched,
		done:  make(chan struct{}),
	}
	c.poll = func(cx *Context) bool {
		p := f.Poll(cx)
		if !p.ready {
			return false
		}
		c.value, c.err = p.value, p.err
		return true
	}
	if d, ok := f.(Dropper); ok {
		c.drop = d.Drop
	}
	return c
}

// ID returns the task identifier.
func (c *Cell) ID() TaskID { return c.id }

// Name returns the optional display name given at spawn.
func (c *Cell) Name() string { return c.name }

// Polls returns how many times the computation has been polled.
func (c *Cell) Polls() uint64 { return c.polls.Load() }

// Waker returns a waker referring to this cell.
func (c *Cell) Waker() Waker { return Waker{target: c} }

// Done is closed once the cell reaches a terminal state.
func (c *Cell) Done() <-chan struct{} { return c.done }

// State returns a snapshot of the logical state.
func (c *Cell) State() TaskState {
	s := c.state.Load()
	switch {
	case s&stateCancelled != 0:
		return TaskCancelled
	case s&stateComplete != 0:
		return TaskComplete
	case s&stateRunning != 0:
		return TaskRunning
	case s&stateScheduled != 0:
		return TaskScheduled
	default:
		return TaskIdle
	}
}

// IsTerminal reports whether the cell completed or was cancelled.
func (c *Cell) IsTerminal() bool {
	return c.state.Load()&stateTerminal != 0
}

// Result returns the stored outcome. It is only meaningful once Done is closed.
func (c *Cell) Result() (any, error) {
	if !c.IsTerminal() {
		return nil, nil
	}
	return c.value, c.err
}

// MarkScheduled performs the Idle→Scheduled transition. It reports false if
// the cell was not Idle (already queued, running, or finished); the caller
// must only enqueue the cell on true.
func (c *Cell) MarkScheduled() bool {
	for {
		s := c.state.Load()
		switch {
		case s&stateTerminal != 0:
			return false
		case s&stateRunning != 0:
			if s&stateNotified != 0 {
				return false
			}
			if c.state.CompareAndSwap(s, s|stateNotified) {
				return false
			}
		case s&stateScheduled != 0:
			return false
		default:
			if c.state.CompareAndSwap(s, s|stateScheduled) {
				return true
			}
		}
	}
}

func (c *Cell) wake(from *Context) {
	if c.MarkScheduled() {
		c.sched.Schedule(c, from)
	}
}

// Run gives the cell its turn. The caller must have dequeued the cell; cx is
// rebound to this cell's waker before polling.
func (c *Cell) Run(cx *Context, budget int) RunOutcome {
	for {
		s := c.state.Load()
		if s&stateTerminal != 0 || s&stateScheduled == 0 || s&stateRunning != 0 {
			return RunSkipped
		}
		if c.state.CompareAndSwap(s, (s&^stateScheduled)|stateRunning) {
			if s&stateCancelRequested != 0 {
				c.finish(cx, stateCancelled, nil, ErrJoinCancelled)
				return RunCancelled
			}
			break
		}
	}

	cx.Rebind(c.Waker(), budget)
	c.polls.Add(1)
	done, perr := c.pollSafely(cx)
	if perr != nil {
		c.finish(cx, stateComplete, nil, perr)
		return RunPanicked
	}
	if done {
		c.finish(cx, stateComplete, c.value, c.err)
		return RunComplete
	}

	for {
		s := c.state.Load()
		switch {
		case s&stateCancelRequested != 0:
			c.finish(cx, stateCancelled, nil, ErrJoinCancelled)
			return RunCancelled
		case s&stateNotified != 0:
			next := (s &^ (stateRunning | stateNotified)) | stateScheduled
			if c.state.CompareAndSwap(s, next) {
				return RunRescheduled
			}
		default:
			if c.state.CompareAndSwap(s, s&^stateRunning) {
				return RunIdle
			}
		}
	}
}

func (c *Cell) pollSafely(cx *Context) (done bool, perr *PanicError) {
	returned := false
	defer func() {
		if returned {
			return
		}
		r := recover()
		perr = &PanicError{Value: r, Stack: debug.Stack(), Goexit: r == nil}
		if perr.Goexit {
			// The goroutine keeps unwinding after this defer, so Run never
			// sees the result; settle the cell here.
			c.finish(nil, stateComplete, nil, perr)
		}
	}()
	done = c.poll(cx)
	returned = true
	return done, nil
}

// Cancel requests cancellation. An Idle or queued cell is cancelled at once
// and its computation dropped; a running cell is cancelled when its current
// poll returns, unless that poll completes it first. Cancel reports whether
// this call changed anything; cancelling a finished or already-cancelling
// cell is a no-op.
func (c *Cell) Cancel() bool {
	for {
		s := c.state.Load()
		if s&stateTerminal != 0 || s&stateCancelRequested != 0 {
			return false
		}
		if s&stateRunning != 0 {
			if c.state.CompareAndSwap(s, s|stateCancelRequested) {
				return true
			}
			continue
		}
		// Not running: take the permit and settle the cell here. A queued
		// copy is skipped by Run because the cell is terminal.
		if c.state.CompareAndSwap(s, s|stateRunning|stateCancelRequested) {
			c.finish(nil, stateCancelled, nil, ErrJoinCancelled)
			return true
		}
	}
}

// finish publishes the result, drops the computation and notifies every join
// waiter. Must be called by the permit holder.
func (c *Cell) finish(cx *Context, terminal uint32, value any, err error) {
	c.value, c.err = value, err
	c.dropComputation()
	c.state.Store(terminal)
	close(c.done)

	c.mu.Lock()
	waiters := c.joinWakers
	c.joinWakers = nil
	c.mu.Unlock()

	for _, w := range waiters {
		if cx != nil {
			cx.Wake(w)
		} else {
			w.Wake()
		}
	}
	if c.sched != nil {
		c.sched.Release(c)
	}
}

func (c *Cell) dropComputation() {
	drop := c.drop
	c.poll = nil
	c.drop = nil
	if drop == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	drop()
}

// addJoinWaker registers w as a join waiter unless a waker for the same task
// is already stored. It reports true if the cell is already terminal, in
// which case w is not stored.
func (c *Cell) addJoinWaker(w Waker) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.IsTerminal() {
		return true
	}
	for _, existing := range c.joinWakers {
		if existing.WillWake(w) {
			return false
		}
	}
	c.joinWakers = append(c.joinWakers, w)
	return false
}

// joinWaiters returns the number of registered join waiters.
func (c *Cell) joinWaiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.joinWakers)
}
