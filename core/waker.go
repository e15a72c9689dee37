package core

// wakeTarget is whatever a Waker points at. from is the poll context of the
// task doing the waking, or nil when the wake comes from outside any poll.
type wakeTarget interface {
	wake(from *Context)
}

// Waker requests rescheduling of the task it refers to.
//
// A Waker is a small value: copying it is cloning it. It may be invoked from
// any goroutine, any number of times. Wakes that arrive before the task is
// next polled collapse into a single reschedule, and wakes after the task
// finished are no-ops. The zero Waker does nothing.
type Waker struct {
	target wakeTarget
}

// Wake requests that the task be polled again.
func (w Waker) Wake() {
	if w.target != nil {
		w.target.wake(nil)
	}
}

// IsZero reports whether w refers to nothing.
func (w Waker) IsZero() bool {
	return w.target == nil
}

// WillWake reports whether w and other wake the same task.
func (w Waker) WillWake(other Waker) bool {
	return w.target == other.target
}

type funcWaker struct {
	fn func()
}

func (f *funcWaker) wake(*Context) { f.fn() }

// NewFuncWaker returns a Waker that calls fn on every wake. fn must be safe
// for concurrent use and must not block.
func NewFuncWaker(fn func()) Waker {
	if fn == nil {
		return Waker{}
	}
	return Waker{target: &funcWaker{fn: fn}}
}
