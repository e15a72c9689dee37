package core

import "context"

// Scheduler receives cells that became runnable.
//
// Schedule is called exactly once per Idle→Scheduled transition. from is the
// poll context of the task that caused the wake when it belongs to the same
// scheduler, which lets a worker keep the cell on its own local queue.
// Release is called once when the cell reaches a terminal state.
type Scheduler interface {
	Schedule(c *Cell, from *Context)
	Release(c *Cell)
}

// Context is handed to Future.Poll. It is only valid for the duration of
// that single poll call.
type Context struct {
	ctx   context.Context
	waker Waker
	sched Scheduler
	local any

	budget    int
	unbounded bool
}

// NewContext creates a poll context. budget <= 0 disables cooperative
// yielding. local is private to the scheduler (e.g. its worker).
func NewContext(ctx context.Context, waker Waker, sched Scheduler, local any, budget int) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		ctx:       ctx,
		waker:     waker,
		sched:     sched,
		local:     local,
		budget:    budget,
		unbounded: budget <= 0,
	}
}

// Context returns the runtime's context. It is cancelled when the runtime
// starts shutting down and carries the runtime handle as a value.
func (cx *Context) Context() context.Context {
	return cx.ctx
}

// Waker returns a waker for the task being polled.
func (cx *Context) Waker() Waker {
	return cx.waker
}

// Scheduler returns the scheduler driving the current poll.
func (cx *Context) Scheduler() Scheduler {
	return cx.sched
}

// Local returns the scheduler-private value passed to NewContext.
func (cx *Context) Local() any {
	return cx.local
}

// Wake invokes w from inside a poll. When w belongs to a task of the same
// scheduler, the task is queued on the current worker rather than the
// shared queue.
func (cx *Context) Wake(w Waker) {
	if c, ok := w.target.(*Cell); ok && cx.sched != nil && c.sched == cx.sched {
		c.wake(cx)
		return
	}
	w.Wake()
}

// ConsumeBudget takes one unit of the poll's cooperative budget. Leaf futures
// call it before doing work; when it returns false they should wake
// themselves and return Pending so the worker can run other tasks.
func (cx *Context) ConsumeBudget() bool {
	if cx.unbounded {
		return true
	}
	if cx.budget <= 0 {
		return false
	}
	cx.budget--
	return true
}

// Rebind points a reused context at another task and restores its budget.
// Schedulers call it before every poll so that one Context per worker can
// serve all polls on that worker.
func (cx *Context) Rebind(waker Waker, budget int) {
	cx.waker = waker
	cx.budget = budget
	cx.unbounded = budget <= 0
}
