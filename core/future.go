package core

// Poll is the outcome of one attempt to advance a Future.
//
// A Pending poll means the computation registered interest with the reactor,
// the timer wheel, or another waker source before returning. Returning Pending
// without registering anywhere is a programming error: nothing will ever wake
// the task again.
type Poll[T any] struct {
	value T
	err   error
	ready bool
}

// Ready returns a completed poll carrying v.
func Ready[T any](v T) Poll[T] {
	return Poll[T]{value: v, ready: true}
}

// Fail returns a completed poll carrying err. A failed computation is still
// Ready; the runtime never retries it.
func Fail[T any](err error) Poll[T] {
	return Poll[T]{err: err, ready: true}
}

// Pending returns a not-yet-complete poll.
func Pending[T any]() Poll[T] {
	return Poll[T]{}
}

// IsReady reports whether the poll completed.
func (p Poll[T]) IsReady() bool { return p.ready }

// Value returns the result of a ready poll.
func (p Poll[T]) Value() (T, error) { return p.value, p.err }

// Future is a resumable computation driven by repeated Poll calls.
//
// Poll is only ever invoked by the holder of the task's run permit, so a
// Future never needs to guard its own state against concurrent polls.
type Future[T any] interface {
	Poll(cx *Context) Poll[T]
}

// FutureFunc adapts a function to the Future interface.
type FutureFunc[T any] func(cx *Context) Poll[T]

// Poll calls f(cx).
func (f FutureFunc[T]) Poll(cx *Context) Poll[T] { return f(cx) }

// Dropper is implemented by computations that need to release resources when
// the runtime discards them. Drop runs exactly once, after the final poll, on
// cancellation, after a panic, or at shutdown, whichever comes first.
type Dropper interface {
	Drop()
}

// Value returns a Future that completes immediately with v.
func Value[T any](v T) Future[T] {
	return FutureFunc[T](func(*Context) Poll[T] { return Ready(v) })
}

// Lazy returns a Future that runs fn once on its first poll.
func Lazy[T any](fn func() (T, error)) Future[T] {
	return FutureFunc[T](func(*Context) Poll[T] {
		v, err := fn()
		if err != nil {
			return Fail[T](err)
		}
		return Ready(v)
	})
}

type yieldFuture struct {
	yielded bool
}

func (y *yieldFuture) Poll(cx *Context) Poll[struct{}] {
	if y.yielded {
		return Ready(struct{}{})
	}
	y.yielded = true
	cx.Wake(cx.Waker())
	return Pending[struct{}]()
}

// Yield returns a Future that gives the worker back once before completing.
// The task is rescheduled behind the work already queued on its worker.
func Yield() Future[struct{}] {
	return &yieldFuture{}
}
