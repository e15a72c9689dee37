package taskruntime

import (
	"time"

	"github.com/Swind/go-task-runtime/core"
	"github.com/Swind/go-task-runtime/timer"
)

// TimeoutFuture races a computation against a deadline on the runtime's
// timer wheel. If the deadline passes first the computation is dropped and
// the future fails with core.ErrTimedOut.
type TimeoutFuture[T any] struct {
	inner core.Future[T]
	sleep *timer.SleepFuture

	// outcome is kept once settled so later polls repeat it.
	outcome core.Poll[T]
	done    bool
}

var _ core.Dropper = (*TimeoutFuture[struct{}])(nil)

// Timeout bounds f by d.
func Timeout[T any](h *Handle, d time.Duration, f core.Future[T]) *TimeoutFuture[T] {
	return &TimeoutFuture[T]{inner: f, sleep: h.Sleep(d)}
}

// TimeoutAt bounds f by deadline.
func TimeoutAt[T any](h *Handle, deadline time.Time, f core.Future[T]) *TimeoutFuture[T] {
	return &TimeoutFuture[T]{inner: f, sleep: h.SleepUntil(deadline)}
}

func (t *TimeoutFuture[T]) Poll(cx *core.Context) core.Poll[T] {
	if t.done {
		return t.outcome
	}
	if p := t.inner.Poll(cx); p.IsReady() {
		return t.finish(p)
	}
	sp := t.sleep.Poll(cx)
	if !sp.IsReady() {
		return core.Pending[T]()
	}
	if _, err := sp.Value(); err != nil {
		return t.finish(core.Fail[T](err))
	}
	return t.finish(core.Fail[T](core.ErrTimedOut))
}

func (t *TimeoutFuture[T]) finish(p core.Poll[T]) core.Poll[T] {
	t.outcome, t.done = p, true
	t.Drop()
	return p
}

// Drop releases both the computation and the timer.
func (t *TimeoutFuture[T]) Drop() {
	if t.inner != nil {
		if d, ok := t.inner.(core.Dropper); ok {
			d.Drop()
		}
		t.inner = nil
	}
	if t.sleep != nil {
		t.sleep.Drop()
		t.sleep = nil
	}
}
