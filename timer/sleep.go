package timer

import (
	"time"

	"github.com/Swind/go-task-runtime/core"
)

// SleepFuture completes once its deadline passes. Dropping it before then
// cancels the underlying timer.
type SleepFuture struct {
	wheel    *Wheel
	deadline time.Time
	id       ID
	waker    core.Waker
	done     bool
	err      error
}

var (
	_ core.Future[struct{}] = (*SleepFuture)(nil)
	_ core.Dropper          = (*SleepFuture)(nil)
)

// Sleep returns a future that completes d after the wheel's current time.
func Sleep(w *Wheel, d time.Duration) *SleepFuture {
	return SleepUntil(w, w.clock.Now().Add(d))
}

// SleepUntil returns a future that completes at deadline.
func SleepUntil(w *Wheel, deadline time.Time) *SleepFuture {
	return &SleepFuture{wheel: w, deadline: deadline}
}

// Deadline returns the instant the sleep completes.
func (s *SleepFuture) Deadline() time.Time { return s.deadline }

// Poll registers the timer on first use and completes once it fires.
func (s *SleepFuture) Poll(cx *core.Context) core.Poll[struct{}] {
	if s.done {
		return core.Ready(struct{}{})
	}
	if s.err != nil {
		return core.Fail[struct{}](s.err)
	}
	if !cx.ConsumeBudget() {
		cx.Wake(cx.Waker())
		return core.Pending[struct{}]()
	}

	if s.id.IsZero() {
		if !s.wheel.clock.Now().Before(s.deadline) {
			s.done = true
			return core.Ready(struct{}{})
		}
		id, err := s.wheel.Schedule(s.deadline, cx.Waker())
		if err != nil {
			s.err = err
			return core.Fail[struct{}](err)
		}
		s.id = id
		s.waker = cx.Waker()
		return core.Pending[struct{}]()
	}

	if !s.wheel.IsPending(s.id) {
		s.done = true
		s.id = ID{}
		return core.Ready(struct{}{})
	}
	if w := cx.Waker(); !w.WillWake(s.waker) {
		if !s.wheel.Reset(s.id, w) {
			s.done = true
			s.id = ID{}
			return core.Ready(struct{}{})
		}
		s.waker = w
	}
	return core.Pending[struct{}]()
}

// Drop cancels the timer if it has not fired yet.
func (s *SleepFuture) Drop() {
	if !s.id.IsZero() {
		s.wheel.Cancel(s.id)
		s.id = ID{}
	}
}
