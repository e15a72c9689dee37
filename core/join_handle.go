package core

import (
	"context"
	"fmt"
)

// JoinHandle awaits the result of a spawned task.
//
// Dropping a JoinHandle does not cancel the task; it simply runs detached.
type JoinHandle[T any] struct {
	cell *Cell
}

// NewJoinHandle returns a handle for c. The cell must have been built by
// NewCell with the same T.
func NewJoinHandle[T any](c *Cell) *JoinHandle[T] {
	return &JoinHandle[T]{cell: c}
}

// ID returns the task identifier.
func (h *JoinHandle[T]) ID() TaskID { return h.cell.ID() }

// Cell exposes the underlying cell to schedulers.
func (h *JoinHandle[T]) Cell() *Cell { return h.cell }

// IsFinished reports whether the task reached Complete or Cancelled.
func (h *JoinHandle[T]) IsFinished() bool { return h.cell.IsTerminal() }

// Done is closed when the task finishes.
func (h *JoinHandle[T]) Done() <-chan struct{} { return h.cell.Done() }

// Cancel requests cancellation of the task. It is idempotent and reports
// whether this call was the one that requested it.
func (h *JoinHandle[T]) Cancel() bool { return h.cell.Cancel() }

// Wait blocks the calling goroutine until the task finishes or ctx is done.
// It must not be called from inside a poll; use the handle as a Future there.
func (h *JoinHandle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.cell.Done():
		return h.result()
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("wait for %s: %w", h.cell.ID(), ctx.Err())
	}
}

// Poll lets other tasks await this one. Any number of tasks may await the
// same handle; each is woken once the task finishes.
func (h *JoinHandle[T]) Poll(cx *Context) Poll[T] {
	if h.cell.addJoinWaker(cx.Waker()) {
		v, err := h.result()
		if err != nil {
			return Fail[T](err)
		}
		return Ready(v)
	}
	return Pending[T]()
}

func (h *JoinHandle[T]) result() (T, error) {
	var zero T
	v, err := h.cell.Result()
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	tv, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("task %s result has type %T", h.cell.ID(), v)
	}
	return tv, nil
}
