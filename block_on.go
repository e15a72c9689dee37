package taskruntime

import (
	"fmt"
	"runtime/debug"

	"github.com/Swind/go-task-runtime/core"
)

// BlockOn drives f to completion on the calling goroutine and returns its
// result. Tasks spawned by f run on the runtime as usual; on a current-thread
// runtime the calling goroutine also runs them, turns the reactor and fires
// timers while f is pending. A panic in f is returned as a *core.PanicError.
// BlockOn must not be called from inside a poll.
func BlockOn[T any](rt *Runtime, f core.Future[T]) (T, error) {
	var zero T
	if !rt.IsRunning() {
		return zero, fmt.Errorf("block on: %w", core.ErrSpawnRejected)
	}
	if d, ok := f.(core.Dropper); ok {
		defer d.Drop()
	}

	signal := make(chan struct{}, 1)
	ct, _ := rt.exec.(*currentThread)
	waker := core.NewFuncWaker(func() {
		select {
		case signal <- struct{}{}:
		default:
		}
		if ct != nil {
			ct.wakeDriver()
		}
	})
	cx := core.NewContext(rt.ctx, waker, nil, nil, rt.cfg.PollBudget)
	signalled := func() bool { return len(signal) > 0 }

	if ct != nil {
		ct.drive.Lock()
		defer ct.drive.Unlock()
	}

	for {
		select {
		case <-signal:
		default:
		}
		cx.Rebind(waker, rt.cfg.PollBudget)
		p, perr := pollRoot(f, cx)
		if perr != nil {
			rt.cfg.Metrics.RecordTaskPanic(rt.cfg.Name, perr.Value)
			rt.cfg.PanicHandler.HandlePanic(rt.ctx, rt.cfg.Name, -1, perr.Value, perr.Stack)
			return zero, perr
		}
		if p.IsReady() {
			return p.Value()
		}

		if ct == nil {
			select {
			case <-signal:
			case <-rt.ctx.Done():
				return zero, fmt.Errorf("block on: runtime shut down: %w", core.ErrDriverClosed)
			}
			continue
		}
		for !signalled() {
			if ct.stopped.Load() {
				return zero, fmt.Errorf("block on: runtime shut down: %w", core.ErrDriverClosed)
			}
			ct.runUntilIdle()
			ct.park(-1, signalled)
		}
	}
}

func pollRoot[T any](f core.Future[T], cx *core.Context) (p core.Poll[T], perr *core.PanicError) {
	defer func() {
		if r := recover(); r != nil {
			perr = &core.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return f.Poll(cx), nil
}
