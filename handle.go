package taskruntime

import (
	"context"
	"time"

	"github.com/Swind/go-task-runtime/core"
	"github.com/Swind/go-task-runtime/reactor"
	"github.com/Swind/go-task-runtime/timer"
)

type handleKey struct{}

// Handle is a cheap reference to a Runtime used to spawn tasks and register
// with its reactor and timer wheel. It stays valid after shutdown; spawns are
// then rejected.
type Handle struct {
	rt *Runtime
}

// HandleFrom returns the handle of the runtime driving cx.
func HandleFrom(cx *core.Context) (*Handle, bool) {
	if cx == nil {
		return nil, false
	}
	return HandleFromContext(cx.Context())
}

// HandleFromContext returns the handle stored in ctx by the runtime.
func HandleFromContext(ctx context.Context) (*Handle, bool) {
	if ctx == nil {
		return nil, false
	}
	h, ok := ctx.Value(handleKey{}).(*Handle)
	return h, ok
}

// Runtime returns the runtime behind the handle.
func (h *Handle) Runtime() *Runtime { return h.rt }

// Context is cancelled when the runtime starts shutting down.
func (h *Handle) Context() context.Context { return h.rt.ctx }

// Wheel returns the runtime's timer wheel.
func (h *Handle) Wheel() *timer.Wheel { return h.rt.wheel }

// Reactor returns the runtime's I/O reactor.
func (h *Handle) Reactor() *reactor.Reactor { return h.rt.reactor }

// Now reads the runtime's clock.
func (h *Handle) Now() time.Time { return h.rt.cfg.Clock.Now() }

// Sleep returns a future that completes after d.
func (h *Handle) Sleep(d time.Duration) *timer.SleepFuture {
	return timer.Sleep(h.rt.wheel, d)
}

// SleepUntil returns a future that completes at deadline.
func (h *Handle) SleepUntil(deadline time.Time) *timer.SleepFuture {
	return timer.SleepUntil(h.rt.wheel, deadline)
}

// Readable returns a future that completes once fd is readable.
func (h *Handle) Readable(fd int) *reactor.ReadinessFuture {
	return h.rt.reactor.Readiness(fd, reactor.Readable)
}

// Writable returns a future that completes once fd is writable.
func (h *Handle) Writable(fd int) *reactor.ReadinessFuture {
	return h.rt.reactor.Readiness(fd, reactor.Writable)
}
