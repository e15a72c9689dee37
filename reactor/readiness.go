package reactor

import "github.com/Swind/go-task-runtime/core"

// ReadinessFuture completes once fd is ready in the requested direction.
// Readiness is a hint: the caller still performs the non-blocking operation
// and registers again if it reports EAGAIN.
type ReadinessFuture struct {
	r          *Reactor
	fd         int
	interest   Interest
	registered bool
	done       bool
}

var (
	_ core.Future[struct{}] = (*ReadinessFuture)(nil)
	_ core.Dropper          = (*ReadinessFuture)(nil)
)

// Readiness returns a future that waits for interest on fd.
func (r *Reactor) Readiness(fd int, interest Interest) *ReadinessFuture {
	return &ReadinessFuture{r: r, fd: fd, interest: interest & ReadWrite}
}

func (f *ReadinessFuture) Poll(cx *core.Context) core.Poll[struct{}] {
	if f.done {
		return core.Ready(struct{}{})
	}
	if !cx.ConsumeBudget() {
		cx.Wake(cx.Waker())
		return core.Pending[struct{}]()
	}
	if f.registered && !f.r.IsArmed(f.fd, f.interest) {
		f.registered = false
		if err := f.r.Err(); err != nil {
			return core.Fail[struct{}](err)
		}
		f.done = true
		return core.Ready(struct{}{})
	}
	// Registering again refreshes the waker if the task was moved.
	if err := f.r.Register(f.fd, f.interest, cx.Waker()); err != nil {
		return core.Fail[struct{}](err)
	}
	f.registered = true
	return core.Pending[struct{}]()
}

// Drop disarms the direction if the future is abandoned before readiness.
func (f *ReadinessFuture) Drop() {
	if f.registered {
		_ = f.r.Disarm(f.fd, f.interest)
		f.registered = false
	}
}
