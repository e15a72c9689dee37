//go:build linux

package reactor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Swind/go-task-runtime/core"
	"github.com/Swind/go-task-runtime/timer"
)

func newEpollReactor(t *testing.T) *Reactor {
	t.Helper()
	wheel, err := timer.NewWheel(core.RealClock{}, timer.Options{})
	require.NoError(t, err)
	r, err := New(wheel, Options{Name: "epoll"})
	require.NoError(t, err)
	r.Start()
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func newPipe(t *testing.T) (rfd, wfd int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// TestReactor_ReadReadinessFiresOnce verifies one-shot delivery per direction.
// Given: a registration for readability on an empty pipe
// When: bytes are written to the pipe
// Then: the waker runs exactly once and the registration is cleared
func TestReactor_ReadReadinessFiresOnce(t *testing.T) {
	r := newEpollReactor(t)
	rfd, wfd := newPipe(t)

	var woke atomic.Int32
	require.NoError(t, r.Register(rfd, Readable, core.NewFuncWaker(func() { woke.Add(1) })))
	assert.Equal(t, 1, r.Registered())

	_, err := unix.Write(wfd, []byte("ping"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return woke.Load() == 1 }, 2*time.Second, time.Millisecond)
	// Level-triggered data is still unread, yet no second wake may arrive.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), woke.Load())
	assert.Equal(t, 0, r.Registered())
	assert.False(t, r.IsArmed(rfd, Readable))
}

// TestReactor_WritableImmediately verifies an empty pipe reports writable.
func TestReactor_WritableImmediately(t *testing.T) {
	r := newEpollReactor(t)
	_, wfd := newPipe(t)

	done := make(chan struct{})
	require.NoError(t, r.Register(wfd, Writable, core.NewFuncWaker(func() { close(done) })))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writable readiness never delivered")
	}
}

// TestReactor_SecondWaiterRejected verifies at most one waiter per direction.
func TestReactor_SecondWaiterRejected(t *testing.T) {
	r := newEpollReactor(t)
	rfd, _ := newPipe(t)

	a := core.NewFuncWaker(func() {})
	b := core.NewFuncWaker(func() {})
	require.NoError(t, r.Register(rfd, Readable, a))
	require.NoError(t, r.Register(rfd, Readable, a), "same waiter may refresh")
	assert.ErrorIs(t, r.Register(rfd, Readable, b), core.ErrFDAlreadyRegistered)

	require.NoError(t, r.Deregister(rfd))
	assert.ErrorIs(t, r.Deregister(rfd), core.ErrFDNotRegistered)
	require.NoError(t, r.Register(rfd, Readable, b))
}

// TestReadinessFuture verifies the future completes after data arrives and disarms on drop.
func TestReadinessFuture(t *testing.T) {
	r := newEpollReactor(t)
	rfd, wfd := newPipe(t)

	woke := make(chan struct{}, 4)
	cx := core.NewContext(context.Background(), core.NewFuncWaker(func() { woke <- struct{}{} }), nil, nil, 0)

	f := r.Readiness(rfd, Readable)
	require.False(t, f.Poll(cx).IsReady())

	_, err := unix.Write(wfd, []byte{1})
	require.NoError(t, err)
	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("future never woken")
	}
	assert.True(t, f.Poll(cx).IsReady())

	abandoned := r.Readiness(wfd+100, Readable)
	p := abandoned.Poll(cx)
	require.True(t, p.IsReady(), "registering a bad fd fails the future")
	_, err = p.Value()
	assert.Error(t, err)

	g := r.Readiness(rfd, Writable)
	_ = g.Poll(cx)
	g.Drop()
	assert.False(t, r.IsArmed(rfd, Writable))
}

// TestReactor_TransientErrorsRetried verifies EINTR and EAGAIN do not fail the reactor.
func TestReactor_TransientErrorsRetried(t *testing.T) {
	wheel, err := timer.NewWheel(core.RealClock{}, timer.Options{})
	require.NoError(t, err)
	fp := newFakePoller()
	r := newWithPoller(wheel, fp, Options{Name: "transient"})
	r.Start()
	t.Cleanup(func() { _ = r.Close() })

	fp.errs <- unix.EINTR
	fp.errs <- unix.EAGAIN
	fp.errs <- unix.ENOMEM

	require.Eventually(t, func() bool { return r.retries.Load() == 2 }, 2*time.Second, time.Millisecond)
	assert.NoError(t, r.Err())
	assert.False(t, fp.closed.Load())
}
