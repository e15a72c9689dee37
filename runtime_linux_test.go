//go:build linux

package taskruntime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Swind/go-task-runtime/core"
)

func newIORuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	rt, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = rt.Shutdown(2 * time.Second) })
	return rt
}

func pipe(t *testing.T) (rfd, wfd int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// readFuture waits for readability and then performs the non-blocking read,
// registering again when the read reports EAGAIN.
func readFuture(h *Handle, fd int) core.Future[string] {
	ready := h.Readable(fd)
	buf := make([]byte, 64)
	return core.FutureFunc[string](func(cx *core.Context) core.Poll[string] {
		for {
			p := ready.Poll(cx)
			if !p.IsReady() {
				return core.Pending[string]()
			}
			if _, err := p.Value(); err != nil {
				return core.Fail[string](err)
			}
			n, err := unix.Read(fd, buf)
			if err == unix.EAGAIN {
				ready = h.Readable(fd)
				continue
			}
			if err != nil {
				return core.Fail[string](err)
			}
			return core.Ready(string(buf[:n]))
		}
	})
}

// TestRuntime_ReadReadiness verifies a task parked on a pipe resumes when data arrives.
// Given: a multi-thread runtime with a task awaiting readability on an empty pipe
// When: another goroutine writes to the pipe
// Then: the task reads the bytes and completes
func TestRuntime_ReadReadiness(t *testing.T) {
	rt := newIORuntime(t, Config{Workers: 2})
	rfd, wfd := pipe(t)

	jh, err := Spawn(rt.Handle(), readFuture(rt.Handle(), rfd))
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	assert.False(t, jh.IsFinished())
	_, err = unix.Write(wfd, []byte("ping"))
	require.NoError(t, err)

	v, err := jh.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "ping", v)
	assert.Equal(t, 0, rt.Handle().Reactor().Registered())
}

// TestCurrentThread_ReadReadiness verifies BlockOn turns the reactor for I/O.
func TestCurrentThread_ReadReadiness(t *testing.T) {
	rt := newIORuntime(t, Config{Flavor: CurrentThread})
	rfd, wfd := pipe(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = unix.Write(wfd, []byte("pong"))
	}()

	v, err := BlockOn(rt, readFuture(rt.Handle(), rfd))
	require.NoError(t, err)
	assert.Equal(t, "pong", v)
}

// TestRuntime_WriteReadiness verifies an empty pipe is immediately writable.
func TestRuntime_WriteReadiness(t *testing.T) {
	rt := newIORuntime(t, Config{Workers: 1})
	_, wfd := pipe(t)

	_, err := BlockOn[struct{}](rt, rt.Handle().Writable(wfd))
	require.NoError(t, err)
}
