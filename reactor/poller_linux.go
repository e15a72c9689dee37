//go:build linux

package reactor

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Swind/go-task-runtime/core"
)

const maxEpollEvents = 256

// epollPoller watches descriptors with level-triggered epoll and uses an
// eventfd for wake-ups.
type epollPoller struct {
	epfd   int
	wakeFd int
	buf    [maxEpollEvents]unix.EpollEvent
	closed atomic.Bool
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("register wake fd: %w", err)
	}
	return &epollPoller{epfd: epfd, wakeFd: wakeFd}, nil
}

func interestToEpoll(i Interest) uint32 {
	var ev uint32
	if i&Readable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if i&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func epollToInterest(ev uint32) Interest {
	var i Interest
	if ev&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLPRI) != 0 {
		i |= Readable
	}
	if ev&unix.EPOLLOUT != 0 {
		i |= Writable
	}
	// Errors and hangups wake both directions so the pending operation
	// observes the failure itself.
	if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		i |= ReadWrite
	}
	return i
}

func (p *epollPoller) arm(fd int, prev, next Interest) error {
	if p.closed.Load() {
		return core.ErrDriverClosed
	}
	if fd == p.wakeFd {
		return fmt.Errorf("fd %d is the reactor's wake fd: %w", fd, unix.EINVAL)
	}
	switch {
	case next == 0 && prev == 0:
		return nil
	case next == 0:
		err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
			// Already gone, e.g. the descriptor was closed first.
			return nil
		}
		return err
	case prev == 0:
		ev := unix.EpollEvent{Events: interestToEpoll(next), Fd: int32(fd)}
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	default:
		ev := unix.EpollEvent{Events: interestToEpoll(next), Fd: int32(fd)}
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
}

func (p *epollPoller) wait(events []readyEvent, timeout time.Duration) (int, error) {
	if p.closed.Load() {
		return 0, core.ErrDriverClosed
	}
	ms := -1
	if timeout >= 0 {
		// Round up so a wait never returns before the deadline it targets.
		ms64 := (timeout + time.Millisecond - 1) / time.Millisecond
		ms = int(min(int64(ms64), math.MaxInt32))
	}
	limit := min(len(events), maxEpollEvents)
	n, err := unix.EpollWait(p.epfd, p.buf[:limit], ms)
	if err != nil {
		return 0, err
	}
	out := 0
	for i := range n {
		ev := p.buf[i]
		fd := int(ev.Fd)
		if fd == p.wakeFd {
			p.drainWake()
			continue
		}
		events[out] = readyEvent{fd: fd, ready: epollToInterest(ev.Events)}
		out++
	}
	return out, nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

func (p *epollPoller) wake() error {
	if p.closed.Load() {
		return nil
	}
	one := [8]byte{1}
	_, err := unix.Write(p.wakeFd, one[:])
	if errors.Is(err, unix.EAGAIN) {
		// Counter saturated; a wake is already pending.
		return nil
	}
	return err
}

func (p *epollPoller) close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(unix.Close(p.wakeFd), unix.Close(p.epfd))
}

func classifyPollError(err error) errorClass {
	switch {
	case errors.Is(err, unix.EINTR):
		return errRetry
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOMEM):
		return errTransient
	default:
		return errFatal
	}
}
