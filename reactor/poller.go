package reactor

import "time"

// readyEvent is one readiness report from the OS poller.
type readyEvent struct {
	fd    int
	ready Interest
}

// poller is the OS readiness facility behind the reactor. Only the reactor
// goroutine calls wait; every other method may be called concurrently.
type poller interface {
	// arm sets the directions watched on fd. prev is what was armed before;
	// an empty set removes fd from the poller.
	arm(fd int, prev, next Interest) error
	// wait blocks until readiness, a wake, or timeout. A negative timeout
	// blocks indefinitely.
	wait(events []readyEvent, timeout time.Duration) (int, error)
	// wake interrupts a blocked wait.
	wake() error
	close() error
}

type errorClass int

const (
	errRetry errorClass = iota
	errTransient
	errFatal
)

// timerPoller is the poller used where no OS readiness facility is wired in.
// It only sleeps until the next timer deadline or a wake.
type timerPoller struct {
	wakeCh chan struct{}
}

func newTimerPoller() *timerPoller {
	return &timerPoller{wakeCh: make(chan struct{}, 1)}
}

func (p *timerPoller) arm(fd int, prev, next Interest) error {
	if next == 0 {
		return nil
	}
	return errIOUnsupported(fd)
}

func (p *timerPoller) wait(events []readyEvent, timeout time.Duration) (int, error) {
	if timeout == 0 {
		select {
		case <-p.wakeCh:
		default:
		}
		return 0, nil
	}
	if timeout < 0 {
		<-p.wakeCh
		return 0, nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.wakeCh:
	case <-t.C:
	}
	return 0, nil
}

func (p *timerPoller) wake() error {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

func (p *timerPoller) close() error { return nil }
