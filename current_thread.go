package taskruntime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-task-runtime/core"
)

// currentThread runs every task on whichever goroutine drives it through
// BlockOn or the CurrentThreadDriver. The reactor is not started; the driver
// turns it when there is nothing to run, so tasks, I/O and timers all share
// that one goroutine.
type currentThread struct {
	rt    *Runtime
	cfg   Config
	queue *core.GlobalQueue
	cx    *core.Context

	drive   sync.Mutex
	blocked atomic.Bool
	stopped atomic.Bool
	current atomic.Pointer[core.Cell]
	polls   atomic.Uint64
	turns   atomic.Uint64
}

var _ Executor = (*currentThread)(nil)

func newCurrentThread(rt *Runtime) *currentThread {
	ct := &currentThread{
		rt:    rt,
		cfg:   rt.cfg,
		queue: core.NewGlobalQueue(),
	}
	ct.cx = core.NewContext(rt.ctx, core.Waker{}, ct, nil, rt.cfg.PollBudget)
	return ct
}

func (ct *currentThread) start() {}

func (ct *currentThread) Schedule(c *core.Cell, _ *core.Context) {
	ct.queue.Push(c)
	ct.wakeDriver()
}

func (ct *currentThread) Release(c *core.Cell) {
	ct.rt.release(c)
}

// wakeDriver interrupts a driver blocked in the reactor.
func (ct *currentThread) wakeDriver() {
	if ct.blocked.Load() {
		ct.rt.reactor.Wake()
	}
}

// tick runs one queued cell. The caller holds the drive lock.
func (ct *currentThread) tick() bool {
	if ct.stopped.Load() {
		return false
	}
	c, ok := ct.queue.Pop()
	if !ok {
		return false
	}
	ct.current.Store(c)
	start := time.Now()
	outcome := c.Run(ct.cx, ct.cfg.PollBudget)
	ct.current.Store(nil)
	ct.cx.Rebind(core.Waker{}, ct.cfg.PollBudget)
	if outcome == core.RunSkipped {
		return true
	}
	ct.polls.Add(1)
	ct.cfg.Metrics.RecordPollDuration(ct.cfg.Name, time.Since(start))
	switch outcome {
	case core.RunRescheduled:
		ct.queue.Push(c)
	case core.RunPanicked:
		ct.rt.reportPanic(c, -1)
	}
	return true
}

// runUntilIdle fires due timers and runs queued cells until neither yields
// more work. It returns the number of cells run.
func (ct *currentThread) runUntilIdle() int {
	before := ct.polls.Load()
	for !ct.stopped.Load() {
		fired := ct.rt.wheel.AdvanceToNow()
		if fired > 0 {
			ct.cfg.Metrics.RecordTimersFired(ct.cfg.Name, fired)
		}
		dequeued := false
		for ct.tick() {
			dequeued = true
		}
		if !dequeued && fired == 0 {
			break
		}
	}
	return int(ct.polls.Load() - before)
}

// park blocks in the reactor for at most maxWait unless work is already
// queued or ready reports true. A negative maxWait waits for the next timer,
// I/O event or wake.
func (ct *currentThread) park(maxWait time.Duration, ready func() bool) {
	ct.blocked.Store(true)
	defer ct.blocked.Store(false)
	if ct.stopped.Load() || !ct.queue.IsEmpty() || (ready != nil && ready()) {
		return
	}
	ct.turns.Add(1)
	ct.rt.reactor.Turn(maxWait)
}

// shutdown waits until deadline for the current driver to leave its poll.
func (ct *currentThread) shutdown(deadline time.Time) int {
	if !ct.stopped.CompareAndSwap(false, true) {
		return 0
	}
	ct.rt.reactor.Wake()
	for {
		if ct.drive.TryLock() {
			ct.queue.Drain()
			ct.drive.Unlock()
			return 0
		}
		if !time.Now().Before(deadline) {
			if ct.current.Load() != nil {
				return 1
			}
			return 0
		}
		time.Sleep(time.Millisecond)
	}
}

func (ct *currentThread) workerStats() []core.WorkerStats {
	return []core.WorkerStats{{
		Index:  0,
		Queued: ct.queue.Len(),
		Polls:  ct.polls.Load(),
		Parks:  ct.turns.Load(),
		Parked: ct.blocked.Load(),
	}}
}

func (ct *currentThread) queued() (global, local int) {
	return ct.queue.Len(), 0
}

// CurrentThreadDriver drives a current-thread runtime from the caller's
// goroutine. Only one goroutine drives at a time; concurrent calls serialise.
type CurrentThreadDriver struct {
	ct *currentThread
}

// Tick runs at most one queued task. It reports whether one was dequeued.
func (d *CurrentThreadDriver) Tick() bool {
	d.ct.drive.Lock()
	defer d.ct.drive.Unlock()
	return d.ct.tick()
}

// RunUntilIdle runs tasks and fires due timers until nothing is runnable. It
// returns the number of tasks run.
func (d *CurrentThreadDriver) RunUntilIdle() int {
	d.ct.drive.Lock()
	defer d.ct.drive.Unlock()
	return d.ct.runUntilIdle()
}

// AdvanceTo moves a manual clock to t and fires every timer due by then,
// without running the woken tasks. It returns the number of timers fired.
func (d *CurrentThreadDriver) AdvanceTo(t time.Time) int {
	d.ct.drive.Lock()
	defer d.ct.drive.Unlock()
	if mc, ok := d.ct.cfg.Clock.(*core.ManualClock); ok {
		mc.Set(t)
	}
	return d.ct.rt.wheel.Advance(t)
}

// Turn blocks in the reactor for at most maxWait, then fires due timers and
// dispatches I/O readiness. It returns at once if tasks are queued.
func (d *CurrentThreadDriver) Turn(maxWait time.Duration) {
	d.ct.drive.Lock()
	defer d.ct.drive.Unlock()
	d.ct.park(maxWait, nil)
}

// Run drives the runtime until ctx is done or the runtime shuts down.
func (d *CurrentThreadDriver) Run(ctx context.Context) error {
	ct := d.ct
	stop := context.AfterFunc(ctx, ct.rt.reactor.Wake)
	defer stop()

	ct.drive.Lock()
	defer ct.drive.Unlock()
	for ctx.Err() == nil && !ct.stopped.Load() {
		ct.runUntilIdle()
		ct.park(-1, func() bool { return ctx.Err() != nil })
	}
	return ctx.Err()
}
