package taskruntime

import (
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Swind/go-task-runtime/core"
)

type worker struct {
	pool   *workerPool
	index  int
	local  *core.LocalQueue
	cx     *core.Context
	unpark chan struct{}
	rng    *rand.Rand

	// Owned by the worker goroutine.
	tick      uint32
	searching bool

	current  atomic.Pointer[core.Cell]
	polls    atomic.Uint64
	steals   atomic.Uint64
	parks    atomic.Uint64
	restarts atomic.Uint64
}

func newWorker(p *workerPool, index int) *worker {
	w := &worker{
		pool:   p,
		index:  index,
		local:  core.NewLocalQueue(p.cfg.LocalQueueCapacity),
		unpark: make(chan struct{}, 1),
		rng:    rand.New(rand.NewPCG(uint64(index)+1, uint64(time.Now().UnixNano()))),
	}
	w.cx = core.NewContext(p.rt.ctx, core.Waker{}, p, w, p.cfg.PollBudget)
	return w
}

func (w *worker) unparkSignal() {
	select {
	case w.unpark <- struct{}{}:
	default:
	}
}

// run is the worker goroutine. If a task ends the goroutine with
// runtime.Goexit, the deferred handler moves the local queue to the global
// queue and starts a replacement goroutine for the same slot.
func (w *worker) run() {
	p := w.pool
	exited := false
	defer func() {
		if !exited {
			w.recoverSlot()
		}
		p.wg.Done()
	}()

	if p.cfg.PinWorkers {
		runtime.LockOSThread()
		if err := pinToCPU(w.index); err != nil {
			p.cfg.Logger.Warn("failed to pin worker",
				core.F("runtime", p.cfg.Name), core.F("worker", w.index), core.F("error", err))
		}
	}

	for !p.stopped.Load() {
		c := w.next()
		if c == nil {
			if !w.park() {
				break
			}
			continue
		}
		if w.searching {
			w.searching = false
			if p.sleeper.decSearching() {
				p.notifyParked()
			}
		}
		w.runTask(c)
	}
	exited = true
}

func (w *worker) recoverSlot() {
	p := w.pool
	if c := w.current.Swap(nil); c != nil {
		p.rt.reportPanic(c, w.index)
	}
	if w.searching {
		w.searching = false
		p.sleeper.decSearching()
	}
	if cells := w.local.Drain(); len(cells) > 0 {
		p.global.PushBatch(cells)
	}
	w.restarts.Add(1)
	p.cfg.Logger.Warn("worker goroutine exited during a poll, restarting",
		core.F("runtime", p.cfg.Name), core.F("worker", w.index))

	if !p.stopped.Load() {
		p.wg.Add(1)
		go w.run()
	}
	p.notifyParked()
}

func (w *worker) runTask(c *core.Cell) {
	p := w.pool
	w.current.Store(c)
	start := time.Now()
	outcome := c.Run(w.cx, p.cfg.PollBudget)
	w.current.Store(nil)
	// Do not keep the last task reachable from the reused context.
	w.cx.Rebind(core.Waker{}, p.cfg.PollBudget)
	if outcome == core.RunSkipped {
		return
	}
	w.polls.Add(1)
	p.cfg.Metrics.RecordPollDuration(p.cfg.Name, time.Since(start))

	switch outcome {
	case core.RunRescheduled:
		w.local.PushOrOverflow(c, p.global)
	case core.RunPanicked:
		p.rt.reportPanic(c, w.index)
	}
}

// next picks the next cell: the global queue first on every
// GlobalQueueInterval-th tick, then the local queue, the global queue, and
// finally a steal from a random peer.
func (w *worker) next() *core.Cell {
	p := w.pool
	w.tick++
	if w.tick%uint32(p.cfg.GlobalQueueInterval) == 0 {
		p.cfg.Metrics.RecordQueueDepth(p.cfg.Name, w.index, w.local.Len())
		if c := w.pullGlobal(); c != nil {
			return c
		}
	}
	if c, ok := w.local.Pop(); ok {
		return c
	}
	if c := w.pullGlobal(); c != nil {
		return c
	}
	return w.steal()
}

// pullGlobal moves a batch from the global queue to the local queue and
// returns its first cell.
func (w *worker) pullGlobal() *core.Cell {
	p := w.pool
	room := w.local.Capacity() - w.local.Len()
	cells := p.global.PopUpTo(min(p.cfg.GlobalBatch, room+1))
	if len(cells) == 0 {
		return nil
	}
	for _, c := range cells[1:] {
		if !w.local.Push(c) {
			p.global.Push(c)
		}
	}
	return cells[0]
}

func (w *worker) steal() *core.Cell {
	p := w.pool
	n := len(p.workers)
	if n == 1 {
		return nil
	}
	if !w.searching {
		if !p.sleeper.tryIncSearching() {
			return nil
		}
		w.searching = true
	}

	start := w.rng.IntN(n)
	for i := range n {
		victim := p.workers[(start+i)%n]
		if victim == w {
			continue
		}
		if c, k := victim.local.StealInto(w.local); c != nil {
			w.steals.Add(uint64(k))
			p.cfg.Metrics.RecordSteal(p.cfg.Name, k)
			return c
		}
	}
	// Work may have reached the global queue during the scan.
	return w.pullGlobal()
}

// park publishes the worker as idle and sleeps until unparked, the keep-alive
// period passes, or the pool stops. It reports false when the pool stopped.
func (w *worker) park() bool {
	p := w.pool
	if w.searching {
		w.searching = false
		p.sleeper.decSearching()
	}
	p.sleeper.pushWorker(w.index)

	// Re-check after publishing idleness so a concurrent push is not missed.
	if p.hasWork() || p.stopped.Load() {
		if p.sleeper.cancelPark(w.index) {
			return !p.stopped.Load()
		}
	}

	w.parks.Add(1)
	keepAlive := time.NewTimer(p.cfg.KeepAlive)
	defer keepAlive.Stop()
	select {
	case <-w.unpark:
	case <-keepAlive.C:
		p.sleeper.cancelPark(w.index)
	case <-p.stopCh:
		return false
	}
	return true
}
