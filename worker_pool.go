package taskruntime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-task-runtime/core"
)

// workerPool is the multi-thread executor: a fixed set of workers, each with
// a bounded local queue, sharing one global queue and stealing from each
// other when idle.
type workerPool struct {
	rt      *Runtime
	cfg     Config
	global  *core.GlobalQueue
	workers []*worker
	sleeper *sleeper

	stopCh  chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

var _ Executor = (*workerPool)(nil)

func newWorkerPool(rt *Runtime) *workerPool {
	p := &workerPool{
		rt:      rt,
		cfg:     rt.cfg,
		global:  core.NewGlobalQueue(),
		sleeper: newSleeper(rt.cfg.Workers),
		stopCh:  make(chan struct{}),
	}
	p.workers = make([]*worker, rt.cfg.Workers)
	for i := range p.workers {
		p.workers[i] = newWorker(p, i)
	}
	return p
}

func (p *workerPool) start() {
	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run()
	}
}

// Schedule queues a cell that just became Scheduled. A wake coming from a
// poll on one of this pool's workers stays on that worker's local queue.
func (p *workerPool) Schedule(c *core.Cell, from *core.Context) {
	if from != nil {
		if w, ok := from.Local().(*worker); ok && w.pool == p {
			if moved := w.local.PushOrOverflow(c, p.global); moved > 0 {
				p.cfg.Metrics.RecordQueueDepth(p.cfg.Name, -1, p.global.Len())
			}
			p.notifyParked()
			return
		}
	}
	p.global.Push(c)
	p.notifyParked()
}

func (p *workerPool) Release(c *core.Cell) {
	p.rt.release(c)
}

// notifyParked unparks one idle worker unless every worker is busy or a
// searching worker will pick the work up.
func (p *workerPool) notifyParked() {
	if idx, ok := p.sleeper.popWorker(); ok {
		p.workers[idx].unparkSignal()
	}
}

// hasWork reports whether any queue holds a cell.
func (p *workerPool) hasWork() bool {
	if !p.global.IsEmpty() {
		return true
	}
	for _, w := range p.workers {
		if w.local.Len() > 0 {
			return true
		}
	}
	return false
}

// shutdown stops the workers and waits for them until deadline. Workers still
// inside a poll at the deadline are left running and counted.
func (p *workerPool) shutdown(deadline time.Time) int {
	if !p.stopped.CompareAndSwap(false, true) {
		return 0
	}
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}

	detached := 0
	for _, w := range p.workers {
		if w.current.Load() != nil {
			detached++
		}
	}
	// Every queued cell is terminal by now; drop the references.
	p.global.Drain()
	for _, w := range p.workers {
		w.local.Drain()
	}
	return detached
}

func (p *workerPool) workerStats() []core.WorkerStats {
	stats := make([]core.WorkerStats, len(p.workers))
	for i, w := range p.workers {
		stats[i] = core.WorkerStats{
			Index:    i,
			Queued:   w.local.Len(),
			Polls:    w.polls.Load(),
			Steals:   w.steals.Load(),
			Parks:    w.parks.Load(),
			Restarts: w.restarts.Load(),
			Parked:   p.sleeper.isParked(i),
		}
	}
	return stats
}

func (p *workerPool) queued() (global, local int) {
	for _, w := range p.workers {
		local += w.local.Len()
	}
	return p.global.Len(), local
}
