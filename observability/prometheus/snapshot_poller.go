package prometheus

import (
	"context"
	"strconv"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-task-runtime/core"
)

// RuntimeSnapshotProvider provides current runtime stats snapshots.
// *taskruntime.Runtime implements it.
type RuntimeSnapshotProvider interface {
	Stats() core.RuntimeStats
}

// SnapshotPoller periodically exports runtime Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	runtimesMu sync.RWMutex
	runtimes   map[string]RuntimeSnapshotProvider

	liveTasks    *prom.GaugeVec
	queued       *prom.GaugeVec
	tasks        *prom.GaugeVec
	timers       *prom.GaugeVec
	ioRegistered *prom.GaugeVec
	workers      *prom.GaugeVec
	running      *prom.GaugeVec
	workerPolls  *prom.GaugeVec
	workerParked *prom.GaugeVec

	stateMu sync.Mutex
	active  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "taskruntime"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	p := &SnapshotPoller{
		interval:     interval,
		runtimes:     make(map[string]RuntimeSnapshotProvider),
		liveTasks:    gauge("runtime_live_tasks", "Spawned tasks not yet finished.", "runtime", "flavor"),
		queued:       gauge("runtime_queued", "Runnable tasks waiting in run queues.", "runtime", "queue"),
		tasks:        gauge("runtime_tasks", "Task counter snapshot by outcome.", "runtime", "outcome"),
		timers:       gauge("runtime_timers", "Pending timers in the wheel.", "runtime"),
		ioRegistered: gauge("runtime_io_registrations", "File descriptors registered with the reactor.", "runtime"),
		workers:      gauge("runtime_workers", "Worker count per runtime.", "runtime"),
		running:      gauge("runtime_running", "Runtime running state (1=running, 0=stopping or stopped).", "runtime"),
		workerPolls:  gauge("worker_polls", "Polls performed by each worker.", "runtime", "worker"),
		workerParked: gauge("worker_parked", "Worker parked state (1=parked, 0=active).", "runtime", "worker"),
	}

	var err error
	for _, g := range []**prom.GaugeVec{
		&p.liveTasks, &p.queued, &p.tasks, &p.timers, &p.ioRegistered,
		&p.workers, &p.running, &p.workerPolls, &p.workerParked,
	} {
		if *g, err = registerCollector(reg, *g); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddRuntime adds or replaces a runtime snapshot provider by name.
func (p *SnapshotPoller) AddRuntime(name string, provider RuntimeSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "runtime")
	p.runtimesMu.Lock()
	p.runtimes[name] = provider
	p.runtimesMu.Unlock()
}

// RemoveRuntime removes a runtime snapshot provider by name.
func (p *SnapshotPoller) RemoveRuntime(name string) {
	if p == nil {
		return
	}
	name = normalizeLabel(name, "runtime")
	p.runtimesMu.Lock()
	delete(p.runtimes, name)
	p.runtimesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.active {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.active = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.active {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.active = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce()
		}
	}
}

// CollectOnce exports one snapshot of every registered runtime.
func (p *SnapshotPoller) CollectOnce() {
	p.runtimesMu.RLock()
	defer p.runtimesMu.RUnlock()

	for name, provider := range p.runtimes {
		s := provider.Stats()
		p.liveTasks.WithLabelValues(name, normalizeLabel(s.Flavor, "unknown")).Set(float64(s.LiveTasks))
		p.queued.WithLabelValues(name, "global").Set(float64(s.GlobalQueued))
		p.queued.WithLabelValues(name, "local").Set(float64(s.LocalQueued))
		p.tasks.WithLabelValues(name, "spawned").Set(float64(s.Spawned))
		p.tasks.WithLabelValues(name, "completed").Set(float64(s.Completed))
		p.tasks.WithLabelValues(name, "cancelled").Set(float64(s.Cancelled))
		p.tasks.WithLabelValues(name, "panicked").Set(float64(s.Panicked))
		p.tasks.WithLabelValues(name, "rejected").Set(float64(s.Rejected))
		p.timers.WithLabelValues(name).Set(float64(s.Timers))
		p.ioRegistered.WithLabelValues(name).Set(float64(s.IORegistered))
		p.workers.WithLabelValues(name).Set(float64(s.Workers))
		p.running.WithLabelValues(name).Set(boolGauge(s.State == "running"))
		for _, w := range s.PerWorker {
			idx := strconv.Itoa(w.Index)
			p.workerPolls.WithLabelValues(name, idx).Set(float64(w.Polls))
			p.workerParked.WithLabelValues(name, idx).Set(boolGauge(w.Parked))
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
