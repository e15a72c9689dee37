package taskruntime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Swind/go-task-runtime/core"
	"github.com/Swind/go-task-runtime/reactor"
	"github.com/Swind/go-task-runtime/timer"
)

type lifecycle int32

const (
	stateRunning lifecycle = iota
	stateStopping
	stateStopped
)

func (s lifecycle) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Executor is the scheduling backend behind a Runtime. It is sealed: the
// runtime ships the work-stealing pool and the current-thread executor.
type Executor interface {
	core.Scheduler

	start()
	// shutdown stops the executor and waits for its goroutines until
	// deadline; it returns how many tasks were still mid-poll.
	shutdown(deadline time.Time) int
	workerStats() []core.WorkerStats
	queued() (global, local int)
}

// ShutdownReport summarises what Shutdown had to do.
type ShutdownReport struct {
	// Cancelled is the number of tasks that ended Cancelled during shutdown.
	Cancelled int
	// Detached is the number of tasks still inside a poll at the deadline.
	// A task that is merely Pending forever, never Ready and never dropping
	// its interest, is not detached: it is cancelled in place and counted in
	// Cancelled.
	Detached int
	Elapsed  time.Duration
}

// Runtime owns the executor, the reactor and the timer wheel.
type Runtime struct {
	id      string
	cfg     Config
	exec    Executor
	wheel   *timer.Wheel
	reactor *reactor.Reactor
	handle  *Handle

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state lifecycle
	live  map[*core.Cell]time.Time

	history   *core.ExecutionHistory
	spawned   atomic.Uint64
	completed atomic.Uint64
	cancelled atomic.Uint64
	panicked  atomic.Uint64
	rejected  atomic.Uint64

	shutdownOnce sync.Once
	report       ShutdownReport
	reportErr    error
}

// New builds and starts a runtime. It fails on invalid configuration or when
// the OS poller cannot be created.
func New(cfg Config) (*Runtime, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid runtime config: %w", err)
	}

	wheel, err := timer.NewWheel(cfg.Clock, timer.Options{
		Resolution: cfg.TimerResolution,
		Horizon:    cfg.MaxTimerHorizon,
	})
	if err != nil {
		return nil, fmt.Errorf("create timer wheel: %w", err)
	}
	rc, err := reactor.New(wheel, reactor.Options{
		Name:      cfg.Name,
		Logger:    cfg.Logger,
		Metrics:   cfg.Metrics,
		TimerOnly: cfg.DisableIO,
	})
	if err != nil {
		return nil, fmt.Errorf("create reactor: %w", err)
	}

	rt := &Runtime{
		id:      uuid.NewString(),
		cfg:     cfg,
		wheel:   wheel,
		reactor: rc,
		live:    make(map[*core.Cell]time.Time),
		history: core.NewExecutionHistory(cfg.TaskHistoryCapacity),
	}
	rt.handle = &Handle{rt: rt}
	ctx, cancel := context.WithCancel(context.Background())
	rt.ctx = context.WithValue(ctx, handleKey{}, rt.handle)
	rt.cancel = cancel

	switch cfg.Flavor {
	case CurrentThread:
		rt.exec = newCurrentThread(rt)
	default:
		rt.exec = newWorkerPool(rt)
		rc.Start()
	}
	rt.exec.start()

	cfg.Logger.Info("runtime started",
		core.F("runtime", cfg.Name),
		core.F("id", rt.id),
		core.F("flavor", cfg.Flavor.String()),
		core.F("workers", cfg.Workers),
	)
	return rt, nil
}

// ID returns the runtime's unique instance ID.
func (rt *Runtime) ID() string { return rt.id }

// Name returns the configured name.
func (rt *Runtime) Name() string { return rt.cfg.Name }

// Config returns the effective configuration.
func (rt *Runtime) Config() Config { return rt.cfg }

// Handle returns the handle used to spawn and register with this runtime.
func (rt *Runtime) Handle() *Handle { return rt.handle }

// IsRunning reports whether the runtime still accepts spawns.
func (rt *Runtime) IsRunning() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state == stateRunning
}

// CurrentThread returns the driver of a current-thread runtime, or nil for
// the multi-thread flavor.
func (rt *Runtime) CurrentThread() *CurrentThreadDriver {
	if ct, ok := rt.exec.(*currentThread); ok {
		return &CurrentThreadDriver{ct: ct}
	}
	return nil
}

// RecentTasks returns up to limit finished tasks, newest first.
func (rt *Runtime) RecentTasks(limit int) []core.TaskExecutionRecord {
	return rt.history.Recent(limit)
}

// admit registers c as live. It fails once shutdown has begun.
func (rt *Runtime) admit(c *core.Cell) error {
	rt.mu.Lock()
	if rt.state != stateRunning {
		state := rt.state
		rt.mu.Unlock()
		rt.reject(state.String())
		return fmt.Errorf("spawn %s: %w", c.ID(), core.ErrSpawnRejected)
	}
	rt.live[c] = rt.cfg.Clock.Now()
	rt.mu.Unlock()
	rt.spawned.Add(1)
	return nil
}

func (rt *Runtime) reject(reason string) {
	rt.rejected.Add(1)
	rt.cfg.Metrics.RecordTaskRejected(rt.cfg.Name, reason)
	rt.cfg.RejectedTaskHandler.HandleRejectedTask(rt.cfg.Name, reason)
}

// release is the terminal hook shared by both executors.
func (rt *Runtime) release(c *core.Cell) {
	rt.mu.Lock()
	spawnedAt, ok := rt.live[c]
	delete(rt.live, c)
	rt.mu.Unlock()
	if !ok {
		return
	}

	state := c.State()
	_, err := c.Result()
	var perr *core.PanicError
	panicked := errors.As(err, &perr)
	switch {
	case state == core.TaskCancelled:
		rt.cancelled.Add(1)
	case panicked:
		rt.panicked.Add(1)
	default:
		rt.completed.Add(1)
	}

	finishedAt := rt.cfg.Clock.Now()
	rt.history.Add(core.TaskExecutionRecord{
		TaskID:     c.ID(),
		Name:       c.Name(),
		Runtime:    rt.cfg.Name,
		Polls:      c.Polls(),
		SpawnedAt:  spawnedAt,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(spawnedAt),
		State:      state,
		Panicked:   panicked,
	})
}

// reportPanic forwards a task panic to the configured handler and metrics.
func (rt *Runtime) reportPanic(c *core.Cell, worker int) {
	_, err := c.Result()
	var perr *core.PanicError
	if !errors.As(err, &perr) {
		return
	}
	rt.cfg.Metrics.RecordTaskPanic(rt.cfg.Name, perr.Value)
	rt.cfg.PanicHandler.HandlePanic(rt.ctx, rt.cfg.Name, worker, perr.Value, perr.Stack)
}

// Shutdown stops the runtime. New spawns are rejected, every live task is
// cancelled, and workers are given until timeout to finish their current
// poll. Tasks still mid-poll then are detached and counted; the error wraps
// core.ErrShutdownTimeout in that case. Calling Shutdown again returns the
// first report.
func (rt *Runtime) Shutdown(timeout time.Duration) (ShutdownReport, error) {
	rt.shutdownOnce.Do(func() {
		rt.report, rt.reportErr = rt.shutdown(timeout)
	})
	return rt.report, rt.reportErr
}

func (rt *Runtime) shutdown(timeout time.Duration) (ShutdownReport, error) {
	start := time.Now()
	deadline := start.Add(timeout)

	rt.mu.Lock()
	rt.state = stateStopping
	cells := make([]*core.Cell, 0, len(rt.live))
	for c := range rt.live {
		cells = append(cells, c)
	}
	rt.mu.Unlock()

	rt.cancel()
	for _, c := range cells {
		c.Cancel()
	}

	detached := rt.exec.shutdown(deadline)
	if err := rt.reactor.Close(); err != nil {
		rt.cfg.Logger.Warn("closing reactor failed", core.F("runtime", rt.cfg.Name), core.F("error", err))
	}

	cancelled := 0
	for _, c := range cells {
		if c.State() == core.TaskCancelled {
			cancelled++
		}
	}

	rt.mu.Lock()
	rt.state = stateStopped
	rt.mu.Unlock()

	report := ShutdownReport{Cancelled: cancelled, Detached: detached, Elapsed: time.Since(start)}
	rt.cfg.Logger.Info("runtime stopped",
		core.F("runtime", rt.cfg.Name),
		core.F("id", rt.id),
		core.F("cancelled", report.Cancelled),
		core.F("detached", report.Detached),
		core.F("elapsed", report.Elapsed),
	)
	if detached > 0 {
		return report, fmt.Errorf("%d tasks detached after %s: %w", detached, timeout, core.ErrShutdownTimeout)
	}
	return report, nil
}

// Stats returns a snapshot of the runtime.
func (rt *Runtime) Stats() core.RuntimeStats {
	rt.mu.Lock()
	state := rt.state
	live := len(rt.live)
	rt.mu.Unlock()

	global, local := rt.exec.queued()
	return core.RuntimeStats{
		ID:           rt.id,
		Name:         rt.cfg.Name,
		Flavor:       rt.cfg.Flavor.String(),
		State:        state.String(),
		Workers:      rt.cfg.Workers,
		GlobalQueued: global,
		LocalQueued:  local,
		LiveTasks:    live,
		Spawned:      rt.spawned.Load(),
		Completed:    rt.completed.Load(),
		Cancelled:    rt.cancelled.Load(),
		Panicked:     rt.panicked.Load(),
		Rejected:     rt.rejected.Load(),
		Timers:       rt.wheel.Len(),
		IORegistered: rt.reactor.Registered(),
		PerWorker:    rt.exec.workerStats(),
	}
}
