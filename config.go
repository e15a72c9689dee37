package taskruntime

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/Swind/go-task-runtime/core"
	"github.com/Swind/go-task-runtime/timer"
)

// Flavor selects the executor backend.
type Flavor int

const (
	// MultiThread runs tasks on a work-stealing pool of worker goroutines
	// with a dedicated reactor goroutine.
	MultiThread Flavor = iota
	// CurrentThread runs everything on the goroutine that drives the
	// runtime through BlockOn or the CurrentThread driver.
	CurrentThread
)

func (f Flavor) String() string {
	switch f {
	case MultiThread:
		return "multi_thread"
	case CurrentThread:
		return "current_thread"
	default:
		return fmt.Sprintf("flavor(%d)", int(f))
	}
}

// ParseFlavor accepts "multi_thread" and "current_thread" (also with dashes).
func ParseFlavor(s string) (Flavor, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "multi_thread", "multi":
		return MultiThread, nil
	case "current_thread", "current":
		return CurrentThread, nil
	default:
		return 0, fmt.Errorf("unknown runtime flavor %q", s)
	}
}

const (
	// DefaultGlobalQueueInterval is how many scheduling ticks pass between
	// forced checks of the global queue.
	DefaultGlobalQueueInterval = 61
	// DefaultPollBudget is the cooperative budget handed to each poll.
	DefaultPollBudget = 128
	// DefaultKeepAlive bounds how long a parked worker sleeps before it
	// re-checks the queues on its own.
	DefaultKeepAlive = 10 * time.Second
	// DefaultGlobalBatch is how many cells a worker moves from the global
	// queue to its local queue at once.
	DefaultGlobalBatch = 32

	maxWorkers = 1<<16 - 1
)

// Config is the runtime configuration. The zero value is usable; every
// unset field takes its default in New.
type Config struct {
	// Name labels logs and metrics. Defaults to "taskruntime".
	Name string

	Flavor Flavor

	// Workers is the number of worker goroutines. Defaults to GOMAXPROCS.
	Workers int

	// LocalQueueCapacity is the per-worker ring size, rounded up to a power
	// of two.
	LocalQueueCapacity int

	// GlobalQueueInterval is the fairness ratio between local and global work.
	GlobalQueueInterval int

	// GlobalBatch caps how many cells one global-queue pop moves.
	GlobalBatch int

	// PollBudget is the number of budget units per poll; negative disables
	// cooperative yielding.
	PollBudget int

	// KeepAlive is the parked worker's re-check period.
	KeepAlive time.Duration

	// TimerResolution is the timer wheel tick. Defaults to 1ms.
	TimerResolution time.Duration

	// MaxTimerHorizon caps how far ahead timers may be scheduled. Values
	// beyond the wheel's capacity make New fail.
	MaxTimerHorizon time.Duration

	// Clock drives the timer wheel. Defaults to the wall clock.
	Clock core.Clock

	// PinWorkers locks each worker to an OS thread and, on Linux, to a CPU.
	PinWorkers bool

	// DisableIO runs the reactor without an OS poller; only timers work.
	DisableIO bool

	// TaskHistoryCapacity is the size of the finished-task ring.
	TaskHistoryCapacity int

	Logger              core.Logger
	PanicHandler        core.PanicHandler
	Metrics             core.Metrics
	RejectedTaskHandler core.RejectedTaskHandler
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "taskruntime"
	}
	if c.Workers == 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Flavor == CurrentThread {
		c.Workers = 1
	}
	if c.LocalQueueCapacity == 0 {
		c.LocalQueueCapacity = core.DefaultLocalQueueCapacity
	}
	if c.GlobalQueueInterval == 0 {
		c.GlobalQueueInterval = DefaultGlobalQueueInterval
	}
	if c.GlobalBatch == 0 {
		c.GlobalBatch = DefaultGlobalBatch
	}
	if c.PollBudget == 0 {
		c.PollBudget = DefaultPollBudget
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.TimerResolution == 0 {
		c.TimerResolution = timer.DefaultResolution
	}
	if c.Clock == nil {
		c.Clock = core.RealClock{}
	}
	if c.Logger == nil {
		c.Logger = core.NewNoOpLogger()
	}
	if c.PanicHandler == nil {
		c.PanicHandler = &core.DefaultPanicHandler{Logger: c.Logger}
	}
	if c.Metrics == nil {
		c.Metrics = &core.NilMetrics{}
	}
	if c.RejectedTaskHandler == nil {
		c.RejectedTaskHandler = core.NewDefaultRejectedTaskHandler(c.Logger, 1, 5)
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.Flavor != MultiThread && c.Flavor != CurrentThread:
		return fmt.Errorf("invalid flavor %s", c.Flavor)
	case c.Workers < 1 || c.Workers > maxWorkers:
		return fmt.Errorf("workers must be in [1, %d], got %d", maxWorkers, c.Workers)
	case c.LocalQueueCapacity < 2:
		return fmt.Errorf("local queue capacity must be at least 2, got %d", c.LocalQueueCapacity)
	case c.GlobalQueueInterval < 1:
		return fmt.Errorf("global queue interval must be positive, got %d", c.GlobalQueueInterval)
	case c.GlobalBatch < 1:
		return fmt.Errorf("global batch must be positive, got %d", c.GlobalBatch)
	case c.KeepAlive < 0:
		return fmt.Errorf("keep-alive must not be negative, got %s", c.KeepAlive)
	case c.TimerResolution < 0:
		return fmt.Errorf("timer resolution must not be negative, got %s", c.TimerResolution)
	case c.MaxTimerHorizon < 0:
		return fmt.Errorf("timer horizon must not be negative, got %s", c.MaxTimerHorizon)
	}
	return nil
}
