// Package config loads runtime configuration files.
//
// Files are YAML or JSON. YAML is converted to JSON first so both formats go
// through the same strict decoder: unknown keys and trailing documents are
// errors. Durations are strings in time.ParseDuration syntax.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	taskruntime "github.com/Swind/go-task-runtime"
	"github.com/Swind/go-task-runtime/core"
)

// File is the on-disk configuration.
type File struct {
	Runtime RuntimeSection `json:"runtime"`
	Logging LoggingSection `json:"logging"`
	Metrics MetricsSection `json:"metrics"`
}

// RuntimeSection mirrors taskruntime.Config. Zero values keep the runtime defaults.
type RuntimeSection struct {
	Name                string `json:"name"`
	Flavor              string `json:"flavor"`
	Workers             int    `json:"workers"`
	LocalQueueCapacity  int    `json:"local_queue_capacity"`
	GlobalQueueInterval int    `json:"global_queue_interval"`
	GlobalBatch         int    `json:"global_batch"`
	PollBudget          int    `json:"poll_budget"`
	KeepAlive           string `json:"keep_alive"`
	TimerResolution     string `json:"timer_resolution"`
	MaxTimerHorizon     string `json:"max_timer_horizon"`
	PinWorkers          bool   `json:"pin_workers"`
	DisableIO           bool   `json:"disable_io"`
	TaskHistory         int    `json:"task_history"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
}

// LoggingSection selects the default logger.
type LoggingSection struct {
	Level string `json:"level"`
	// Format is "console" (default) or "json".
	Format string `json:"format"`
}

// MetricsSection configures the Prometheus exporter.
type MetricsSection struct {
	Enabled          bool   `json:"enabled"`
	Namespace        string `json:"namespace"`
	SnapshotInterval string `json:"snapshot_interval"`
}

// DefaultShutdownTimeout applies when runtime.shutdown_timeout is unset.
const DefaultShutdownTimeout = 5 * time.Second

// Load reads and parses the file at path. The format follows the extension:
// .yaml and .yml are YAML, anything else is JSON.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(path, b)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes data as the format implied by path.
func Parse(path string, data []byte) (*File, error) {
	jb, _, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}
	var f File
	if err := decodeStrict(jb, &f); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the fields that need parsing; range checks are left to
// taskruntime.New.
func (f *File) Validate() error {
	if _, err := taskruntime.ParseFlavor(f.Runtime.Flavor); err != nil {
		return fmt.Errorf("runtime.flavor: %w", err)
	}
	for path, raw := range map[string]string{
		"runtime.keep_alive":        f.Runtime.KeepAlive,
		"runtime.timer_resolution":  f.Runtime.TimerResolution,
		"runtime.max_timer_horizon": f.Runtime.MaxTimerHorizon,
		"runtime.shutdown_timeout":  f.Runtime.ShutdownTimeout,
		"metrics.snapshot_interval": f.Metrics.SnapshotInterval,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(f.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", f.Logging.Format)
	}
	return nil
}

// Logger builds the logger described by the logging section, writing to w.
func (f *File) Logger(w io.Writer) core.Logger {
	if strings.EqualFold(strings.TrimSpace(f.Logging.Format), "json") {
		return core.NewJSONLogger(w, f.Logging.Level)
	}
	return core.NewConsoleLogger(w, f.Logging.Level)
}

// RuntimeConfig maps the runtime section onto a taskruntime.Config. Handlers
// and metrics are left for the caller to set.
func (f *File) RuntimeConfig() (taskruntime.Config, error) {
	r := f.Runtime
	flavor, err := taskruntime.ParseFlavor(r.Flavor)
	if err != nil {
		return taskruntime.Config{}, fmt.Errorf("runtime.flavor: %w", err)
	}
	keepAlive, err := ParseDurationField("runtime.keep_alive", r.KeepAlive)
	if err != nil {
		return taskruntime.Config{}, err
	}
	resolution, err := ParseDurationField("runtime.timer_resolution", r.TimerResolution)
	if err != nil {
		return taskruntime.Config{}, err
	}
	horizon, err := ParseDurationField("runtime.max_timer_horizon", r.MaxTimerHorizon)
	if err != nil {
		return taskruntime.Config{}, err
	}
	return taskruntime.Config{
		Name:                r.Name,
		Flavor:              flavor,
		Workers:             r.Workers,
		LocalQueueCapacity:  r.LocalQueueCapacity,
		GlobalQueueInterval: r.GlobalQueueInterval,
		GlobalBatch:         r.GlobalBatch,
		PollBudget:          r.PollBudget,
		KeepAlive:           keepAlive,
		TimerResolution:     resolution,
		MaxTimerHorizon:     horizon,
		PinWorkers:          r.PinWorkers,
		DisableIO:           r.DisableIO,
		TaskHistoryCapacity: r.TaskHistory,
	}, nil
}

// ShutdownTimeout returns runtime.shutdown_timeout or its default.
func (f *File) ShutdownTimeout() time.Duration {
	d, err := ParseDurationOrDefault("runtime.shutdown_timeout", f.Runtime.ShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return DefaultShutdownTimeout
	}
	return d
}

// SnapshotInterval returns metrics.snapshot_interval, defaulting to 5s.
func (f *File) SnapshotInterval() time.Duration {
	d, err := ParseDurationOrDefault("metrics.snapshot_interval", f.Metrics.SnapshotInterval, 5*time.Second)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
