package prometheus

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-task-runtime/core"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// defaultPollBuckets covers polls from 10µs to 1s; polls are expected to be short.
var defaultPollBuckets = prom.ExponentialBuckets(0.00001, 4, 9)

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	pollDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec
	stolenTotal         *prom.CounterVec
	timersFiredTotal    *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "taskruntime"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = defaultPollBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_duration_seconds",
		Help:      "Duration of a single task poll in seconds.",
		Buckets:   buckets,
	}, []string{"runtime"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"runtime"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected spawns.",
	}, []string{"runtime", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Last sampled run queue depth.",
	}, []string{"runtime", "queue"})
	stolenVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_stolen_total",
		Help:      "Total number of tasks moved between workers by stealing.",
	}, []string{"runtime"})
	timersVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "timers_fired_total",
		Help:      "Total number of timers fired.",
	}, []string{"runtime"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if stolenVec, err = registerCollector(reg, stolenVec); err != nil {
		return nil, err
	}
	if timersVec, err = registerCollector(reg, timersVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		pollDurationSeconds: durationVec,
		taskPanicTotal:      panicVec,
		taskRejectedTotal:   rejectedVec,
		queueDepth:          queueDepthVec,
		stolenTotal:         stolenVec,
		timersFiredTotal:    timersVec,
	}, nil
}

// RecordPollDuration records the duration of one poll.
func (m *MetricsExporter) RecordPollDuration(runtimeName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pollDurationSeconds.WithLabelValues(normalizeLabel(runtimeName, "unknown")).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(runtimeName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(runtimeName, "unknown")).Inc()
}

// RecordQueueDepth records a queue depth sample.
func (m *MetricsExporter) RecordQueueDepth(runtimeName string, worker int, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(runtimeName, "unknown"), queueLabel(worker)).Set(float64(depth))
}

// RecordTaskRejected records spawn rejection events.
func (m *MetricsExporter) RecordTaskRejected(runtimeName string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(runtimeName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordSteal records n tasks taken from a peer worker.
func (m *MetricsExporter) RecordSteal(runtimeName string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stolenTotal.WithLabelValues(normalizeLabel(runtimeName, "unknown")).Add(float64(n))
}

// RecordTimersFired records n timers fired by one wheel advance.
func (m *MetricsExporter) RecordTimersFired(runtimeName string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.timersFiredTotal.WithLabelValues(normalizeLabel(runtimeName, "unknown")).Add(float64(n))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func queueLabel(worker int) string {
	if worker < 0 {
		return "global"
	}
	return "worker-" + strconv.Itoa(worker)
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
