package core

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during a poll.
// This allows custom panic handling, logging, and recovery strategies.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The runtime context (carries the runtime handle)
	// - runtimeName: The name of the runtime where the panic occurred
	// - workerID: The ID of the worker (-1 for BlockOn and the current-thread executor)
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, runtimeName string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics through a Logger.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information at error level.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, runtimeName string, workerID int, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("runtime", runtimeName),
		F("worker", workerID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting runtime metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called from worker and reactor goroutines and must be
// non-blocking and fast.
type Metrics interface {
	// RecordPollDuration records how long a single poll took.
	RecordPollDuration(runtimeName string, duration time.Duration)

	// RecordTaskPanic records that a task panicked during a poll.
	RecordTaskPanic(runtimeName string, panicInfo any)

	// RecordQueueDepth records a queue's current depth. worker is -1 for the
	// global queue.
	RecordQueueDepth(runtimeName string, worker int, depth int)

	// RecordTaskRejected records that a spawn was rejected (e.g., during shutdown).
	RecordTaskRejected(runtimeName string, reason string)

	// RecordSteal records that a worker stole n tasks from a peer.
	RecordSteal(runtimeName string, n int)

	// RecordTimersFired records how many timers one wheel advance fired.
	RecordTimersFired(runtimeName string, n int)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordPollDuration(runtimeName string, duration time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(runtimeName string, panicInfo any)             {}
func (m *NilMetrics) RecordQueueDepth(runtimeName string, worker int, depth int)    {}
func (m *NilMetrics) RecordTaskRejected(runtimeName string, reason string)          {}
func (m *NilMetrics) RecordSteal(runtimeName string, n int)                         {}
func (m *NilMetrics) RecordTimersFired(runtimeName string, n int)                   {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected spawns
// =============================================================================

// RejectedTaskHandler is called when a spawn is rejected. This happens once
// the runtime has begun shutting down.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(runtimeName string, reason string)
}

// DefaultRejectedTaskHandler logs rejected spawns, at most a few per second.
// Rejections past the limit are counted and reported with the next line.
type DefaultRejectedTaskHandler struct {
	logger  Logger
	limiter *rate.Limiter
	dropped atomic.Int64
}

// NewDefaultRejectedTaskHandler creates a handler logging at most perSecond
// lines per second with bursts of burst.
func NewDefaultRejectedTaskHandler(logger Logger, perSecond float64, burst int) *DefaultRejectedTaskHandler {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &DefaultRejectedTaskHandler{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// HandleRejectedTask logs the rejection if the limiter allows it.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(runtimeName string, reason string) {
	if !h.limiter.Allow() {
		h.dropped.Add(1)
		return
	}
	dropped := h.dropped.Swap(0)
	h.logger.Warn("spawn rejected",
		F("runtime", runtimeName),
		F("reason", reason),
		F("suppressed", dropped),
	)
}
