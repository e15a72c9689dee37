package taskruntime

import "github.com/Swind/go-task-runtime/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the taskruntime package for most use cases.

// Future is a resumable computation driven by Poll
type Future[T any] = core.Future[T]

// FutureFunc adapts a function to Future
type FutureFunc[T any] = core.FutureFunc[T]

// Poll is the outcome of one Future.Poll call
type Poll[T any] = core.Poll[T]

// Context is handed to every Poll
type Context = core.Context

// Waker requests that a task be polled again
type Waker = core.Waker

// JoinHandle awaits a spawned task
type JoinHandle[T any] = core.JoinHandle[T]

// TaskID identifies a spawned task
type TaskID = core.TaskID

// TaskState is the logical state of a task
type TaskState = core.TaskState

// RuntimeStats is a snapshot returned by Runtime.Stats
type RuntimeStats = core.RuntimeStats

// Poll constructors
func Ready[T any](v T) Poll[T]      { return core.Ready(v) }
func Fail[T any](err error) Poll[T] { return core.Fail[T](err) }
func Pending[T any]() Poll[T]       { return core.Pending[T]() }

// Future helpers
var (
	Yield        = core.Yield
	NewFuncWaker = core.NewFuncWaker
)

// Error sentinels
var (
	ErrSpawnRejected   = core.ErrSpawnRejected
	ErrTaskPanicked    = core.ErrTaskPanicked
	ErrJoinCancelled   = core.ErrJoinCancelled
	ErrReactorFatal    = core.ErrReactorFatal
	ErrTimerOverflow   = core.ErrTimerOverflow
	ErrShutdownTimeout = core.ErrShutdownTimeout
	ErrTimedOut        = core.ErrTimedOut
)
