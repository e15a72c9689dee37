package core

import (
	"errors"
	"fmt"
)

// Runtime error taxonomy. Per-task failures are only ever visible through the
// task's JoinHandle; the runtime-wide ones surface from New or Shutdown.
var (
	// ErrSpawnRejected is returned by Spawn once the runtime is stopping or stopped.
	ErrSpawnRejected = errors.New("taskruntime: spawn rejected, runtime is shutting down")

	// ErrTaskPanicked is the result of a task whose computation panicked.
	// The concrete error is a *PanicError.
	ErrTaskPanicked = errors.New("taskruntime: task panicked")

	// ErrJoinCancelled is observed by a JoinHandle whose task was cancelled
	// instead of producing a result.
	ErrJoinCancelled = errors.New("taskruntime: task cancelled")

	// ErrReactorFatal is delivered to every pending I/O registration when the
	// readiness subsystem becomes unusable.
	ErrReactorFatal = errors.New("taskruntime: reactor failed")

	// ErrTimerOverflow means a deadline lies beyond the timer wheel capacity.
	ErrTimerOverflow = errors.New("taskruntime: timer deadline exceeds wheel capacity")

	// ErrShutdownTimeout is returned by Shutdown when tasks had to be detached.
	ErrShutdownTimeout = errors.New("taskruntime: shutdown timed out")

	// ErrIOUnsupported is returned by I/O registration on platforms without a poller.
	ErrIOUnsupported = errors.New("taskruntime: I/O readiness not supported on this platform")

	// ErrFDAlreadyRegistered is returned when a (fd, direction) pair already has a waker.
	ErrFDAlreadyRegistered = errors.New("taskruntime: fd already registered for this direction")

	// ErrFDNotRegistered is returned by Deregister for unknown descriptors.
	ErrFDNotRegistered = errors.New("taskruntime: fd not registered")

	// ErrTimedOut is the result of a computation wrapped by a timeout whose
	// deadline passed first.
	ErrTimedOut = errors.New("taskruntime: deadline exceeded")

	// ErrDriverClosed is returned by the reactor and timer after they were stopped.
	ErrDriverClosed = errors.New("taskruntime: driver closed")
)

// PanicError carries the value and stack of a panic caught at the poll boundary.
type PanicError struct {
	Value any
	Stack []byte
	// Goexit is set when the computation called runtime.Goexit instead of panicking.
	Goexit bool
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	if e.Goexit {
		return "taskruntime: task called runtime.Goexit"
	}
	return fmt.Sprintf("taskruntime: task panicked: %v", e.Value)
}

// Unwrap exposes ErrTaskPanicked and, when the panic value is an error, the
// value itself, so both can be matched with errors.Is.
func (e *PanicError) Unwrap() []error {
	if err, ok := e.Value.(error); ok {
		return []error{ErrTaskPanicked, err}
	}
	return []error{ErrTaskPanicked}
}
