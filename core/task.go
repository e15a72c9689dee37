package core

import (
	"strconv"
	"sync/atomic"
)

// TaskID identifies a spawned task for the lifetime of the process.
// IDs are allocated from a process-wide counter and are never reused.
type TaskID uint64

var taskIDCounter atomic.Uint64

// GenerateTaskID allocates a new non-zero TaskID.
func GenerateTaskID() TaskID {
	return TaskID(taskIDCounter.Add(1))
}

// IsZero reports whether the ID is the unset value.
func (id TaskID) IsZero() bool {
	return id == 0
}

func (id TaskID) String() string {
	return "task-" + strconv.FormatUint(uint64(id), 10)
}
