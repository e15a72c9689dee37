package core

import "time"

// TaskExecutionRecord captures a finished task.
type TaskExecutionRecord struct {
	TaskID     TaskID
	Name       string
	Runtime    string
	Polls      uint64
	SpawnedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	State      TaskState
	Panicked   bool
}

// WorkerStats is a snapshot of one worker.
type WorkerStats struct {
	Index    int
	Queued   int
	Polls    uint64
	Steals   uint64
	Parks    uint64
	Restarts uint64
	Parked   bool
}

// RuntimeStats represents runtime observability state.
type RuntimeStats struct {
	ID           string
	Name         string
	Flavor       string
	State        string
	Workers      int
	GlobalQueued int
	LocalQueued  int
	LiveTasks    int
	Spawned      uint64
	Completed    uint64
	Cancelled    uint64
	Panicked     uint64
	Rejected     uint64
	Timers       int
	IORegistered int
	PerWorker    []WorkerStats
}
