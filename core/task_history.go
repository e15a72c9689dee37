package core

import "sync"

const defaultTaskHistoryCapacity = 100

// ExecutionHistory keeps the most recent finished tasks. Record n lives in
// slot n % capacity, so the ring needs no separate head or length.
type ExecutionHistory struct {
	mu      sync.Mutex
	slots   []TaskExecutionRecord
	written uint64
}

// NewExecutionHistory creates a ring keeping the last capacity records.
func NewExecutionHistory(capacity int) *ExecutionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &ExecutionHistory{slots: make([]TaskExecutionRecord, capacity)}
}

func (h *ExecutionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	h.slots[h.written%uint64(len(h.slots))] = record
	h.written++
	h.mu.Unlock()
}

// Len returns the number of records currently held.
func (h *ExecutionHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int(min(h.written, uint64(len(h.slots))))
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (h *ExecutionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	held := int(min(h.written, uint64(len(h.slots))))
	if held == 0 {
		return nil
	}
	if limit <= 0 || limit > held {
		limit = held
	}
	out := make([]TaskExecutionRecord, limit)
	for i := range out {
		n := h.written - 1 - uint64(i)
		out[i] = h.slots[n%uint64(len(h.slots))]
	}
	return out
}

func (h *ExecutionHistory) Last() (TaskExecutionRecord, bool) {
	if recent := h.Recent(1); len(recent) == 1 {
		return recent[0], true
	}
	return TaskExecutionRecord{}, false
}
