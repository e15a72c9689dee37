package taskruntime

import (
	"slices"
	"sync"
	"sync/atomic"
)

const (
	activeShift   = 16
	searchingMask = 1<<activeShift - 1
)

// sleeper tracks parked workers and how many workers are active or searching
// for work to steal. Both counters share one word:
//
//	| active workers (upper bits) | searching workers (low 16 bits) |
type sleeper struct {
	record  atomic.Uint64
	mu      sync.Mutex
	idle    []int
	workers int
}

func newSleeper(workers int) *sleeper {
	s := &sleeper{idle: make([]int, 0, workers), workers: workers}
	s.record.Store(uint64(workers) << activeShift)
	return s
}

func (s *sleeper) load() (active, searching int) {
	v := s.record.Load()
	return int(v >> activeShift), int(v & searchingMask)
}

// popWorker picks a parked worker to unpark. It returns false when every
// worker is active or some worker is already searching, since a searcher
// will find the new work itself.
func (s *sleeper) popWorker() (int, bool) {
	active, searching := s.load()
	if active >= s.workers || searching > 0 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.idle)
	if n == 0 {
		return 0, false
	}
	idx := s.idle[n-1]
	s.idle = s.idle[:n-1]
	s.record.Add(1 << activeShift)
	return idx, true
}

// pushWorker parks index. It reports whether this was the last active worker.
func (s *sleeper) pushWorker(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = append(s.idle, index)
	next := s.record.Add(^uint64(1<<activeShift - 1))
	return next>>activeShift == 0
}

// cancelPark takes index back off the idle list. It reports false if a waker
// already popped it; the worker then has an unpark signal in flight.
func (s *sleeper) cancelPark(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.idle, index)
	if i < 0 {
		return false
	}
	s.idle = slices.Delete(s.idle, i, i+1)
	s.record.Add(1 << activeShift)
	return true
}

func (s *sleeper) isParked(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.idle, index)
}

// tryIncSearching lets a worker start stealing unless half of the active
// workers already are.
func (s *sleeper) tryIncSearching() bool {
	for {
		v := s.record.Load()
		active, searching := int(v>>activeShift), int(v&searchingMask)
		if searching*2 >= active {
			return false
		}
		if s.record.CompareAndSwap(v, v+1) {
			return true
		}
	}
}

// decSearching reports whether the caller was the last searching worker.
func (s *sleeper) decSearching() bool {
	return s.record.Add(^uint64(0))&searchingMask == 0
}
