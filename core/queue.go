package core

import "sync"

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4

	// DefaultLocalQueueCapacity is the per-worker ring size.
	DefaultLocalQueueCapacity = 256
)

// =============================================================================
// LocalQueue: bounded per-worker ring
// =============================================================================

// LocalQueue is a worker's bounded run queue. The owner pushes at the tail
// and pops at the head, so its own work runs in FIFO order; thieves take from
// the tail. A single mutex guards the ring, which costs one uncontended lock
// per owner operation.
type LocalQueue struct {
	mu   sync.Mutex
	buf  []*Cell
	mask int
	head int // index of the oldest entry
	n    int
}

// NewLocalQueue creates a ring holding at least capacity cells. The capacity
// is rounded up to a power of two.
func NewLocalQueue(capacity int) *LocalQueue {
	if capacity < 2 {
		capacity = DefaultLocalQueueCapacity
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &LocalQueue{buf: make([]*Cell, size), mask: size - 1}
}

// Capacity returns the ring size.
func (q *LocalQueue) Capacity() int { return len(q.buf) }

// Len returns the number of queued cells.
func (q *LocalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Push appends c at the tail. It reports false if the ring is full.
func (q *LocalQueue) Push(c *Cell) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.n)&q.mask] = c
	q.n++
	return true
}

// PushOrOverflow appends c at the tail. When the ring is full, the older half
// of it plus c move to global in one batch. It returns the number of cells
// moved to global.
func (q *LocalQueue) PushOrOverflow(c *Cell, global *GlobalQueue) int {
	q.mu.Lock()
	if q.n < len(q.buf) {
		q.buf[(q.head+q.n)&q.mask] = c
		q.n++
		q.mu.Unlock()
		return 0
	}
	half := q.n / 2
	batch := make([]*Cell, 0, half+1)
	for range half {
		batch = append(batch, q.buf[q.head])
		q.buf[q.head] = nil
		q.head = (q.head + 1) & q.mask
		q.n--
	}
	q.mu.Unlock()

	batch = append(batch, c)
	global.PushBatch(batch)
	return len(batch)
}

// Pop removes the head entry.
func (q *LocalQueue) Pop() (*Cell, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return nil, false
	}
	c := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) & q.mask
	q.n--
	return c, true
}

// StealInto moves about half of q's entries, taken from the tail, into dst.
// One stolen cell is returned for the thief to run immediately; the rest land
// in dst. The returned count includes that cell. Only dst's owner may call
// StealInto, since the free room of dst is read before the victim is locked.
func (q *LocalQueue) StealInto(dst *LocalQueue) (*Cell, int) {
	if q == dst {
		return nil, 0
	}
	dst.mu.Lock()
	room := len(dst.buf) - dst.n
	dst.mu.Unlock()

	q.mu.Lock()
	take := min(q.n-q.n/2, room+1)
	if take <= 0 {
		q.mu.Unlock()
		return nil, 0
	}
	stolen := make([]*Cell, take)
	// Keep the victim's relative order within the stolen batch.
	for i := take - 1; i >= 0; i-- {
		idx := (q.head + q.n - 1) & q.mask
		stolen[i] = q.buf[idx]
		q.buf[idx] = nil
		q.n--
	}
	q.mu.Unlock()

	dst.mu.Lock()
	for _, c := range stolen[1:] {
		dst.buf[(dst.head+dst.n)&dst.mask] = c
		dst.n++
	}
	dst.mu.Unlock()
	return stolen[0], take
}

// Drain removes and returns every queued cell in FIFO order.
func (q *LocalQueue) Drain() []*Cell {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return nil
	}
	out := make([]*Cell, 0, q.n)
	for q.n > 0 {
		out = append(out, q.buf[q.head])
		q.buf[q.head] = nil
		q.head = (q.head + 1) & q.mask
		q.n--
	}
	return out
}

// =============================================================================
// GlobalQueue: unbounded shared FIFO
// =============================================================================

// GlobalQueue receives cells spawned or woken from outside the workers and
// local overflow. It is a mutex-protected FIFO with batch pop.
type GlobalQueue struct {
	mu    sync.Mutex
	cells []*Cell
}

func NewGlobalQueue() *GlobalQueue {
	return &GlobalQueue{cells: make([]*Cell, 0, defaultQueueCap)}
}

func (q *GlobalQueue) Push(c *Cell) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cells = append(q.cells, c)
}

// PushBatch appends cells in order.
func (q *GlobalQueue) PushBatch(cells []*Cell) {
	if len(cells) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cells = append(q.cells, cells...)
}

func (q *GlobalQueue) Pop() (*Cell, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.cells) == 0 {
		return nil, false
	}

	c := q.cells[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.cells[0] = nil
	q.cells = q.cells[1:]
	q.maybeCompactLocked()

	return c, true
}

// PopUpTo removes at most max cells from the head.
func (q *GlobalQueue) PopUpTo(max int) []*Cell {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.cells)
	if n == 0 || max <= 0 {
		return nil
	}

	if n <= max {
		batch := q.cells
		q.cells = make([]*Cell, 0, defaultQueueCap)
		return batch
	}

	batch := make([]*Cell, max)
	copy(batch, q.cells[:max])
	for i := range max {
		q.cells[i] = nil
	}

	q.cells = q.cells[max:]
	q.maybeCompactLocked()

	return batch
}

func (q *GlobalQueue) maybeCompactLocked() {
	n := len(q.cells)
	c := cap(q.cells)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.cells = make([]*Cell, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]*Cell, n, newCap)
	copy(newSlice, q.cells)
	q.cells = newSlice
}

func (q *GlobalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cells)
}

func (q *GlobalQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Drain removes and returns every queued cell.
func (q *GlobalQueue) Drain() []*Cell {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.cells
	q.cells = make([]*Cell, 0, defaultQueueCap)
	return out
}
