package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fifoScheduler queues scheduled cells for the test to run by hand.
type fifoScheduler struct {
	mu        sync.Mutex
	queue     []*Cell
	scheduled int
	released  []*Cell
	local     int
}

func (s *fifoScheduler) Schedule(c *Cell, from *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled++
	if from != nil {
		s.local++
	}
	s.queue = append(s.queue, c)
}

func (s *fifoScheduler) Release(c *Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, c)
}

func (s *fifoScheduler) pop() *Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	c := s.queue[0]
	s.queue = s.queue[1:]
	return c
}

func (s *fifoScheduler) spawn(c *Cell) {
	if c.MarkScheduled() {
		s.Schedule(c, nil)
	}
}

func newTestContext(s Scheduler) *Context {
	return NewContext(context.Background(), Waker{}, s, nil, 8)
}

// pendingUntil is Pending until open is set, registering its waker each poll.
type pendingUntil struct {
	open  atomic.Bool
	mu    sync.Mutex
	waker Waker
	polls int
	drops int
}

func (p *pendingUntil) Poll(cx *Context) Poll[string] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if p.open.Load() {
		return Ready("open")
	}
	p.waker = cx.Waker()
	return Pending[string]()
}

func (p *pendingUntil) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drops++
}

func (p *pendingUntil) wake() {
	p.mu.Lock()
	w := p.waker
	p.mu.Unlock()
	w.Wake()
}

// TestCell_Lifecycle verifies Idle → Scheduled → Running → Idle → Complete
// Given: A cell whose future is pending until opened
// When: It is scheduled, run, woken after opening, and run again
// Then: The states follow the lifecycle and the result is published once
func TestCell_Lifecycle(t *testing.T) {
	// Arrange
	s := &fifoScheduler{}
	f := &pendingUntil{}
	c := NewCell[string](s, "door", f)
	cx := newTestContext(s)
	require.Equal(t, TaskIdle, c.State())
	require.False(t, c.ID().IsZero())
	assert.Equal(t, "door", c.Name())

	// Act & Assert
	s.spawn(c)
	assert.Equal(t, TaskScheduled, c.State())
	assert.False(t, c.MarkScheduled(), "already scheduled")

	assert.Equal(t, RunIdle, s.pop().Run(cx, 8))
	assert.Equal(t, TaskIdle, c.State())

	f.open.Store(true)
	f.wake()
	assert.Equal(t, 2, s.scheduled)
	assert.Equal(t, RunComplete, s.pop().Run(cx, 8))

	assert.Equal(t, TaskComplete, c.State())
	v, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, "open", v)
	assert.Equal(t, uint64(2), c.Polls())
	assert.Equal(t, 1, f.drops)
	assert.Equal(t, []*Cell{c}, s.released)
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}

	f.wake()
	assert.Equal(t, 2, s.scheduled, "wake after completion is a no-op")
	assert.Equal(t, RunSkipped, c.Run(cx, 8))
}

// TestCell_WakeDuringPollReschedulesOnce verifies wakes mid-poll collapse into one reschedule
// Given: A running cell
// When: Its waker fires several times during the poll
// Then: Run reports RunRescheduled and the scheduler saw no extra Schedule calls
func TestCell_WakeDuringPollReschedulesOnce(t *testing.T) {
	s := &fifoScheduler{}
	var c *Cell
	first := true
	c = NewCell[int](s, "", FutureFunc[int](func(cx *Context) Poll[int] {
		if first {
			first = false
			for range 5 {
				cx.Waker().Wake()
			}
			assert.Equal(t, TaskRunning, c.State())
			return Pending[int]()
		}
		return Ready(1)
	}))
	cx := newTestContext(s)
	s.spawn(c)

	assert.Equal(t, RunRescheduled, s.pop().Run(cx, 8))
	assert.Equal(t, 1, s.scheduled)
	assert.Equal(t, TaskScheduled, c.State())

	assert.Equal(t, RunComplete, c.Run(cx, 8))
}

// TestCell_ConcurrentWakesScheduleOnce verifies the Idle→Scheduled transition is won once
func TestCell_ConcurrentWakesScheduleOnce(t *testing.T) {
	s := &fifoScheduler{}
	c := NewCell[int](s, "", FutureFunc[int](func(*Context) Poll[int] { return Pending[int]() }))
	w := c.Waker()

	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Wake()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, s.scheduled)
}

// TestCell_ErrorIsReady verifies a failed computation completes and is not retried
func TestCell_ErrorIsReady(t *testing.T) {
	s := &fifoScheduler{}
	want := errors.New("bad input")
	c := NewCell[int](s, "", Lazy(func() (int, error) { return 0, want }))
	s.spawn(c)

	assert.Equal(t, RunComplete, s.pop().Run(newTestContext(s), 8))
	_, err := c.Result()
	assert.ErrorIs(t, err, want)
	assert.Equal(t, TaskComplete, c.State())
}

// TestCell_Panic verifies a panic becomes the cell's result
func TestCell_Panic(t *testing.T) {
	s := &fifoScheduler{}
	c := NewCell[int](s, "", FutureFunc[int](func(*Context) Poll[int] {
		panic("kaboom")
	}))
	s.spawn(c)

	assert.Equal(t, RunPanicked, s.pop().Run(newTestContext(s), 8))
	_, err := c.Result()
	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "kaboom", perr.Value)
	assert.False(t, perr.Goexit)
	assert.ErrorIs(t, err, ErrTaskPanicked)
	assert.Equal(t, TaskComplete, c.State())
}

// TestCell_Goexit verifies runtime.Goexit inside a poll still settles the cell
func TestCell_Goexit(t *testing.T) {
	s := &fifoScheduler{}
	c := NewCell[int](s, "", FutureFunc[int](func(*Context) Poll[int] {
		runtime.Goexit()
		return Ready(0)
	}))
	s.spawn(c)
	cell := s.pop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		cell.Run(newTestContext(s), 8)
	}()
	<-done

	<-c.Done()
	_, err := c.Result()
	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Goexit)
	assert.Len(t, s.released, 1)
}

// TestCell_CancelIdle verifies cancelling a queued cell drops it without polling
// Given: A scheduled cell that has not run
// When: It is cancelled twice and then dequeued
// Then: Only the first Cancel reports true, the computation is dropped once and never polled
func TestCell_CancelIdle(t *testing.T) {
	s := &fifoScheduler{}
	f := &pendingUntil{}
	c := NewCell[string](s, "", f)
	s.spawn(c)

	assert.True(t, c.Cancel())
	assert.False(t, c.Cancel())
	assert.Equal(t, RunSkipped, s.pop().Run(newTestContext(s), 8))

	assert.Equal(t, TaskCancelled, c.State())
	_, err := c.Result()
	assert.ErrorIs(t, err, ErrJoinCancelled)
	assert.Equal(t, 0, f.polls)
	assert.Equal(t, 1, f.drops)
	assert.Len(t, s.released, 1)
}

// TestCell_CancelWhileRunning verifies a running cell is cancelled when its poll returns
func TestCell_CancelWhileRunning(t *testing.T) {
	s := &fifoScheduler{}
	var c *Cell
	var during bool
	c = NewCell[int](s, "", FutureFunc[int](func(*Context) Poll[int] {
		during = c.Cancel()
		assert.False(t, c.Cancel(), "second cancel is a no-op")
		return Pending[int]()
	}))
	s.spawn(c)

	assert.Equal(t, RunCancelled, s.pop().Run(newTestContext(s), 8))
	assert.True(t, during)
	assert.Equal(t, TaskCancelled, c.State())
}

// TestCell_CompletionBeatsCancel verifies a poll that completes wins over a concurrent cancel
func TestCell_CompletionBeatsCancel(t *testing.T) {
	s := &fifoScheduler{}
	var c *Cell
	c = NewCell[int](s, "", FutureFunc[int](func(*Context) Poll[int] {
		c.Cancel()
		return Ready(7)
	}))
	s.spawn(c)

	assert.Equal(t, RunComplete, s.pop().Run(newTestContext(s), 8))
	v, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.False(t, c.Cancel())
}

// TestContext_WakeSameSchedulerIsLocal verifies wakes from a poll carry the poll context
func TestContext_WakeSameSchedulerIsLocal(t *testing.T) {
	s := &fifoScheduler{}
	other := NewCell[int](s, "", FutureFunc[int](func(*Context) Poll[int] { return Pending[int]() }))
	waker := NewCell[int](s, "", FutureFunc[int](func(cx *Context) Poll[int] {
		cx.Wake(other.Waker())
		return Ready(0)
	}))
	s.spawn(waker)

	s.pop().Run(newTestContext(s), 8)
	assert.Equal(t, 2, s.scheduled)
	assert.Equal(t, 1, s.local)
	assert.Same(t, other, s.pop())
}

func TestContext_Budget(t *testing.T) {
	cx := NewContext(nil, Waker{}, nil, nil, 2)
	assert.NotNil(t, cx.Context())
	assert.True(t, cx.ConsumeBudget())
	assert.True(t, cx.ConsumeBudget())
	assert.False(t, cx.ConsumeBudget())

	cx.Rebind(Waker{}, 1)
	assert.True(t, cx.ConsumeBudget())
	assert.False(t, cx.ConsumeBudget())

	cx.Rebind(Waker{}, -1)
	for range 1000 {
		require.True(t, cx.ConsumeBudget())
	}
}

func TestWaker_FuncAndZero(t *testing.T) {
	var zero Waker
	assert.True(t, zero.IsZero())
	zero.Wake()

	var n atomic.Int32
	w := NewFuncWaker(func() { n.Add(1) })
	clone := w
	clone.Wake()
	w.Wake()
	assert.Equal(t, int32(2), n.Load())
	assert.True(t, w.WillWake(clone))
	assert.False(t, w.WillWake(NewFuncWaker(func() {})))
	assert.True(t, NewFuncWaker(nil).IsZero())
}

// TestYield verifies Yield wakes itself once before completing
func TestYield(t *testing.T) {
	s := &fifoScheduler{}
	y := Yield()
	c := NewCell[struct{}](s, "", y)
	s.spawn(c)
	cx := newTestContext(s)

	assert.Equal(t, RunRescheduled, s.pop().Run(cx, 8))
	assert.Equal(t, RunComplete, c.Run(cx, 8))
}

func TestTaskState_String(t *testing.T) {
	assert.Equal(t, "Scheduled", TaskScheduled.String())
	assert.Equal(t, "Cancelled", TaskCancelled.String())
	assert.Equal(t, "Unknown", TaskState(42).String())
	assert.Equal(t, "task-12", TaskID(12).String())
}
