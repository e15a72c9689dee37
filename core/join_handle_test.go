package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJoinHandle_Wait verifies blocking waits for every terminal outcome
func TestJoinHandle_Wait(t *testing.T) {
	s := &fifoScheduler{}
	cx := newTestContext(s)

	ok := NewCell[int](s, "", Value(5))
	failed := NewCell[int](s, "", Lazy(func() (int, error) { return 0, errors.New("nope") }))
	cancelled := NewCell[int](s, "", FutureFunc[int](func(*Context) Poll[int] { return Pending[int]() }))
	for _, c := range []*Cell{ok, failed, cancelled} {
		s.spawn(c)
	}
	for c := s.pop(); c != nil; c = s.pop() {
		c.Run(cx, 8)
	}
	NewJoinHandle[int](cancelled).Cancel()

	v, err := NewJoinHandle[int](ok).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	_, err = NewJoinHandle[int](failed).Wait(context.Background())
	assert.EqualError(t, err, "nope")

	h := NewJoinHandle[int](cancelled)
	assert.True(t, h.IsFinished())
	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, ErrJoinCancelled)
}

// TestJoinHandle_WaitContext verifies Wait gives up when its context ends
func TestJoinHandle_WaitContext(t *testing.T) {
	s := &fifoScheduler{}
	h := NewJoinHandle[int](NewCell[int](s, "", Value(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, h.IsFinished())
}

// TestJoinHandle_PollWakesAwaiter verifies a task awaiting another is woken on completion
// Given: A parent task polling a child's JoinHandle
// When: The child completes
// Then: The parent is rescheduled and observes the child's value
func TestJoinHandle_PollWakesAwaiter(t *testing.T) {
	s := &fifoScheduler{}
	cx := newTestContext(s)
	gate := &pendingUntil{}
	child := NewCell[string](s, "child", gate)
	jh := NewJoinHandle[string](child)

	parent := NewCell[string](s, "parent", FutureFunc[string](func(cx *Context) Poll[string] {
		p := jh.Poll(cx)
		if !p.IsReady() {
			return p
		}
		v, err := p.Value()
		if err != nil {
			return Fail[string](err)
		}
		return Ready("parent saw " + v)
	}))
	s.spawn(child)
	s.spawn(parent)

	assert.Equal(t, RunIdle, s.pop().Run(cx, 8))
	assert.Equal(t, RunIdle, s.pop().Run(cx, 8))

	gate.open.Store(true)
	gate.wake()
	assert.Equal(t, RunComplete, s.pop().Run(cx, 8))
	assert.Same(t, parent, s.pop())
	assert.Equal(t, RunComplete, parent.Run(cx, 8))

	v, err := parent.Result()
	require.NoError(t, err)
	assert.Equal(t, "parent saw open", v)
	assert.Equal(t, child.ID(), jh.ID())
	assert.Same(t, child, jh.Cell())
}

// TestJoinHandle_MultipleAwaiters verifies every task awaiting a handle is woken
// Given: Two tasks polling the same child's JoinHandle, one of them twice
// When: The child completes
// Then: Both awaiters are rescheduled once and the waiter list is cleared
func TestJoinHandle_MultipleAwaiters(t *testing.T) {
	// Arrange
	s := &fifoScheduler{}
	gate := &pendingUntil{}
	child := NewCell[string](s, "child", gate)
	jh := NewJoinHandle[string](child)
	a := NewCell[string](s, "a", Value("a"))
	b := NewCell[string](s, "b", Value("b"))
	cxA := NewContext(context.Background(), a.Waker(), s, nil, 8)
	cxB := NewContext(context.Background(), b.Waker(), s, nil, 8)

	s.spawn(child)
	require.Equal(t, RunIdle, s.pop().Run(newTestContext(s), 8))

	// Act
	assert.False(t, jh.Poll(cxA).IsReady())
	assert.False(t, jh.Poll(cxA).IsReady())
	assert.False(t, jh.Poll(cxB).IsReady())
	assert.Equal(t, 2, child.joinWaiters(), "a repeated poll from the same task is stored once")

	gate.open.Store(true)
	gate.wake()
	require.Equal(t, RunComplete, s.pop().Run(newTestContext(s), 8))

	// Assert
	assert.Same(t, a, s.pop())
	assert.Same(t, b, s.pop())
	assert.Nil(t, s.pop())
	assert.Equal(t, 0, child.joinWaiters())
	for _, cx := range []*Context{cxA, cxB} {
		v, err := jh.Poll(cx).Value()
		require.NoError(t, err)
		assert.Equal(t, "open", v)
	}
}

func TestJoinHandle_TypeMismatch(t *testing.T) {
	s := &fifoScheduler{}
	c := NewCell[int](s, "", Value(3))
	s.spawn(c)
	s.pop().Run(newTestContext(s), 8)

	_, err := NewJoinHandle[string](c).Wait(context.Background())
	assert.ErrorContains(t, err, "result has type int")
}
