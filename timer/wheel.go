// Package timer implements the hierarchical timing wheel that backs every
// sleep and timeout in the runtime.
package timer

import (
	"fmt"
	"math/bits"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-task-runtime/core"
)

const (
	// NumLevels is the number of wheel levels.
	NumLevels = 6
	// SlotsPerLevel is the number of slots on every level.
	SlotsPerLevel = 64

	slotBits = 6
	slotMask = SlotsPerLevel - 1

	// MaxTicks is the furthest a deadline may lie ahead of the wheel, in ticks.
	MaxTicks uint64 = 1 << (slotBits * NumLevels)

	// DefaultResolution is the duration of one tick.
	DefaultResolution = time.Millisecond
)

const (
	entryPending uint32 = iota
	entryFired
	entryCancelled
)

type entry struct {
	when  uint64
	gen   uint64
	waker core.Waker
	state atomic.Uint32

	level int // -1 while on the expired list
	slot  int
	prev  *entry
	next  *entry
}

// ID names a scheduled timer. A stale ID (its entry already fired, was
// cancelled, or was recycled) is harmless.
type ID struct {
	e   *entry
	gen uint64
}

// IsZero reports whether the ID was never assigned.
func (id ID) IsZero() bool { return id.e == nil }

type level struct {
	slots    [SlotsPerLevel]*entry
	occupied uint64
}

// Wheel is a hierarchical timing wheel with six levels of 64 slots.
//
// All operations take one mutex; wakers of fired timers are invoked after it
// is released.
type Wheel struct {
	mu sync.Mutex

	clock      core.Clock
	resolution time.Duration
	start      time.Time
	horizon    uint64

	elapsed uint64
	levels  [NumLevels]level
	expired []*entry
	count   int
	free    []*entry

	onEarlier func()
}

// Options configures a Wheel.
type Options struct {
	// Resolution is the tick length. Defaults to DefaultResolution.
	Resolution time.Duration
	// Horizon caps how far ahead a deadline may be scheduled. Zero means the
	// wheel's full capacity. A horizon beyond that capacity is rejected.
	Horizon time.Duration
}

// NewWheel creates a wheel whose tick zero is clock.Now().
func NewWheel(clock core.Clock, opts Options) (*Wheel, error) {
	if clock == nil {
		clock = core.RealClock{}
	}
	res := opts.Resolution
	if res <= 0 {
		res = DefaultResolution
	}
	horizon := MaxTicks
	if opts.Horizon > 0 {
		ticks := uint64(opts.Horizon / res)
		if ticks > MaxTicks {
			return nil, fmt.Errorf("timer horizon %s exceeds wheel capacity %s: %w",
				opts.Horizon, Capacity(res), core.ErrTimerOverflow)
		}
		horizon = ticks
	}
	return &Wheel{
		clock:      clock,
		resolution: res,
		start:      clock.Now(),
		horizon:    horizon,
	}, nil
}

// Capacity returns the furthest deadline a wheel with tick res can hold.
func Capacity(res time.Duration) time.Duration {
	return time.Duration(MaxTicks) * res
}

// Clock returns the wheel's clock.
func (w *Wheel) Clock() core.Clock { return w.clock }

// Resolution returns the tick length.
func (w *Wheel) Resolution() time.Duration { return w.resolution }

// OnEarlierDeadline registers fn to be called, outside the wheel lock, when a
// newly scheduled timer becomes the earliest pending one. The reactor uses it
// to shorten its blocking wait.
func (w *Wheel) OnEarlierDeadline(fn func()) {
	w.mu.Lock()
	w.onEarlier = fn
	w.mu.Unlock()
}

// Len returns the number of pending timers.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Schedule arranges for waker to be woken once the clock reaches deadline.
// A deadline at or before the wheel's current time fires on the next Advance.
func (w *Wheel) Schedule(deadline time.Time, waker core.Waker) (ID, error) {
	when := w.tickCeil(deadline)

	w.mu.Lock()
	if when > w.elapsed && when-w.elapsed >= w.horizon {
		w.mu.Unlock()
		return ID{}, fmt.Errorf("deadline %s ahead: %w", deadline.Sub(w.clock.Now()), core.ErrTimerOverflow)
	}
	prev, hadPrev := w.nextTickLocked()

	e := w.allocLocked()
	e.when = when
	e.waker = waker
	w.insertLocked(e)
	w.count++

	notify := w.onEarlier
	earlier := !hadPrev || max(when, w.elapsed) < prev
	w.mu.Unlock()

	if notify != nil && earlier {
		notify()
	}
	return ID{e: e, gen: e.gen}, nil
}

// Reset replaces the waker of a pending timer. It reports false if the timer
// is no longer pending.
func (w *Wheel) Reset(id ID, waker core.Waker) bool {
	if id.e == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if id.e.gen != id.gen || id.e.state.Load() != entryPending {
		return false
	}
	id.e.waker = waker
	return true
}

// IsPending reports whether the timer has neither fired nor been cancelled.
func (w *Wheel) IsPending(id ID) bool {
	if id.e == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return id.e.gen == id.gen && id.e.state.Load() == entryPending
}

// Cancel removes a pending timer. It reports false if the timer already fired
// or was cancelled; a timer cancelled here never wakes.
func (w *Wheel) Cancel(id ID) bool {
	if id.e == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	e := id.e
	if e.gen != id.gen || !e.state.CompareAndSwap(entryPending, entryCancelled) {
		return false
	}
	w.unlinkLocked(e)
	w.count--
	w.releaseLocked(e)
	return true
}

// NextDeadline returns the instant of the earliest pending timer.
func (w *Wheel) NextDeadline() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tick, ok := w.nextTickLocked()
	if !ok {
		return time.Time{}, false
	}
	return w.start.Add(time.Duration(tick) * w.resolution), true
}

// Advance fires every timer whose deadline is at or before now and returns
// how many fired. Wakers run in nondecreasing deadline order.
func (w *Wheel) Advance(now time.Time) int {
	target := w.tickFloor(now)

	w.mu.Lock()
	var fired []core.Waker

	if len(w.expired) > 0 {
		slices.SortStableFunc(w.expired, func(a, b *entry) int {
			switch {
			case a.when < b.when:
				return -1
			case a.when > b.when:
				return 1
			}
			return 0
		})
		for _, e := range w.expired {
			fired = w.fireLocked(e, fired)
		}
		clear(w.expired)
		w.expired = w.expired[:0]
	}

	for {
		lvl, slot, deadline, ok := w.nextExpirationLocked()
		if !ok || deadline > target {
			break
		}
		w.elapsed = deadline
		head := w.levels[lvl].slots[slot]
		w.levels[lvl].slots[slot] = nil
		w.levels[lvl].occupied &^= 1 << uint(slot)

		for e := head; e != nil; {
			next := e.next
			e.prev, e.next = nil, nil
			if e.when <= deadline {
				fired = w.fireLocked(e, fired)
			} else {
				w.insertLocked(e)
			}
			e = next
		}
	}
	if target > w.elapsed {
		w.elapsed = target
	}
	w.mu.Unlock()

	for _, wk := range fired {
		wk.Wake()
	}
	return len(fired)
}

// AdvanceToNow is Advance(w.Clock().Now()).
func (w *Wheel) AdvanceToNow() int {
	return w.Advance(w.clock.Now())
}

// Clear drops every pending timer without waking it and returns how many were
// dropped.
func (w *Wheel) Clear() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.count
	for _, e := range w.expired {
		e.state.Store(entryCancelled)
	}
	w.expired = nil
	for l := range w.levels {
		for s := range w.levels[l].slots {
			for e := w.levels[l].slots[s]; e != nil; e = e.next {
				e.state.Store(entryCancelled)
			}
			w.levels[l].slots[s] = nil
		}
		w.levels[l].occupied = 0
	}
	w.count = 0
	return n
}

func (w *Wheel) fireLocked(e *entry, fired []core.Waker) []core.Waker {
	if !e.state.CompareAndSwap(entryPending, entryFired) {
		return fired
	}
	fired = append(fired, e.waker)
	w.count--
	w.releaseLocked(e)
	return fired
}

func (w *Wheel) tickCeil(t time.Time) uint64 {
	d := t.Sub(w.start)
	if d <= 0 {
		return 0
	}
	return uint64((d + w.resolution - 1) / w.resolution)
}

func (w *Wheel) tickFloor(t time.Time) uint64 {
	d := t.Sub(w.start)
	if d <= 0 {
		return 0
	}
	return uint64(d / w.resolution)
}

// levelFor picks the level whose slot granularity separates when from elapsed.
func levelFor(elapsed, when uint64) int {
	masked := (elapsed ^ when) | slotMask
	if masked >= MaxTicks {
		masked = MaxTicks - 1
	}
	significant := 63 - bits.LeadingZeros64(masked)
	return significant / slotBits
}

func slotFor(lvl int, when uint64) int {
	return int((when >> (uint(lvl) * slotBits)) & slotMask)
}

func (w *Wheel) insertLocked(e *entry) {
	if e.when <= w.elapsed {
		e.level = -1
		w.expired = append(w.expired, e)
		return
	}
	lvl := levelFor(w.elapsed, e.when)
	slot := slotFor(lvl, e.when)
	e.level, e.slot = lvl, slot
	l := &w.levels[lvl]
	e.prev = nil
	e.next = l.slots[slot]
	if e.next != nil {
		e.next.prev = e
	}
	l.slots[slot] = e
	l.occupied |= 1 << uint(slot)
}

func (w *Wheel) unlinkLocked(e *entry) {
	if e.level < 0 {
		if i := slices.Index(w.expired, e); i >= 0 {
			w.expired = slices.Delete(w.expired, i, i+1)
		}
		return
	}
	l := &w.levels[e.level]
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.slots[e.slot] = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if l.slots[e.slot] == nil {
		l.occupied &^= 1 << uint(e.slot)
	}
	e.prev, e.next = nil, nil
}

// nextExpirationLocked finds the earliest occupied slot. Lower levels always
// expire before higher ones, so the first level with an occupied slot wins.
func (w *Wheel) nextExpirationLocked() (lvl, slot int, deadline uint64, ok bool) {
	for l := range NumLevels {
		occ := w.levels[l].occupied
		if occ == 0 {
			continue
		}
		slotRange := uint64(1) << (uint(l) * slotBits)
		levelRange := slotRange << slotBits
		nowSlot := int((w.elapsed / slotRange) & slotMask)
		zeros := bits.TrailingZeros64(bits.RotateLeft64(occ, -nowSlot))
		s := (zeros + nowSlot) & slotMask
		levelStart := w.elapsed &^ (levelRange - 1)
		d := levelStart + uint64(s)*slotRange
		if d <= w.elapsed {
			// Only the top level wraps: its slots behind the cursor belong to
			// the next rotation.
			d += levelRange
		}
		return l, s, d, true
	}
	return 0, 0, 0, false
}

func (w *Wheel) nextTickLocked() (uint64, bool) {
	if len(w.expired) > 0 {
		return w.elapsed, true
	}
	_, _, d, ok := w.nextExpirationLocked()
	if !ok {
		return 0, false
	}
	return max(d, w.elapsed), true
}

func (w *Wheel) allocLocked() *entry {
	if n := len(w.free); n > 0 {
		e := w.free[n-1]
		w.free[n-1] = nil
		w.free = w.free[:n-1]
		e.state.Store(entryPending)
		return e
	}
	return &entry{}
}

const maxFreeEntries = 1024

func (w *Wheel) releaseLocked(e *entry) {
	e.gen++
	e.waker = core.Waker{}
	e.prev, e.next = nil, nil
	if len(w.free) < maxFreeEntries {
		w.free = append(w.free, e)
	}
}
