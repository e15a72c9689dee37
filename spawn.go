package taskruntime

import (
	"fmt"

	"github.com/Swind/go-task-runtime/core"
)

// Spawn submits f to the runtime behind h. Outside a poll the task goes to
// the global queue; use SpawnFrom inside a poll to keep it on the current
// worker. It fails with core.ErrSpawnRejected once shutdown has begun.
func Spawn[T any](h *Handle, f core.Future[T]) (*core.JoinHandle[T], error) {
	return SpawnNamed(h, "", f)
}

// SpawnNamed is Spawn with a display name that shows up in task history.
func SpawnNamed[T any](h *Handle, name string, f core.Future[T]) (*core.JoinHandle[T], error) {
	return spawn(h.rt, name, f, nil)
}

// SpawnFrom spawns f from inside a poll of a task that belongs to a runtime.
// On a worker the new task is pushed to that worker's local queue.
func SpawnFrom[T any](cx *core.Context, f core.Future[T]) (*core.JoinHandle[T], error) {
	h, ok := HandleFrom(cx)
	if !ok {
		return nil, fmt.Errorf("spawn outside a runtime poll: %w", core.ErrSpawnRejected)
	}
	return spawn(h.rt, "", f, cx)
}

func spawn[T any](rt *Runtime, name string, f core.Future[T], from *core.Context) (*core.JoinHandle[T], error) {
	c := core.NewCell(rt.exec, name, f)
	if err := rt.admit(c); err != nil {
		return nil, err
	}
	if c.MarkScheduled() {
		rt.exec.Schedule(c, from)
	}
	return core.NewJoinHandle[T](c), nil
}
