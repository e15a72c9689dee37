// Package taskruntime is a work-stealing runtime for poll-based tasks.
//
// A task is a Future: a computation advanced by repeated Poll calls. A poll
// either completes the task or returns Pending after registering a Waker with
// the reactor, the timer wheel, or another task. Worker goroutines run tasks
// from their own bounded queues, fall back to a shared global queue, and
// steal from each other when idle. One reactor goroutine blocks in the OS
// poller with a timeout bounded by the next timer deadline, so I/O readiness
// and timers share a single blocking point.
//
// # Quick Start
//
//	rt, err := taskruntime.New(taskruntime.Config{Workers: 4})
//	if err != nil {
//		return err
//	}
//	defer rt.Shutdown(5 * time.Second)
//
//	h := rt.Handle()
//	jh, err := taskruntime.Spawn(h, core.Lazy(func() (int, error) {
//		return 42, nil
//	}))
//	if err != nil {
//		return err
//	}
//	v, err := jh.Wait(ctx)
//
// # Key Concepts
//
// Cell: the runtime's record of a spawned task. Its atomic state word makes
// every transition race-free: a task is polled by at most one worker at a
// time, and wakes that arrive mid-poll collapse into one reschedule.
//
// Handle: spawns tasks and creates sleep and readiness futures. Inside a
// poll, SpawnFrom keeps the new task on the current worker.
//
// Flavor: MultiThread runs the work-stealing pool; CurrentThread runs
// everything on the goroutine that calls BlockOn or drives the
// CurrentThreadDriver, which makes timer-driven tests deterministic with
// core.ManualClock.
//
// # Shutdown
//
// Shutdown rejects new spawns, cancels every live task, and waits for
// workers until the timeout. Tasks still inside a poll at that point are
// detached and reported in the ShutdownReport.
package taskruntime
