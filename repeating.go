package taskruntime

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Swind/go-task-runtime/core"
	"github.com/Swind/go-task-runtime/timer"
)

// Job is the body of a repeating task. It runs inside a poll, so it should
// return quickly; ctx is cancelled when the runtime shuts down.
type Job func(ctx context.Context) error

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron expression with optional seconds field, or a
// descriptor such as "@hourly" or "@every 5s".
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return s, nil
}

type interval time.Duration

func (i interval) Next(t time.Time) time.Time { return t.Add(time.Duration(i)) }

// Every returns a schedule firing every d. Whole-second intervals use cron's
// constant delay schedule; shorter ones keep their sub-second precision.
func Every(d time.Duration) cron.Schedule {
	if d <= 0 {
		d = timer.DefaultResolution
	}
	if d >= time.Second && d%time.Second == 0 {
		return cron.Every(d)
	}
	return interval(d)
}

// RepeatingHandle controls a job started by SpawnRepeating.
type RepeatingHandle struct {
	join     *core.JoinHandle[struct{}]
	runs     atomic.Uint64
	failures atomic.Uint64
}

// Stop cancels the schedule. Job runs already spawned are not affected.
func (r *RepeatingHandle) Stop() bool { return r.join.Cancel() }

// IsStopped reports whether the schedule ended.
func (r *RepeatingHandle) IsStopped() bool { return r.join.IsFinished() }

// Done is closed once the schedule ended.
func (r *RepeatingHandle) Done() <-chan struct{} { return r.join.Done() }

// Runs returns how many job runs have finished.
func (r *RepeatingHandle) Runs() uint64 { return r.runs.Load() }

// Failures returns how many job runs returned an error.
func (r *RepeatingHandle) Failures() uint64 { return r.failures.Load() }

// SpawnRepeating runs job on the runtime at every activation of schedule,
// each run as its own task. Activations are timed by the runtime's timer
// wheel, so a manual clock drives them too.
func SpawnRepeating(h *Handle, schedule cron.Schedule, job Job) (*RepeatingHandle, error) {
	rh := &RepeatingHandle{}
	jh, err := SpawnNamed[struct{}](h, "repeating", &repeatingFuture{h: h, schedule: schedule, job: job, handle: rh})
	if err != nil {
		return nil, err
	}
	rh.join = jh
	return rh, nil
}

// SpawnCron is SpawnRepeating with a cron expression.
func SpawnCron(h *Handle, expr string, job Job) (*RepeatingHandle, error) {
	s, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	return SpawnRepeating(h, s, job)
}

type repeatingFuture struct {
	h        *Handle
	schedule cron.Schedule
	job      Job
	handle   *RepeatingHandle
	sleep    *timer.SleepFuture
}

func (r *repeatingFuture) Poll(cx *core.Context) core.Poll[struct{}] {
	for {
		if r.sleep == nil {
			next := r.schedule.Next(r.h.Now())
			if next.IsZero() {
				return core.Ready(struct{}{})
			}
			r.sleep = r.h.SleepUntil(next)
		}
		p := r.sleep.Poll(cx)
		if !p.IsReady() {
			return core.Pending[struct{}]()
		}
		r.sleep = nil
		if _, err := p.Value(); err != nil {
			return core.Fail[struct{}](err)
		}
		if _, err := SpawnFrom(cx, r.run()); err != nil {
			return core.Fail[struct{}](err)
		}
	}
}

func (r *repeatingFuture) run() core.Future[struct{}] {
	ctx := r.h.Context()
	cfg := r.h.rt.cfg
	return core.Lazy(func() (struct{}, error) {
		defer r.handle.runs.Add(1)
		if err := r.job(ctx); err != nil {
			r.handle.failures.Add(1)
			cfg.Logger.Warn("repeating job failed", core.F("runtime", cfg.Name), core.F("error", err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

func (r *repeatingFuture) Drop() {
	if r.sleep != nil {
		r.sleep.Drop()
		r.sleep = nil
	}
}
