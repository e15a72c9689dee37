package main

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/urfave/cli/v2"

	taskruntime "github.com/Swind/go-task-runtime"
	"github.com/Swind/go-task-runtime/core"
)

var timersEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TimersCommand() *cli.Command {
	return &cli.Command{
		Name:  "timers",
		Usage: "run sleeping tasks on a current-thread runtime with a virtual clock and print the firing order",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 8, Usage: "number of sleeping tasks"},
			&cli.DurationFlag{Name: "max", Value: 100 * time.Millisecond, Usage: "longest sleep"},
			&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "seed for the sleep durations"},
		},
		Action: TimersAction,
	}
}

func TimersAction(c *cli.Context) error {
	count, maxSleep := c.Int("count"), c.Duration("max")
	if count < 1 || maxSleep <= 0 {
		return cli.Exit("count and max must be positive", 1)
	}
	e, err := loadEnv(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	clock := core.NewManualClock(timersEpoch)
	rt, err := e.newRuntime(func(cfg *taskruntime.Config) {
		cfg.Flavor = taskruntime.CurrentThread
		cfg.Clock = clock
		cfg.DisableIO = true
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	fired, err := runTimers(rt, clock, count, maxSleep, c.Uint64("seed"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	for i, f := range fired {
		fmt.Fprintf(e.out, "%2d  task %-3d slept %-8s woke at +%s\n", i+1, f.task, f.sleep, f.at.Sub(timersEpoch))
	}
	return e.shutdown(rt)
}

type firing struct {
	task  int
	sleep time.Duration
	at    time.Time
}

// runTimers spawns count tasks sleeping random durations up to maxSleep and
// steps the virtual clock one wheel tick at a time until all have woken.
func runTimers(rt *taskruntime.Runtime, clock *core.ManualClock, count int, maxSleep time.Duration, seed uint64) ([]firing, error) {
	h := rt.Handle()
	d := rt.CurrentThread()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	var fired []firing
	for i := range count {
		sleepFor := time.Duration(rng.Int64N(int64(maxSleep))) + time.Millisecond
		sleep := h.Sleep(sleepFor)
		_, err := taskruntime.SpawnNamed(h, fmt.Sprintf("sleeper-%d", i), core.FutureFunc[struct{}](func(cx *core.Context) core.Poll[struct{}] {
			if !sleep.Poll(cx).IsReady() {
				return core.Pending[struct{}]()
			}
			fired = append(fired, firing{task: i, sleep: sleepFor, at: clock.Now()})
			return core.Ready(struct{}{})
		}))
		if err != nil {
			return nil, err
		}
	}

	d.RunUntilIdle()
	step := rt.Config().TimerResolution
	for len(fired) < count {
		d.AdvanceTo(clock.Now().Add(step))
		d.RunUntilIdle()
	}
	return fired, nil
}
