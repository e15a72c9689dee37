package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	taskruntime "github.com/Swind/go-task-runtime"
	"github.com/Swind/go-task-runtime/core"
)

func BenchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "spawn many yielding tasks from one task and report how the workers shared them",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "tasks", Aliases: []string{"n"}, Value: 10000, Usage: "number of tasks"},
			&cli.IntFlag{Name: "yields", Value: 4, Usage: "times each task yields before completing"},
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "override runtime.workers"},
		},
		Action: BenchAction,
	}
}

func BenchAction(c *cli.Context) error {
	n, yields := c.Int("tasks"), c.Int("yields")
	if n < 1 || yields < 0 {
		return cli.Exit("tasks must be positive and yields non-negative", 1)
	}
	e, err := loadEnv(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	rt, err := e.newRuntime(func(cfg *taskruntime.Config) {
		cfg.Flavor = taskruntime.MultiThread
		if w := c.Int("workers"); w > 0 {
			cfg.Workers = w
		}
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	start := time.Now()
	root, err := taskruntime.Spawn(rt.Handle(), fanOut(n, yields))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	handles, err := root.Wait(context.Background())
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	for _, h := range handles {
		if _, err := h.Wait(context.Background()); err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
	}
	elapsed := time.Since(start)

	stats := rt.Stats()
	fmt.Fprintf(e.out, "%d tasks x %d yields on %d workers in %s (%.0f polls/s)\n",
		n, yields, stats.Workers, elapsed, float64(n*(yields+1))/elapsed.Seconds())
	for _, w := range stats.PerWorker {
		fmt.Fprintf(e.out, "  worker %-3d polls=%-8d stolen=%-6d parks=%d\n", w.Index, w.Polls, w.Steals, w.Parks)
	}
	return e.shutdown(rt)
}

// fanOut spawns n children from inside one task, so they all start on the
// spawning worker's queue and the other workers must steal them.
func fanOut(n, yields int) core.Future[[]*core.JoinHandle[int]] {
	return core.FutureFunc[[]*core.JoinHandle[int]](func(cx *core.Context) core.Poll[[]*core.JoinHandle[int]] {
		handles := make([]*core.JoinHandle[int], 0, n)
		for i := range n {
			jh, err := taskruntime.SpawnFrom(cx, &yielder{left: yields, value: i})
			if err != nil {
				return core.Fail[[]*core.JoinHandle[int]](err)
			}
			handles = append(handles, jh)
		}
		return core.Ready(handles)
	})
}

type yielder struct {
	left  int
	value int
}

func (y *yielder) Poll(cx *core.Context) core.Poll[int] {
	if y.left == 0 {
		return core.Ready(y.value)
	}
	y.left--
	cx.Wake(cx.Waker())
	return core.Pending[int]()
}
