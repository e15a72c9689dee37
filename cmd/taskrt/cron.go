package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	taskruntime "github.com/Swind/go-task-runtime"
)

func CronCommand() *cli.Command {
	return &cli.Command{
		Name:  "cron",
		Usage: "run a job on a cron schedule until the duration passes or the process is interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "schedule",
				Aliases:  []string{"s"},
				Required: true,
				Usage:    `cron expression with optional seconds, or a descriptor such as "@every 2s"`,
			},
			&cli.DurationFlag{Name: "for", Value: 10 * time.Second, Usage: "how long to keep the schedule running"},
			&cli.IntFlag{Name: "fail-every", Usage: "make every n-th run fail (0 disables)"},
		},
		Action: CronAction,
	}
}

func CronAction(c *cli.Context) error {
	schedule, err := taskruntime.ParseSchedule(c.String("schedule"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	e, err := loadEnv(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	rt, err := e.newRuntime(func(cfg *taskruntime.Config) {
		cfg.Flavor = taskruntime.MultiThread
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	failEvery := int64(c.Int("fail-every"))
	var n atomic.Int64
	rh, err := taskruntime.SpawnRepeating(rt.Handle(), schedule, func(ctx context.Context) error {
		run := n.Add(1)
		fmt.Fprintf(e.out, "run %d at %s\n", run, time.Now().Format(time.RFC3339))
		if failEvery > 0 && run%failEvery == 0 {
			return fmt.Errorf("run %d failed on purpose", run)
		}
		return nil
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
	case <-time.After(c.Duration("for")):
	case <-rh.Done():
	}
	rh.Stop()
	fmt.Fprintf(e.out, "%d runs, %d failed\n", rh.Runs(), rh.Failures())
	return e.shutdown(rt)
}
