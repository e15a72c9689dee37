package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	taskruntime "github.com/Swind/go-task-runtime"
	"github.com/Swind/go-task-runtime/config"
	"github.com/Swind/go-task-runtime/core"
	obs "github.com/Swind/go-task-runtime/observability/prometheus"
)

// env is what every command needs: the parsed file, a logger and, when
// requested, the metrics endpoint.
type env struct {
	file   *config.File
	logger core.Logger
	out    io.Writer

	registry *prom.Registry
	exporter *obs.MetricsExporter
	poller   *obs.SnapshotPoller
	server   *http.Server
}

func loadEnv(c *cli.Context) (*env, error) {
	file := &config.File{}
	if path := c.String("config"); path != "" {
		f, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		file = f
	}
	if lvl := c.String("log-level"); lvl != "" {
		file.Logging.Level = lvl
	}

	e := &env{file: file, logger: file.Logger(c.App.ErrWriter), out: c.App.Writer}
	if e.out == nil {
		e.out = io.Discard
	}

	addr := c.String("metrics-addr")
	if addr == "" && !file.Metrics.Enabled {
		return e, nil
	}
	e.registry = prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter(file.Metrics.Namespace, e.registry, obs.ExporterOptions{})
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}
	poller, err := obs.NewSnapshotPoller(file.Metrics.Namespace, e.registry, file.SnapshotInterval())
	if err != nil {
		return nil, fmt.Errorf("snapshot poller: %w", err)
	}
	e.exporter, e.poller = exporter, poller

	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
		e.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("metrics server failed", core.F("addr", addr), core.F("error", err))
			}
		}()
		e.logger.Info("serving metrics", core.F("addr", addr))
	}
	return e, nil
}

// newRuntime builds a runtime from the file, applying override to the
// config first.
func (e *env) newRuntime(override func(*taskruntime.Config)) (*taskruntime.Runtime, error) {
	cfg, err := e.file.RuntimeConfig()
	if err != nil {
		return nil, err
	}
	cfg.Logger = e.logger
	if e.exporter != nil {
		cfg.Metrics = e.exporter
	}
	if override != nil {
		override(&cfg)
	}
	rt, err := taskruntime.New(cfg)
	if err != nil {
		return nil, err
	}
	if e.poller != nil {
		e.poller.AddRuntime(rt.Name(), rt)
		e.poller.Start(context.Background())
	}
	return rt, nil
}

// shutdown stops rt and the metrics plumbing and logs the report.
func (e *env) shutdown(rt *taskruntime.Runtime) error {
	report, err := rt.Shutdown(e.file.ShutdownTimeout())
	if e.poller != nil {
		e.poller.CollectOnce()
		e.poller.Stop()
	}
	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.server.Shutdown(ctx)
	}
	e.logger.Debug("runtime shut down",
		core.F("cancelled", report.Cancelled),
		core.F("detached", report.Detached),
		core.F("elapsed", report.Elapsed))
	return err
}
