package taskruntime

import (
	"sync"
	"time"
)

// =============================================================================
// Global Runtime Helper (Singleton)
// =============================================================================

var (
	globalRuntime *Runtime
	globalMu      sync.Mutex
)

// InitGlobal creates and starts the process-wide runtime. Calling it again
// returns the existing runtime and ignores cfg.
func InitGlobal(cfg Config) (*Runtime, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRuntime != nil {
		return globalRuntime, nil
	}
	rt, err := New(cfg)
	if err != nil {
		return nil, err
	}
	globalRuntime = rt
	return rt, nil
}

// Global returns the process-wide runtime.
// It panics if InitGlobal has not been called.
func Global() *Runtime {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRuntime == nil {
		panic("global runtime not initialized. Call InitGlobal() first.")
	}
	return globalRuntime
}

// ShutdownGlobal shuts the process-wide runtime down and clears it, so a
// later InitGlobal starts a fresh one.
func ShutdownGlobal(timeout time.Duration) (ShutdownReport, error) {
	globalMu.Lock()
	rt := globalRuntime
	globalRuntime = nil
	globalMu.Unlock()

	if rt == nil {
		return ShutdownReport{}, nil
	}
	return rt.Shutdown(timeout)
}
