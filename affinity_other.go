//go:build !linux

package taskruntime

// pinToCPU is a no-op where thread affinity is not exposed; the worker still
// keeps its OS thread.
func pinToCPU(int) error { return nil }
