//go:build linux

package taskruntime

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// pinToCPU binds the calling OS thread to CPU index % NumCPU. The caller must
// have locked the goroutine to its thread.
func pinToCPU(index int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(index % runtime.NumCPU())
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", index%runtime.NumCPU(), err)
	}
	return nil
}
