//go:build linux

package reactor

import "golang.org/x/sys/unix"

var fatalTestError error = unix.EBADF
