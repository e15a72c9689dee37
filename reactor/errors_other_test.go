//go:build !linux

package reactor

import "errors"

var fatalTestError = errors.New("poller failed")
