//go:build !linux

package reactor

func newPoller() (poller, error) {
	return newTimerPoller(), nil
}

func classifyPollError(err error) errorClass {
	return errFatal
}
