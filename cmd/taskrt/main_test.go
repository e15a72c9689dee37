package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"taskrt"}, args...))
	return out.String(), err
}

// TestTimersCommand verifies the virtual clock demo prints sleeps in wake order
func TestTimersCommand(t *testing.T) {
	out, err := runApp(t, "timers", "--count", "6", "--max", "50ms", "--seed", "7")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	prev := ""
	for _, line := range lines {
		fields := strings.Fields(line)
		woke := fields[len(fields)-1]
		require.True(t, strings.HasPrefix(woke, "+"), line)
		if prev != "" {
			assert.LessOrEqual(t, mustDuration(t, prev), mustDuration(t, woke), "out of order: %s", out)
		}
		prev = woke
	}
}

// TestBenchCommand verifies every task runs and each worker is reported
func TestBenchCommand(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("runtime:\n  disable_io: true\nlogging:\n  level: error\n"), 0o600))

	out, err := runApp(t, "--config", cfg, "bench", "--tasks", "200", "--yields", "2", "--workers", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "200 tasks x 2 yields on 3 workers")
	assert.Equal(t, 3, strings.Count(out, "  worker "))
}

// TestCronCommand verifies the schedule fires at least once before the duration ends
func TestCronCommand(t *testing.T) {
	out, err := runApp(t, "--log-level", "error", "cron", "--schedule", "@every 1s", "--for", "1500ms")
	require.NoError(t, err)
	assert.Contains(t, out, "run 1 at")
	assert.Contains(t, out, "runs, 0 failed")
}

func TestCronCommand_BadSchedule(t *testing.T) {
	_, err := runApp(t, "cron", "--schedule", "not a schedule")
	assert.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := runApp(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "timers")
	assert.ErrorContains(t, err, "read config")
}

func mustDuration(t *testing.T, s string) time.Duration {
	t.Helper()
	d, err := time.ParseDuration(strings.TrimPrefix(s, "+"))
	require.NoError(t, err)
	return d
}
