package taskruntime

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-task-runtime/core"
	"github.com/Swind/go-task-runtime/timer"
)

// TestConfig_Defaults verifies every unset field is filled in.
func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, "taskruntime", cfg.Name)
	assert.Equal(t, MultiThread, cfg.Flavor)
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Workers)
	assert.Equal(t, core.DefaultLocalQueueCapacity, cfg.LocalQueueCapacity)
	assert.Equal(t, DefaultGlobalQueueInterval, cfg.GlobalQueueInterval)
	assert.Equal(t, DefaultGlobalBatch, cfg.GlobalBatch)
	assert.Equal(t, DefaultPollBudget, cfg.PollBudget)
	assert.Equal(t, DefaultKeepAlive, cfg.KeepAlive)
	assert.Equal(t, timer.DefaultResolution, cfg.TimerResolution)
	assert.IsType(t, core.RealClock{}, cfg.Clock)
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.PanicHandler)
	assert.NotNil(t, cfg.Metrics)
	assert.NotNil(t, cfg.RejectedTaskHandler)
	require.NoError(t, cfg.validate())
}

// TestConfig_CurrentThreadForcesOneWorker verifies the flavor overrides Workers.
func TestConfig_CurrentThreadForcesOneWorker(t *testing.T) {
	cfg := Config{Flavor: CurrentThread, Workers: 8}.withDefaults()
	assert.Equal(t, 1, cfg.Workers)
}

// TestConfig_Validate verifies out-of-range values are rejected.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"too many workers", func(c *Config) { c.Workers = maxWorkers + 1 }},
		{"tiny local queue", func(c *Config) { c.LocalQueueCapacity = 1 }},
		{"negative interval", func(c *Config) { c.GlobalQueueInterval = -3 }},
		{"negative batch", func(c *Config) { c.GlobalBatch = -1 }},
		{"negative keep-alive", func(c *Config) { c.KeepAlive = -time.Second }},
		{"negative resolution", func(c *Config) { c.TimerResolution = -time.Millisecond }},
		{"negative horizon", func(c *Config) { c.MaxTimerHorizon = -time.Hour }},
		{"unknown flavor", func(c *Config) { c.Flavor = Flavor(9) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}.withDefaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

// TestNew_RejectsInvalidConfig verifies New fails fast on bad configuration.
func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{Workers: -2})
	assert.Error(t, err)

	_, err = New(Config{MaxTimerHorizon: timer.Capacity(timer.DefaultResolution) * 2, DisableIO: true})
	assert.ErrorIs(t, err, core.ErrTimerOverflow)
}

// TestParseFlavor verifies accepted spellings.
func TestParseFlavor(t *testing.T) {
	for in, want := range map[string]Flavor{
		"":               MultiThread,
		"multi_thread":   MultiThread,
		"Multi-Thread":   MultiThread,
		"current_thread": CurrentThread,
		"current":        CurrentThread,
	} {
		got, err := ParseFlavor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFlavor("fibers")
	assert.Error(t, err)
	assert.Equal(t, "current_thread", CurrentThread.String())
}
