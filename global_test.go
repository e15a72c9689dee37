package taskruntime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-task-runtime/core"
)

// TestGlobalRuntime verifies the process-wide runtime lifecycle.
// Given: no global runtime
// When: it is initialised twice, used, and shut down
// Then: both inits return the same runtime and Global panics after shutdown
func TestGlobalRuntime(t *testing.T) {
	_, _ = ShutdownGlobal(time.Second)

	first, err := InitGlobal(Config{Workers: 2, DisableIO: true})
	require.NoError(t, err)
	second, err := InitGlobal(Config{Workers: 8})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Same(t, first, Global())

	jh, err := Spawn(Global().Handle(), core.Value("global"))
	require.NoError(t, err)
	v, err := jh.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "global", v)

	_, err = ShutdownGlobal(time.Second)
	require.NoError(t, err)
	assert.False(t, first.IsRunning())
	assert.Panics(t, func() { Global() })
}
