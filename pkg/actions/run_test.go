package actions

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliod-dev/heliod/pkg/shell"
)

func TestRunCommand(t *testing.T) {
	env := testEnv(t)

	action, err := NewRun(map[string]interface{}{"shell": "echo hello"}, env)
	require.NoError(t, err)

	result, ok := action.Execute(false, shell.DefaultTimeout)
	require.True(t, ok)
	assert.Equal(t, "echo hello", result.Command)
	assert.Equal(t, "hello", result.Stdout)
}

func TestRunInModuleDirectory(t *testing.T) {
	env := testEnv(t)
	writeFile(t, filepath.Join(env.Directory, "marker"), "found\n")

	action, err := NewRun(map[string]interface{}{"shell": "cat marker"}, env)
	require.NoError(t, err)

	result, ok := action.Execute(false, shell.DefaultTimeout)
	require.True(t, ok)
	assert.Equal(t, "found", result.Stdout)
}

func TestRunTimeoutOptionWins(t *testing.T) {
	env := testEnv(t)

	action, err := NewRun(map[string]interface{}{
		"shell":   "sleep 5 && echo done",
		"timeout": 0.1,
	}, env)
	require.NoError(t, err)

	start := time.Now()
	result, ok := action.Execute(false, 10*time.Second)
	require.True(t, ok)
	assert.Empty(t, result.Stdout, "abandoned commands yield no output")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunDefaultTimeout(t *testing.T) {
	env := testEnv(t)

	action, err := NewRun(map[string]interface{}{"shell": "sleep 5 && echo done"}, env)
	require.NoError(t, err)

	start := time.Now()
	result, ok := action.Execute(false, 100*time.Millisecond)
	require.True(t, ok)
	assert.Empty(t, result.Stdout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunNonZeroExit(t *testing.T) {
	env := testEnv(t)

	action, err := NewRun(map[string]interface{}{"shell": "exit 1"}, env)
	require.NoError(t, err)

	result, ok := action.Execute(false, shell.DefaultTimeout)
	require.True(t, ok, "failing commands are logged, not fatal")
	assert.Empty(t, result.Stdout)
}

func TestRunDryRun(t *testing.T) {
	env := testEnv(t)
	marker := filepath.Join(env.Directory, "marker")

	action, err := NewRun(map[string]interface{}{"shell": "touch " + marker}, env)
	require.NoError(t, err)

	_, ok := action.Execute(true, shell.DefaultTimeout)
	assert.False(t, ok)
	assert.NoFileExists(t, marker)
}
