package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/phrazzld/verifyd/internal/config"
	"github.com/phrazzld/verifyd/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useMemoryBackend configures a single-process deployment through the environment.
func useMemoryBackend(t *testing.T) {
	t.Setenv("VERIFYD_STORE_BACKEND", "memory")
	t.Setenv("VERIFYD_LEDGER_BACKEND", "memory")
	t.Setenv("VERIFYD_POOL_SUBSTRATE", "local")
	t.Setenv("VERIFYD_SERVER_LOG_LEVEL", "error")
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestReclaimCommand(t *testing.T) {
	useMemoryBackend(t)

	out, err := execute(t, "", "reclaim")
	require.NoError(t, err)

	var res task.SweepResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Zero(t, res.Reclaimed)
	assert.Zero(t, res.Rejected)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	useMemoryBackend(t)
	t.Setenv("VERIFYD_POOL_SUBSTRATE", "process")

	_, err := execute(t, "", "reclaim")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLogLevelFlagOverridesEnvironment(t *testing.T) {
	useMemoryBackend(t)
	t.Setenv("VERIFYD_SERVER_LOG_LEVEL", "loud")

	_, err := execute(t, "", "reclaim")
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = execute(t, "", "--log-level", "debug", "reclaim")
	assert.NoError(t, err)
}

func TestEnqueueCommand(t *testing.T) {
	useMemoryBackend(t)

	t.Run("requires a tenant", func(t *testing.T) {
		_, err := execute(t, "", "enqueue", "a@example.com")
		assert.Error(t, err)
	})

	t.Run("rejects a malformed tenant", func(t *testing.T) {
		_, err := execute(t, "", "enqueue", "--tenant", "not-a-uuid", "a@example.com")
		assert.ErrorContains(t, err, "invalid --tenant")
	})

	t.Run("needs durable storage", func(t *testing.T) {
		_, err := execute(t, "", "enqueue", "--tenant", "7d3c1d52-2a52-4bb4-8f44-0c4f4bfc3f6b", "a@example.com")
		assert.ErrorContains(t, err, "postgres")
	})

	t.Run("empty stdin", func(t *testing.T) {
		_, err := execute(t, "\n\n", "enqueue", "--tenant", "7d3c1d52-2a52-4bb4-8f44-0c4f4bfc3f6b")
		assert.ErrorContains(t, err, "no addresses")
	})
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("a@example.com\n\n  b@example.com  \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, lines)
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	useMemoryBackend(t)

	_, err := execute(t, "", "migrate", "status")
	assert.ErrorContains(t, err, "database.url")
}
