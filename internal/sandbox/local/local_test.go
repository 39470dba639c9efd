package local_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/programme-lv/runner/internal/sandbox"
	"github.com/programme-lv/runner/internal/sandbox/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSandbox(t *testing.T) *local.Sandbox {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	return local.New(local.Isolation{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSpawnEcho(t *testing.T) {
	sb := newSandbox(t)
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	proc, err := sb.SpawnIsolated(context.Background(), sandbox.Spec{
		Dir:     dir,
		Command: "cat; echo oops >&2; exit 3",
		Stdin:   strings.NewReader("hello\n"),
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	require.NoError(t, err)

	status, err := proc.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, status.ExitCode)
	assert.Nil(t, status.Signal)
	assert.Equal(t, "hello\n", stdout.String())
	assert.Equal(t, "oops\n", stderr.String())

	// terminating an exited process is a no-op
	require.NoError(t, proc.Terminate())
	require.NoError(t, proc.Terminate())
}

func TestTerminateKillsWholeGroup(t *testing.T) {
	sb := newSandbox(t)

	var stdout bytes.Buffer
	proc, err := sb.SpawnIsolated(context.Background(), sandbox.Spec{
		Dir:     t.TempDir(),
		Command: "sleep 30 & sleep 30",
		Stdin:   strings.NewReader(""),
		Stdout:  &stdout,
		Stderr:  io.Discard,
	})
	require.NoError(t, err)

	if runtime.GOOS == "linux" {
		require.Eventually(t, func() bool {
			mem, err := proc.MemoryUsage()
			return err == nil && mem > 0
		}, 2*time.Second, 10*time.Millisecond)
	}

	start := time.Now()
	require.NoError(t, proc.Terminate())
	status, err := proc.Wait()
	require.NoError(t, err)
	require.NotNil(t, status.Signal)
	assert.Less(t, time.Since(start), 5*time.Second)
}
