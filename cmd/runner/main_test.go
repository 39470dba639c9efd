package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/programme-lv/runner/api"
	"github.com/programme-lv/runner/internal/config"
	"github.com/programme-lv/runner/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Executor.WorkspaceRoot = t.TempDir()
	cfg.Languages = []executor.Language{
		{ID: "sh", Name: "POSIX shell", FileExt: ".sh", ExecCmd: "sh main.sh", HelloCode: "echo hello world"},
		{ID: "quiet", Name: "Quiet shell", FileExt: ".sh", ExecCmd: "sh main.sh", HelloCode: "echo bye"},
		{ID: "none", Name: "No hello", FileExt: ".sh", ExecCmd: "sh main.sh"},
		{ID: "bad", Name: "Bad shell", FileExt: ".sh", ExecCmd: "sh main.sh", HelloCode: "exit 3"},
	}
	return cfg
}

func TestExitForStatus(t *testing.T) {
	assert.NoError(t, exitForStatus(api.StatusCompleted, "pass"))
	assert.NoError(t, exitForStatus(api.StatusCompleted, "unknown"))

	var exitErr cli.ExitCoder
	require.ErrorAs(t, exitForStatus(api.StatusCompleted, "fail"), &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Error(t, exitForStatus(api.StatusTimedOut, "unknown"))
}

func TestHealthLocal(t *testing.T) {
	cfg := testConfig(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := buildExecutor(cfg, log)
	require.NoError(t, err)
	defer st.closeLogged()

	row := checkBackend(context.Background(), cfg, st.sandbox)
	assert.Equal(t, healthWarn, row.health)

	conn := checkConnections(context.Background(), st)
	assert.Equal(t, healthWarn, conn.health)

	rows := checkLanguages(context.Background(), st.executor)
	got := map[string]health{}
	for _, r := range rows {
		got[r.unit] = r.health
	}
	assert.Equal(t, map[string]health{
		"Bad shell":   healthError,
		"No hello":    healthWarn,
		"POSIX shell": healthOkay,
		"Quiet shell": healthWarn,
	}, got)
}

func TestHealthString(t *testing.T) {
	assert.Equal(t, "OKAY", healthOkay.String())
	assert.Equal(t, "WARN", healthWarn.String())
	assert.Equal(t, "ERROR", healthError.String())
}

func TestBuildExecutorJoinsCloseErrors(t *testing.T) {
	cfg := testConfig(t)
	// a regular file where the workspace root should be
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	cfg.Executor.WorkspaceRoot = filepath.Join(file, "ws")

	st, err := buildExecutor(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Nil(t, st)
}

func TestAbortReportsCloseFailures(t *testing.T) {
	closeErr := errors.New("docker daemon gone")
	var order []int
	s := &stack{closers: []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return closeErr },
	}}

	setupErr := errors.New("workspace root unusable")
	err := s.abort(setupErr)
	assert.ErrorIs(t, err, setupErr)
	assert.ErrorIs(t, err, closeErr)
	assert.Equal(t, []int{2, 1}, order)
}
