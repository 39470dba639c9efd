package behave

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/programme-lv/runner/internal/executor"
	"github.com/programme-lv/runner/internal/limiter"
	"github.com/programme-lv/runner/internal/pool"
	"github.com/programme-lv/runner/internal/sandbox/local"
	"github.com/programme-lv/runner/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	suite, err := Parse(filepath.Join("testdata", "sh.toml"))
	require.NoError(t, err)
	require.Len(t, suite.Cases, 6)
	require.Len(t, suite.Languages, 1)

	c := suite.Cases[0]
	assert.Equal(t, "sum of two numbers", c.Name)
	assert.Equal(t, "sh", c.Submission.Language)
	assert.Equal(t, "1 2\n", c.Submission.Stdin)
	assert.Equal(t, 2*time.Second, c.Submission.Limits.Time)
	assert.Equal(t, int64(256*1024), c.Submission.Limits.MemoryKiB)
	require.NotNil(t, c.Submission.ExpectedOutput)
	assert.Equal(t, "3", *c.Submission.ExpectedOutput)
	assert.Equal(t, SpecExpect{Status: "completed", Verdict: "pass"}, c.Expect)

	assert.Nil(t, suite.Cases[2].Submission.ExpectedOutput)
	assert.NotEqual(t, suite.Cases[0].Submission.ID, suite.Cases[1].Submission.ID)
}

func TestRunScenarios(t *testing.T) {
	suite, err := Parse(filepath.Join("testdata", "sh.toml"))
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	root, err := workspace.NewRoot(t.TempDir())
	require.NoError(t, err)
	languages := append([]executor.Language{{ID: "sh", Name: "POSIX shell", FileExt: ".sh", ExecCmd: "sh main.sh"}}, suite.Languages...)
	exec := executor.New(local.New(local.Isolation{}, log), limiter.New(limiter.DefaultConfig(), log), root, languages, executor.DefaultConfig(), log)
	p := pool.New(pool.Config{Workers: 2, QueueSize: 2}, exec, nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	poolCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(poolCtx)
	}()
	defer func() {
		stop()
		<-done
	}()

	outcomes := Run(ctx, p, suite.Cases)
	for _, o := range outcomes {
		assert.True(t, o.Passed(), "%s: got %s/%s err=%v", o.Case.Name, o.Snapshot.Status, o.Snapshot.Verdict, o.Err)
	}

	var buf bytes.Buffer
	passed := Report(&buf, outcomes)
	assert.Equal(t, len(outcomes), passed)
	assert.Contains(t, buf.String(), "score: 6/6")
	assert.Contains(t, buf.String(), "sum of two numbers")
}
