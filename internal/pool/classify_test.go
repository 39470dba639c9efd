package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/programme-lv/runner/internal/executor"
	"github.com/programme-lv/runner/internal/sandbox"
	"github.com/programme-lv/runner/internal/verdict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	expected := "hello"
	withExpected := Submission{ExpectedOutput: &expected, Limits: sandbox.Limits{Time: time.Second, MemoryKiB: 1024}}
	withoutExpected := Submission{Limits: sandbox.Limits{Time: time.Second, MemoryKiB: 1024}}
	sig := 11

	tests := []struct {
		name        string
		sub         Submission
		res         *executor.ExecutionResult
		err         error
		wantStatus  Status
		wantVerdict verdict.Verdict
		wantMessage string
	}{
		{
			name:        "correct output",
			sub:         withExpected,
			res:         &executor.ExecutionResult{Stdout: "hello\n", Reason: sandbox.Exited},
			wantStatus:  Completed,
			wantVerdict: verdict.Pass,
		},
		{
			name:        "wrong output",
			sub:         withExpected,
			res:         &executor.ExecutionResult{Stdout: "Hello\n", Reason: sandbox.Exited},
			wantStatus:  Completed,
			wantVerdict: verdict.Fail,
			wantMessage: `line 1 is not correct: expected "hello" but got "Hello"`,
		},
		{
			name:        "no expected output",
			sub:         withoutExpected,
			res:         &executor.ExecutionResult{Stdout: "x", Reason: sandbox.Exited},
			wantStatus:  Completed,
			wantVerdict: verdict.Unknown,
		},
		{
			name:        "non-zero exit",
			sub:         withExpected,
			res:         &executor.ExecutionResult{Stdout: "hello", ExitCode: 1, Reason: sandbox.Exited},
			wantStatus:  Failed,
			wantVerdict: verdict.Error,
			wantMessage: "exited with code 1",
		},
		{
			name:        "signal",
			sub:         withExpected,
			res:         &executor.ExecutionResult{ExitCode: -1, Signal: &sig, Reason: sandbox.KilledSignal},
			wantStatus:  Failed,
			wantVerdict: verdict.Error,
			wantMessage: "terminated by signal 11",
		},
		{
			name:        "time limit",
			sub:         withExpected,
			res:         &executor.ExecutionResult{Reason: sandbox.KilledTime},
			wantStatus:  TimedOut,
			wantVerdict: verdict.Fail,
			wantMessage: "time limit of 1s exceeded",
		},
		{
			name:        "memory limit without expected output",
			sub:         withoutExpected,
			res:         &executor.ExecutionResult{Reason: sandbox.KilledMemory},
			wantStatus:  MemoryExceeded,
			wantVerdict: verdict.Unknown,
			wantMessage: "memory limit of 1024 KiB exceeded",
		},
		{
			name:        "compile error",
			sub:         withExpected,
			err:         &executor.SetupError{Stage: "compile", Msg: "main.cpp:1: error"},
			wantStatus:  Failed,
			wantVerdict: verdict.Error,
			wantMessage: "compile error: main.cpp:1: error",
		},
		{
			name:        "spawn failure",
			sub:         withExpected,
			err:         errors.New("fork: resource temporarily unavailable"),
			wantStatus:  Failed,
			wantVerdict: verdict.Error,
			wantMessage: "internal error: fork: resource temporarily unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := classify(tt.sub, tt.res, tt.err)
			assert.Equal(t, tt.wantStatus, o.status)
			assert.Equal(t, tt.wantVerdict, o.verdict)
			if tt.wantMessage == "" {
				assert.Nil(t, o.message)
			} else {
				require.NotNil(t, o.message)
				assert.Equal(t, tt.wantMessage, *o.message)
			}
		})
	}
}

func TestTransitions(t *testing.T) {
	assert.True(t, Queued.CanTransitionTo(Running))
	assert.True(t, Queued.CanTransitionTo(Cancelled))
	assert.False(t, Queued.CanTransitionTo(Completed))
	assert.True(t, Running.CanTransitionTo(TimedOut))
	assert.False(t, Running.CanTransitionTo(Cancelled))
	assert.False(t, Running.CanTransitionTo(Queued))

	for _, terminal := range []Status{Completed, Failed, TimedOut, MemoryExceeded, Cancelled} {
		assert.True(t, terminal.Terminal())
		for _, to := range []Status{Queued, Running, Completed, Failed, TimedOut, MemoryExceeded, Cancelled} {
			assert.False(t, terminal.CanTransitionTo(to), "%s -> %s", terminal, to)
		}
	}
}

func TestJobTransitionClosesDone(t *testing.T) {
	j := newJob(Submission{ID: "1"})
	j.mu.Lock()
	require.NoError(t, j.transition(Running))
	require.NoError(t, j.transition(Completed))
	err := j.transition(Failed)
	j.mu.Unlock()

	assert.ErrorIs(t, err, ErrInvalidTransition)
	select {
	case <-j.Done():
	default:
		t.Fatal("done channel not closed")
	}
	assert.Equal(t, string(Completed), j.Snapshot().Status)
}
