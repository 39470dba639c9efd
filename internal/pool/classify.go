package pool

import (
	"errors"
	"fmt"

	"github.com/programme-lv/runner/internal/executor"
	"github.com/programme-lv/runner/internal/sandbox"
	"github.com/programme-lv/runner/internal/verdict"
)

type outcome struct {
	status  Status
	verdict verdict.Verdict
	message *string
}

func msg(format string, args ...any) *string {
	s := fmt.Sprintf(format, args...)
	return &s
}

// classify maps an execution attempt onto the terminal job status.
func classify(sub Submission, res *executor.ExecutionResult, err error) outcome {
	if err != nil {
		var setupErr *executor.SetupError
		if errors.As(err, &setupErr) {
			return outcome{status: Failed, verdict: verdict.Error, message: msg("%s error: %s", setupErr.Stage, setupErr.Msg)}
		}
		return outcome{status: Failed, verdict: verdict.Error, message: msg("internal error: %v", err)}
	}

	exceeded := verdict.Unknown
	if sub.ExpectedOutput != nil {
		exceeded = verdict.Fail
	}

	switch res.Reason {
	case sandbox.KilledTime:
		return outcome{status: TimedOut, verdict: exceeded, message: msg("time limit of %v exceeded", sub.Limits.Time)}
	case sandbox.KilledMemory:
		return outcome{status: MemoryExceeded, verdict: exceeded, message: msg("memory limit of %d KiB exceeded", sub.Limits.MemoryKiB)}
	case sandbox.KilledSignal:
		if res.Signal != nil {
			return outcome{status: Failed, verdict: verdict.Error, message: msg("terminated by signal %d", *res.Signal)}
		}
		return outcome{status: Failed, verdict: verdict.Error, message: msg("terminated")}
	}

	if res.ExitCode != 0 {
		return outcome{status: Failed, verdict: verdict.Error, message: msg("exited with code %d", res.ExitCode)}
	}

	v := verdict.Compare(res.Stdout, sub.ExpectedOutput)
	o := outcome{status: Completed, verdict: v}
	if v == verdict.Fail {
		o.message = msg("%s", verdict.Explain(res.Stdout, sub.ExpectedOutput))
	}
	return o
}
