// Package limiter enforces wall-clock and memory ceilings on a sandboxed
// process. All state lives in a single Run call, so one Limiter can watch
// any number of processes at once.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/programme-lv/runner/internal/sandbox"
)

type Config struct {
	PollInterval time.Duration
	// TimeTolerance is how far past the time limit a process that exited
	// on its own may have run and still count as within it. The kill timer
	// itself fires at the limit.
	TimeTolerance time.Duration
	// MemoryTolerancePct is the share (0.01 = 1%) by which peak memory
	// may exceed the limit.
	MemoryTolerancePct float64
}

func DefaultConfig() Config {
	return Config{
		PollInterval:       10 * time.Millisecond,
		TimeTolerance:      50 * time.Millisecond,
		MemoryTolerancePct: 0.01,
	}
}

type Limiter struct {
	conf Config
	log  *slog.Logger
}

func New(conf Config, log *slog.Logger) *Limiter {
	if conf.PollInterval <= 0 {
		conf.PollInterval = DefaultConfig().PollInterval
	}
	return &Limiter{conf: conf, log: log}
}

// Outcome of one watched process.
type Outcome struct {
	Reason        sandbox.TerminationReason
	Exit          *sandbox.ExitStatus
	WallTime      time.Duration
	PeakMemoryKiB int64
}

type waitResult struct {
	status *sandbox.ExitStatus
	err    error
}

// Run watches proc until it exits. The process is terminated when it runs
// out of time, out of memory, or when ctx is cancelled. Run always waits for
// the process, so on return nothing of it is left running.
func (l *Limiter) Run(ctx context.Context, proc sandbox.Process, limits sandbox.Limits) (*Outcome, error) {
	start := time.Now()

	waitCh := make(chan waitResult, 1)
	go func() {
		status, err := proc.Wait()
		waitCh <- waitResult{status: status, err: err}
	}()

	var timeout <-chan time.Time
	if limits.Time > 0 {
		timer := time.NewTimer(limits.Time)
		defer timer.Stop()
		timeout = timer.C
	}

	ticker := time.NewTicker(l.conf.PollInterval)
	defer ticker.Stop()
	poll := ticker.C
	if limits.MemoryKiB <= 0 {
		poll = nil
	}

	var (
		killReason sandbox.TerminationReason
		peak       int64
		res        waitResult
		wallTime   time.Duration
	)

	kill := func(reason sandbox.TerminationReason) {
		if killReason != "" {
			return
		}
		killReason = reason
		if err := proc.Terminate(); err != nil {
			l.log.Warn("failed to terminate process", "reason", reason, "error", err)
		}
	}

	done := ctx.Done()
loop:
	for {
		select {
		case res = <-waitCh:
			wallTime = time.Since(start)
			break loop
		case <-timeout:
			timeout = nil
			kill(sandbox.KilledTime)
		case <-done:
			done = nil
			kill(sandbox.KilledSignal)
		case <-poll:
			usage, err := proc.MemoryUsage()
			if err != nil {
				if errors.Is(err, sandbox.ErrUsageUnavailable) {
					// the backend enforces memory natively
					poll = nil
				}
				continue
			}
			peak = max(peak, usage)
			if l.overMemory(peak, limits) {
				poll = nil
				kill(sandbox.KilledMemory)
			}
		}
	}

	if res.err != nil {
		return nil, fmt.Errorf("failed to wait for process: %w", res.err)
	}
	if res.status == nil {
		return nil, errors.New("process reported no exit status")
	}

	out := &Outcome{
		Exit:          res.status,
		WallTime:      wallTime,
		PeakMemoryKiB: max(peak, res.status.PeakMemKiB),
	}
	out.Reason = l.classify(killReason, out, limits)
	return out, nil
}

func (l *Limiter) classify(killReason sandbox.TerminationReason, out *Outcome, limits sandbox.Limits) sandbox.TerminationReason {
	switch {
	case killReason != "":
		return killReason
	case out.Exit.Reason != "":
		return out.Exit.Reason
	case limits.Time > 0 && out.WallTime > limits.Time+l.conf.TimeTolerance:
		return sandbox.KilledTime
	case l.overMemory(out.PeakMemoryKiB, limits):
		return sandbox.KilledMemory
	case out.Exit.Signal != nil:
		return sandbox.KilledSignal
	}
	return sandbox.Exited
}

func (l *Limiter) overMemory(usedKiB int64, limits sandbox.Limits) bool {
	if limits.MemoryKiB <= 0 {
		return false
	}
	return float64(usedKiB) > float64(limits.MemoryKiB)*(1+l.conf.MemoryTolerancePct)
}
