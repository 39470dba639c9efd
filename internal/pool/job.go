package pool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/programme-lv/runner/api"
	"github.com/programme-lv/runner/internal/executor"
	"github.com/programme-lv/runner/internal/sandbox"
	"github.com/programme-lv/runner/internal/verdict"
)

var ErrInvalidTransition = errors.New("invalid job status transition")

type Status string

const (
	Queued         Status = api.StatusQueued
	Running        Status = api.StatusRunning
	Completed      Status = api.StatusCompleted
	Failed         Status = api.StatusFailed
	TimedOut       Status = api.StatusTimedOut
	MemoryExceeded Status = api.StatusMemoryExceeded
	Cancelled      Status = api.StatusCancelled
)

var transitions = map[Status][]Status{
	Queued:  {Running, Cancelled},
	Running: {Completed, Failed, TimedOut, MemoryExceeded},
}

func (s Status) Terminal() bool {
	return s != Queued && s != Running
}

func (s Status) CanTransitionTo(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// Submission is immutable once enqueued.
type Submission struct {
	ID             string
	Code           string
	Language       string
	Stdin          string
	Limits         sandbox.Limits
	ExpectedOutput *string
}

// Job tracks a submission through the pool. Only the worker that dequeued
// it moves it past Queued.
type Job struct {
	sub Submission

	mu         sync.Mutex
	status     Status
	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time
	result     *executor.ExecutionResult
	verdict    verdict.Verdict
	message    *string

	cancelRun       context.CancelFunc
	cancelRequested bool

	done chan struct{}
}

func newJob(sub Submission) *Job {
	return &Job{
		sub:        sub,
		status:     Queued,
		enqueuedAt: time.Now(),
		verdict:    verdict.Unknown,
		done:       make(chan struct{}),
	}
}

func (j *Job) ID() string {
	return j.sub.ID
}

// Done is closed once the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// transition must be called with j.mu held.
func (j *Job) transition(to Status) error {
	if !j.status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, to)
	}
	j.status = to
	now := time.Now()
	switch {
	case to == Running:
		j.startedAt = now
	case to.Terminal():
		j.finishedAt = now
		close(j.done)
	}
	return nil
}

// Snapshot is a point-in-time copy of a job.
type Snapshot struct {
	api.Result
	Language   string     `json:"language"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}

func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		Result:     j.resultLocked(),
		Language:   j.sub.Language,
		EnqueuedAt: j.enqueuedAt,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	return s
}

func (j *Job) resultLocked() api.Result {
	res := api.Result{
		ID:         j.sub.ID,
		Status:     string(j.status),
		Verdict:    string(j.verdict),
		Message:    j.message,
		FinishedAt: j.finishedAt,
	}
	if r := j.result; r != nil {
		res.Output = r.Stdout
		res.Stderr = r.Stderr
		res.ExitCode = r.ExitCode
		res.WallMillis = r.WallTime.Milliseconds()
		res.MemoryKiBytes = r.PeakMemoryKiB
		res.OutputTruncated = r.StdoutTruncated
	}
	return res
}
