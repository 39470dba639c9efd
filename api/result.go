package api

import "time"

// Job statuses as persisted in the storage API's status column.
const (
	StatusQueued         = "queued"
	StatusRunning        = "running"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusTimedOut       = "timed_out"
	StatusMemoryExceeded = "memory_exceeded"
	StatusCancelled      = "cancelled"
)

// Result is the final state of a submission handed to result sinks.
// Output holds stdout and maps onto the storage API's output column.
type Result struct {
	ID      string `json:"id" db:"id"`
	Output  string `json:"output" db:"output"`
	Verdict string `json:"verdict" db:"verdict"`
	Status  string `json:"status" db:"status"`

	Stderr   string `json:"stderr" db:"stderr"`
	ExitCode int    `json:"exit_code" db:"exit_code"`

	WallMillis    int64 `json:"wall_ms" db:"wall_ms"`
	MemoryKiBytes int64 `json:"mem_kib" db:"mem_kib"`

	OutputTruncated bool    `json:"output_truncated" db:"output_truncated"`
	Message         *string `json:"message,omitempty" db:"message"`

	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
}

// Size constraints applied to output sent over message brokers.
const (
	MaxResultOutputHeight = 200
	MaxResultOutputWidth  = 200
)

// TrimForMessage returns a copy of r whose stdout and stderr fit into
// the message size constraints.
func (r Result) TrimForMessage() Result {
	r.Output = TrimStrToRect(r.Output, MaxResultOutputHeight, MaxResultOutputWidth)
	r.Stderr = TrimStrToRect(r.Stderr, MaxResultOutputHeight, MaxResultOutputWidth)
	return r
}
