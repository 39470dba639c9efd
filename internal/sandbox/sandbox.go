// Package sandbox defines the isolation capability used by the executor.
// Backends (local process group, isolate, docker) live in subpackages.
package sandbox

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrUsageUnavailable is returned by Process.MemoryUsage when the backend
// cannot observe memory of a live process.
var ErrUsageUnavailable = errors.New("memory usage unavailable")

// TerminationReason tells why a sandboxed process stopped.
type TerminationReason string

const (
	Exited       TerminationReason = "exited"
	KilledTime   TerminationReason = "killed_time"
	KilledMemory TerminationReason = "killed_memory"
	KilledSignal TerminationReason = "killed_signal"
)

// Limits are the resource ceilings of a single execution. Zero means unlimited.
type Limits struct {
	Time      time.Duration
	MemoryKiB int64
}

// Spec describes a process to spawn.
type Spec struct {
	// Dir is the workspace directory. It is the only host path the process may see.
	Dir string
	// Command is run by /bin/sh inside Dir.
	Command string
	// ReadOnly asks for Dir to be exposed without write access. Backends
	// that mount the workspace (docker) honour it; the others rely on the
	// file modes the executor sets.
	ReadOnly bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Limits lets backends with native enforcement apply the same ceilings
	// the limiter watches.
	Limits Limits
}

// ExitStatus is reported by Process.Wait.
type ExitStatus struct {
	// ExitCode is -1 when the process was ended by a signal.
	ExitCode int
	Signal   *int

	CpuTime    time.Duration
	PeakMemKiB int64

	// Reason is set by backends that enforce limits natively and know
	// that they killed the process. Empty otherwise.
	Reason  TerminationReason
	Message string
}

// Sandbox spawns isolated processes.
type Sandbox interface {
	SpawnIsolated(ctx context.Context, spec Spec) (Process, error)
}

// Process is a running sandboxed process.
type Process interface {
	// Wait blocks until the process exits and its output is flushed.
	// It must be called exactly once.
	Wait() (*ExitStatus, error)
	// Terminate forcibly stops the process. Calling it on an exited
	// process is a no-op.
	Terminate() error
	// MemoryUsage returns the current resident memory in KiB.
	MemoryUsage() (int64, error)
}
