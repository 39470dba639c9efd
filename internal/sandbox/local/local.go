// Package local runs sandboxed processes directly on the host as their own
// process group, optionally inside fresh Linux namespaces.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/programme-lv/runner/internal/sandbox"
)

// Isolation selects the host isolation applied to spawned processes.
type Isolation struct {
	// Namespaces unshares net, pid, mount, ipc and uts namespaces. A user
	// namespace is added when running unprivileged. Without it the process
	// shares the host network.
	Namespaces bool
}

type Sandbox struct {
	isolation Isolation
	shell     string
	log       *slog.Logger
}

func New(isolation Isolation, log *slog.Logger) *Sandbox {
	return &Sandbox{
		isolation: isolation,
		shell:     "/bin/sh",
		log:       log.With("backend", "local"),
	}
}

func (s *Sandbox) SpawnIsolated(ctx context.Context, spec sandbox.Spec) (sandbox.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(s.shell, "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + spec.Dir,
		"LANG=C.UTF-8",
	}
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = sysProcAttr(s.isolation)
	// grandchildren that keep the pipes open must not block Wait forever
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %q: %w", spec.Command, err)
	}
	s.log.Debug("spawned process", "pid", cmd.Process.Pid, "dir", spec.Dir)

	return &process{cmd: cmd, pgid: cmd.Process.Pid}, nil
}

type process struct {
	cmd  *exec.Cmd
	pgid int

	termOnce sync.Once
	termErr  error
}

func (p *process) Wait() (*sandbox.ExitStatus, error) {
	err := p.cmd.Wait()
	// reap whatever the group leader left behind
	_ = killGroup(p.pgid)

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
			return nil, fmt.Errorf("failed to wait for process: %w", err)
		}
	}

	state := p.cmd.ProcessState
	if state == nil {
		return nil, fmt.Errorf("process state missing after wait")
	}

	status := &sandbox.ExitStatus{
		ExitCode: state.ExitCode(),
		CpuTime:  state.UserTime() + state.SystemTime(),
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := int(ws.Signal())
		status.Signal = &sig
	}
	status.PeakMemKiB = maxRssKiB(state)
	return status, nil
}

func (p *process) Terminate() error {
	p.termOnce.Do(func() {
		p.termErr = killGroup(p.pgid)
	})
	return p.termErr
}

func (p *process) MemoryUsage() (int64, error) {
	return groupRssKiB(p.pgid)
}

func killGroup(pgid int) error {
	err := syscall.Kill(-pgid, syscall.SIGKILL)
	if err == nil || errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return fmt.Errorf("failed to kill process group %d: %w", pgid, err)
}
