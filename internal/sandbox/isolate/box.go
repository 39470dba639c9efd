package isolate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/programme-lv/runner/internal/sandbox"
)

type Box struct {
	id      int
	path    string
	isolate *Isolate
}

func newIsolateBox(isolate *Isolate, id int, path string) *Box {
	return &Box{
		id:      id,
		path:    path,
		isolate: isolate,
	}
}

func (box *Box) Id() int {
	return box.id
}

func (box *Box) Path() string {
	return box.path
}

func (box *Box) Close() error {
	return box.isolate.eraseBox(box.id)
}

func (box *Box) dataDir() string {
	return filepath.Join(box.path, "box")
}

// CopyIn copies the regular files of dir into the box, keeping their modes.
func (box *Box) CopyIn(dir string) error {
	return copyFiles(dir, box.dataDir())
}

// CopyOut copies the regular files of the box back into dir.
func (box *Box) CopyOut(dir string) error {
	return copyFiles(box.dataDir(), dir)
}

func (box *Box) Run(spec sandbox.Spec, constraints *Constraints) (*Process, error) {
	if constraints == nil {
		c := DefaultConstraints()
		constraints = &c
	}

	metaFilePath, err := newTempIsolateFilePath()
	if err != nil {
		return nil, err
	}

	args := []string{
		"--cg",
		"--box-id", fmt.Sprint(box.id),
		"--env=HOME=/box",
		"--env=PATH=/usr/local/bin:/usr/bin:/bin",
		"--meta=" + metaFilePath,
	}
	args = append(args, constraints.args()...)
	args = append(args, "--run", "--", "/bin/sh", "-c", spec.Command)

	cmd := exec.Command(box.isolate.binary, args...)
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err = cmd.Start(); err != nil {
		_ = os.Remove(metaFilePath)
		return nil, fmt.Errorf("failed to start isolate: %w", err)
	}

	return &Process{
		cmd:          cmd,
		box:          box,
		workspace:    spec.Dir,
		metaFilePath: metaFilePath,
	}, nil
}

func newTempIsolateFilePath() (string, error) {
	file, err := os.CreateTemp("", "isolate.*.txt")
	if err != nil {
		return "", err
	}
	err = file.Close()
	if err != nil {
		return "", err
	}
	return file.Name(), nil
}

// Process is an isolate --run invocation. The box is released when the
// process has been waited for.
type Process struct {
	cmd          *exec.Cmd
	box          *Box
	workspace    string
	metaFilePath string

	termOnce sync.Once
}

func (process *Process) Wait() (*sandbox.ExitStatus, error) {
	defer process.box.isolate.closeBox(process.box)
	defer os.Remove(process.metaFilePath)

	err := process.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to wait for isolate: %w", err)
		}
	}

	metaFileBytes, err := os.ReadFile(process.metaFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read meta file: %w", err)
	}

	metrics, err := parseMetaFile(metaFileBytes)
	if err != nil {
		return nil, err
	}
	if metrics.Status == StatusInternalError {
		return nil, fmt.Errorf("isolate internal error: %s", metrics.Message)
	}

	if err := process.box.CopyOut(process.workspace); err != nil {
		return nil, err
	}

	return metrics.exitStatus(), nil
}

// Terminate kills the isolate keeper. The box cgroup, and everything still
// running in it, is torn down by the cleanup that follows Wait.
func (process *Process) Terminate() error {
	var err error
	process.termOnce.Do(func() {
		err = syscall.Kill(-process.cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			err = nil
		}
	})
	return err
}

// MemoryUsage is not observable from outside the box; isolate enforces the
// memory limit through its cgroup and reports the peak in the meta file.
func (process *Process) MemoryUsage() (int64, error) {
	return 0, sandbox.ErrUsageUnavailable
}

func copyFiles(srcDir, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", srcDir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if err := copyFile(filepath.Join(srcDir, e.Name()), filepath.Join(dstDir, e.Name()), info.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	// read-only artifacts must be replaceable on copy-back
	_ = os.Remove(dst)
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
