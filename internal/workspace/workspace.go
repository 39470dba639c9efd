// Package workspace manages the ephemeral directories executions run in.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const prefix = "ws-"

// Root is the directory all workspaces are created under.
type Root struct {
	dir string
}

func NewRoot(dir string) (*Root, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace root %s: %w", dir, err)
	}
	return &Root{dir: dir}, nil
}

func (r *Root) Dir() string {
	return r.dir
}

// Acquire creates a fresh private directory for one execution.
func (r *Root) Acquire(id string) (*Workspace, error) {
	path, err := os.MkdirTemp(r.dir, prefix+sanitize(id)+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{path: path}, nil
}

// Sweep removes workspaces left behind by a process that did not get to
// release them. It must run before any workspace is acquired.
func (r *Root) Sweep() (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read workspace root: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.dir, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove stale workspace %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
		if b.Len() >= 40 {
			break
		}
	}
	return b.String()
}

type Workspace struct {
	path     string
	released sync.Once
	err      error
}

func (w *Workspace) Path() string {
	return w.path
}

func (w *Workspace) WriteFile(name string, data []byte, perm os.FileMode) error {
	err := os.WriteFile(filepath.Join(w.path, name), data, perm)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (w *Workspace) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(w.path, name))
	return err == nil
}

// Protect drops write permission from a file.
func (w *Workspace) Protect(name string) error {
	p := filepath.Join(w.path, name)
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return os.Chmod(p, info.Mode().Perm()&^0o222)
}

// Release deletes the workspace. Calling it again is a no-op.
func (w *Workspace) Release() error {
	w.released.Do(func() {
		w.err = os.RemoveAll(w.path)
	})
	return w.err
}
