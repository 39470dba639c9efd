// Package isolate runs sandboxed processes in boxes of the isolate
// cgroup sandbox (https://github.com/ioi/isolate).
package isolate

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/programme-lv/runner/internal/sandbox"
)

// Isolate hands out box ids. Each execution gets its own box, so
// concurrent workers never share one.
type Isolate struct {
	binary   string
	idsInUse []int
	mutex    sync.Mutex
	log      *slog.Logger
}

func New(binary string, log *slog.Logger) *Isolate {
	if binary == "" {
		binary = "isolate"
	}
	return &Isolate{binary: binary, log: log.With("backend", "isolate")}
}

// Version runs `isolate --version`. Used by the health check.
func (i *Isolate) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, i.binary, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to run %s --version: %w: %s", i.binary, err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

func (i *Isolate) NewBox() (*Box, error) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	id := 0
	for slices.Contains(i.idsInUse, id) {
		id++
	}

	err := i.cleanupBox(id)
	if err != nil {
		return nil, err
	}

	path, err := i.initBox(id)
	if err != nil {
		return nil, err
	}

	i.idsInUse = append(i.idsInUse, id)

	return newIsolateBox(i, id, path), nil
}

func (i *Isolate) eraseBox(boxId int) error {
	err := i.cleanupBox(boxId)

	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.idsInUse = slices.DeleteFunc(i.idsInUse, func(id int) bool { return id == boxId })

	return err
}

func (i *Isolate) cleanupBox(boxId int) error {
	cmd := exec.Command(i.binary, "--cg", "--cleanup", "--box-id", strconv.Itoa(boxId))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to clean up box %d: %w: %s", boxId, err, out)
	}
	return nil
}

// initBox initializes a new box with the given id and returns the path to the box
func (i *Isolate) initBox(boxId int) (string, error) {
	cmd := exec.Command(i.binary, "--cg", "--init", "--box-id", strconv.Itoa(boxId))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to init box %d: %w: %s", boxId, err, out)
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}

// SpawnIsolated copies the workspace into a fresh box and starts the
// command there. Files the command leaves in the box are copied back to
// the workspace when the process is waited for.
func (i *Isolate) SpawnIsolated(ctx context.Context, spec sandbox.Spec) (sandbox.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	box, err := i.NewBox()
	if err != nil {
		return nil, err
	}

	if err := box.CopyIn(spec.Dir); err != nil {
		i.closeBox(box)
		return nil, err
	}

	constraints := ConstraintsFor(spec.Limits)
	proc, err := box.Run(spec, &constraints)
	if err != nil {
		i.closeBox(box)
		return nil, err
	}
	i.log.Debug("started box process", "box", box.Id(), "dir", spec.Dir)
	return proc, nil
}

func (i *Isolate) closeBox(box *Box) {
	if err := box.Close(); err != nil {
		i.log.Warn("failed to close box", "box", box.Id(), "error", err)
	}
}
