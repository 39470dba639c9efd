package sink

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/programme-lv/runner/api"
)

// Terminal prints a short summary of every result.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

func StatusColor(status string) *color.Color {
	switch status {
	case api.StatusCompleted:
		return color.New(color.FgGreen)
	case api.StatusTimedOut, api.StatusMemoryExceeded:
		return color.New(color.FgYellow)
	case api.StatusCancelled:
		return color.New(color.FgHiBlack)
	}
	return color.New(color.FgRed)
}

func (t *Terminal) Persist(ctx context.Context, res api.Result) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := StatusColor(res.Status).Sprint(strings.ToUpper(res.Status))
	_, err := fmt.Fprintf(t.out, "== %s %s verdict=%s exit=%d wall=%dms mem=%dKiB ==\n",
		res.ID, status, res.Verdict, res.ExitCode, res.WallMillis, res.MemoryKiBytes)
	if err != nil {
		return err
	}
	if res.Message != nil {
		fmt.Fprintf(t.out, "message: %s\n", *res.Message)
	}
	if res.Output != "" {
		fmt.Fprintf(t.out, "stdout:\n%s\n", strings.TrimRight(res.Output, "\n"))
	}
	if res.OutputTruncated {
		fmt.Fprintln(t.out, "(stdout truncated)")
	}
	if res.Stderr != "" {
		fmt.Fprintf(t.out, "stderr:\n%s\n", strings.TrimRight(res.Stderr, "\n"))
	}
	return nil
}
