// Package executor runs one submission in a fresh workspace: it writes the
// source, compiles it when the language needs it and runs it in the
// sandbox under the resource limiter.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/programme-lv/runner/internal/limiter"
	"github.com/programme-lv/runner/internal/sandbox"
	"github.com/programme-lv/runner/internal/workspace"
)

type Config struct {
	// OutputLimitBytes caps captured stdout and stderr, each.
	OutputLimitBytes int64
	CompileLimits    sandbox.Limits
}

func DefaultConfig() Config {
	return Config{
		OutputLimitBytes: 1 << 20,
		CompileLimits: sandbox.Limits{
			Time:      10 * time.Second,
			MemoryKiB: 512 * 1024,
		},
	}
}

type Request struct {
	ID       string
	Code     string
	Language string
	Stdin    string
	Limits   sandbox.Limits
}

type ExecutionResult struct {
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool

	ExitCode int
	Signal   *int

	WallTime      time.Duration
	CpuTime       time.Duration
	PeakMemoryKiB int64
	Reason        sandbox.TerminationReason
}

type Executor struct {
	sandbox   sandbox.Sandbox
	limiter   *limiter.Limiter
	root      *workspace.Root
	languages map[string]Language
	conf      Config
	log       *slog.Logger
}

func New(
	sb sandbox.Sandbox,
	lim *limiter.Limiter,
	root *workspace.Root,
	languages []Language,
	conf Config,
	log *slog.Logger,
) *Executor {
	if conf.OutputLimitBytes <= 0 {
		conf.OutputLimitBytes = DefaultConfig().OutputLimitBytes
	}
	langs := make(map[string]Language, len(languages))
	for _, l := range languages {
		langs[l.ID] = l
	}
	return &Executor{
		sandbox:   sb,
		limiter:   lim,
		root:      root,
		languages: langs,
		conf:      conf,
		log:       log,
	}
}

func (e *Executor) Supports(language string) bool {
	_, ok := e.languages[language]
	return ok
}

// Languages returns the configured languages ordered by id.
func (e *Executor) Languages() []Language {
	res := make([]Language, 0, len(e.languages))
	for _, l := range e.languages {
		res = append(res, l)
	}
	slices.SortFunc(res, func(a, b Language) int { return strings.Compare(a.ID, b.ID) })
	return res
}

// Execute builds and runs req. A *SetupError is returned when the program
// never got to run. Exceeding a limit is not an error: it is reported in
// ExecutionResult.Reason.
func (e *Executor) Execute(ctx context.Context, req Request) (*ExecutionResult, error) {
	lang, ok := e.languages[req.Language]
	if !ok {
		return nil, &SetupError{
			Stage: "language",
			Msg:   fmt.Sprintf("language %q is not supported", req.Language),
			Err:   ErrUnknownLanguage,
		}
	}

	log := e.log.With("job_id", req.ID, "language", lang.ID)

	ws, err := e.root.Acquire(req.ID)
	if err != nil {
		return nil, &SetupError{Stage: "workspace", Msg: "failed to create workspace", Err: err}
	}
	defer func() {
		if err := ws.Release(); err != nil {
			log.Warn("failed to release workspace", "path", ws.Path(), "error", err)
		}
	}()

	err = ws.WriteFile(lang.SourceFname(), []byte(req.Code), 0o644)
	if err != nil {
		return nil, &SetupError{Stage: "workspace", Msg: "failed to write source code", Err: err}
	}

	artifact := lang.SourceFname()
	if lang.CompileCmd != nil {
		log.Debug("compiling")
		err = e.compile(ctx, ws, lang)
		if err != nil {
			return nil, err
		}
		if lang.CompiledFname != nil {
			artifact = *lang.CompiledFname
		}
	}

	if err := ws.Protect(artifact); err != nil {
		return nil, &SetupError{Stage: "workspace", Msg: "failed to protect executable", Err: err}
	}

	stdout := newBoundedBuffer(e.conf.OutputLimitBytes)
	stderr := newBoundedBuffer(e.conf.OutputLimitBytes)

	log.Debug("running", "time_limit", req.Limits.Time, "memory_limit_kib", req.Limits.MemoryKiB)
	out, err := e.run(ctx, sandbox.Spec{
		Dir:      ws.Path(),
		Command:  lang.ExecCmd,
		ReadOnly: true,
		Stdin:    strings.NewReader(req.Stdin),
		Stdout:   stdout,
		Stderr:   stderr,
		Limits:   req.Limits,
	})
	if err != nil {
		return nil, err
	}

	log.Debug("finished", "reason", out.Reason, "exit_code", out.Exit.ExitCode,
		"wall_time", out.WallTime, "peak_memory_kib", out.PeakMemoryKiB)

	return &ExecutionResult{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		ExitCode:        out.Exit.ExitCode,
		Signal:          out.Exit.Signal,
		WallTime:        out.WallTime,
		CpuTime:         out.Exit.CpuTime,
		PeakMemoryKiB:   out.PeakMemoryKiB,
		Reason:          out.Reason,
	}, nil
}

func (e *Executor) compile(ctx context.Context, ws *workspace.Workspace, lang Language) error {
	output := newBoundedBuffer(e.conf.OutputLimitBytes)
	out, err := e.run(ctx, sandbox.Spec{
		Dir:     ws.Path(),
		Command: *lang.CompileCmd,
		Stdout:  output,
		Stderr:  output,
		Limits:  e.conf.CompileLimits,
	})
	if err != nil {
		return &SetupError{Stage: "compile", Msg: "failed to run compiler", Err: err}
	}

	switch {
	case out.Reason == sandbox.KilledTime:
		return &SetupError{Stage: "compile", Msg: "compilation time limit exceeded"}
	case out.Reason == sandbox.KilledMemory:
		return &SetupError{Stage: "compile", Msg: "compilation memory limit exceeded"}
	case out.Reason != sandbox.Exited || out.Exit.ExitCode != 0:
		msg := strings.TrimSpace(output.String())
		if msg == "" {
			msg = fmt.Sprintf("compiler exited with code %d", out.Exit.ExitCode)
		}
		return &SetupError{Stage: "compile", Msg: msg}
	}

	if lang.CompiledFname != nil && !ws.Exists(*lang.CompiledFname) {
		return &SetupError{Stage: "compile", Msg: fmt.Sprintf("compiler did not produce %s", *lang.CompiledFname)}
	}
	return nil
}

func (e *Executor) run(ctx context.Context, spec sandbox.Spec) (*limiter.Outcome, error) {
	proc, err := e.sandbox.SpawnIsolated(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn process: %w", err)
	}
	return e.limiter.Run(ctx, proc, spec.Limits)
}
