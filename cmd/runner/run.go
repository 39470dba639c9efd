package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/programme-lv/runner/api"
	"github.com/programme-lv/runner/internal/pool"
	"github.com/programme-lv/runner/internal/sandbox"
	"github.com/programme-lv/runner/internal/sink"
	"github.com/programme-lv/runner/internal/verdict"
	"github.com/urfave/cli/v3"
)

// startPool runs p in the background. The returned function stops the
// workers and waits for them.
func startPool(ctx context.Context, p *pool.Pool) func() error {
	ctx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() {
		errc <- p.Run(ctx)
	}()
	return func() error {
		cancel()
		return <-errc
	}
}

func readOptional(path string) (*string, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "execute a single source file and print the result",
		ArgsUsage: "<source file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "lang",
				Aliases: []string{"l"},
				Usage:   "language id, guessed from the file extension when empty",
			},
			&cli.DurationFlag{
				Name:  "time",
				Usage: "time limit",
				Value: time.Second,
			},
			&cli.Int64Flag{
				Name:  "mem",
				Usage: "memory limit in KiB",
				Value: 256 * 1024,
			},
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "file fed to stdin",
			},
			&cli.StringFlag{
				Name:    "expected",
				Aliases: []string{"e"},
				Usage:   "file with the expected output",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("expected exactly one source file, got %d", cmd.NArg())
			}
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}

			srcPath := cmd.Args().First()
			code, err := os.ReadFile(srcPath)
			if err != nil {
				return err
			}
			stdin, err := readOptional(cmd.String("input"))
			if err != nil {
				return err
			}
			expected, err := readOptional(cmd.String("expected"))
			if err != nil {
				return err
			}

			lang := cmd.String("lang")
			if lang == "" {
				byExt := make(map[string]string, len(cfg.Languages))
				for _, l := range cfg.Languages {
					if _, ok := byExt[l.FileExt]; !ok {
						byExt[l.FileExt] = l.ID
					}
				}
				lang = byExt[strings.ToLower(filepath.Ext(srcPath))]
				if lang == "" {
					return fmt.Errorf("cannot guess language of %s, use --lang", srcPath)
				}
			}

			st, err := buildExecutor(cfg, log)
			if err != nil {
				return err
			}
			defer st.closeLogged()

			sinks := sink.NewMulti()
			sinks.Add("terminal", sink.NewTerminal(os.Stdout))

			conf := cfg.PoolConfig()
			conf.Workers = 1
			p := pool.New(conf, st.executor, sinks, log)
			stop := startPool(ctx, p)

			sub := pool.Submission{
				ID:             uuid.NewString(),
				Code:           string(code),
				Language:       lang,
				Limits:         sandbox.Limits{Time: cmd.Duration("time"), MemoryKiB: cmd.Int64("mem")},
				ExpectedOutput: expected,
			}
			if stdin != nil {
				sub.Stdin = *stdin
			}
			if _, err := p.Submit(sub); err != nil {
				stop()
				return err
			}
			snap, err := p.Await(ctx, sub.ID)
			if err := stop(); err != nil {
				return err
			}
			if err != nil {
				return err
			}
			return exitForStatus(snap.Status, snap.Verdict)
		},
	}
}

// exitForStatus turns anything other than a completed, non-failing run
// into a non-zero exit code.
func exitForStatus(status, v string) error {
	if status == api.StatusCompleted && v != string(verdict.Fail) {
		return nil
	}
	return cli.Exit("", 1)
}
