package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/programme-lv/runner/internal/config"
	"github.com/programme-lv/runner/internal/executor"
	"github.com/programme-lv/runner/internal/sandbox"
	"github.com/programme-lv/runner/internal/sandbox/docker"
	"github.com/programme-lv/runner/internal/sandbox/isolate"
	"github.com/urfave/cli/v3"
)

type health int

const (
	healthOkay health = iota
	healthWarn
	healthError
)

func (h health) String() string {
	switch h {
	case healthOkay:
		return "OKAY"
	case healthWarn:
		return "WARN"
	}
	return "ERROR"
}

type feedbackRow struct {
	unit    string
	health  health
	message string
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "check the sandbox backend, connections and every configured language",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}

			var feedback []feedbackRow
			st, err := buildExecutor(cfg, log)
			if err != nil {
				feedback = append(feedback, feedbackRow{"Sandbox", healthError, err.Error()})
				outputFeedback(feedback)
				return cli.Exit("", 1)
			}
			defer st.closeLogged()

			backendRow := checkBackend(ctx, cfg, st.sandbox)
			feedback = append(feedback, backendRow)
			feedback = append(feedback, checkConnections(ctx, st))
			if backendRow.health != healthError {
				feedback = append(feedback, checkLanguages(ctx, st.executor)...)
			}

			outputFeedback(feedback)
			for _, row := range feedback {
				if row.health == healthError {
					return cli.Exit("", 1)
				}
			}
			return nil
		},
	}
}

func checkBackend(ctx context.Context, cfg *config.Config, sb sandbox.Sandbox) feedbackRow {
	unit := "Sandbox (" + cfg.Sandbox.Backend + ")"
	switch s := sb.(type) {
	case *isolate.Isolate:
		version, err := s.Version(ctx)
		if err != nil {
			return feedbackRow{unit, healthError, err.Error()}
		}
		return feedbackRow{unit, healthOkay, version}
	case *docker.Sandbox:
		version, err := s.Ping(ctx)
		if err != nil {
			return feedbackRow{unit, healthError, err.Error()}
		}
		if err := s.PullImage(ctx); err != nil {
			return feedbackRow{unit, healthWarn, "docker " + version + ": " + err.Error()}
		}
		return feedbackRow{unit, healthOkay, "docker " + version + ", image " + cfg.Sandbox.DockerImage}
	}
	if !cfg.Sandbox.Namespaces {
		return feedbackRow{unit, healthWarn, "namespaces disabled, submissions share the host network"}
	}
	return feedbackRow{unit, healthOkay, "process groups in fresh namespaces"}
}

func checkConnections(ctx context.Context, st *stack) feedbackRow {
	if err := st.connect(ctx); err != nil {
		return feedbackRow{"Connections", healthError, err.Error()}
	}
	var up []string
	if st.nats != nil {
		up = append(up, "nats")
	}
	if st.redis != nil {
		up = append(up, "redis")
	}
	if st.sqs != nil {
		up = append(up, "sqs")
	}
	if st.db != nil {
		up = append(up, "postgres")
	}
	if len(up) == 0 {
		return feedbackRow{"Connections", healthWarn, "none configured"}
	}
	return feedbackRow{"Connections", healthOkay, strings.Join(up, ", ")}
}

func checkLanguages(ctx context.Context, exe *executor.Executor) []feedbackRow {
	var rows []feedbackRow
	for _, lang := range exe.Languages() {
		if lang.HelloCode == "" {
			rows = append(rows, feedbackRow{lang.Name, healthWarn, "no hello world code configured"})
			continue
		}
		res, err := exe.Execute(ctx, executor.Request{
			ID:       "health-" + lang.ID,
			Code:     lang.HelloCode,
			Language: lang.ID,
			Limits:   sandbox.Limits{Time: 5 * time.Second, MemoryKiB: 512 * 1024},
		})
		switch {
		case err != nil:
			rows = append(rows, feedbackRow{lang.Name, healthError, err.Error()})
		case res.Reason != sandbox.Exited || res.ExitCode != 0:
			msg := fmt.Sprintf("%s, exit code %d", res.Reason, res.ExitCode)
			if res.Stderr != "" {
				msg += ": " + res.Stderr
			}
			rows = append(rows, feedbackRow{lang.Name, healthError, msg})
		case !strings.Contains(strings.ToLower(res.Stdout), "hello world"):
			rows = append(rows, feedbackRow{lang.Name, healthWarn, "unexpected output: " + res.Stdout})
		default:
			rows = append(rows, feedbackRow{lang.Name, healthOkay, fmt.Sprintf("%s in %v", strings.TrimSpace(res.Stdout), res.WallTime)})
		}
	}
	return rows
}

func outputFeedback(feedback []feedbackRow) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Unit", "Health", "Message"})
	for _, row := range feedback {
		t.AppendRow(table.Row{row.unit, row.health.String(), strings.TrimSpace(row.message)})
	}
	t.SetStyle(table.StyleColoredDark)
	t.SetColumnConfigs([]table.ColumnConfig{
		{
			Name: "Health",
			Transformer: text.Transformer(func(s interface{}) string {
				switch s {
				case "OKAY":
					return text.FgHiGreen.Sprint(s)
				case "WARN":
					return text.FgHiYellow.Sprint(s)
				case "ERROR":
					return text.FgHiRed.Sprint(s)
				}
				return fmt.Sprint(s)
			}),
			Align: text.AlignCenter,
		},
	})
	t.Render()
}
