package main

import (
	"context"
	"fmt"
	"os"

	"github.com/programme-lv/runner/internal/behave"
	"github.com/programme-lv/runner/internal/executor"
	"github.com/programme-lv/runner/internal/pool"
	"github.com/programme-lv/runner/internal/sink"
	"github.com/urfave/cli/v3"
)

func behaveCommand() *cli.Command {
	return &cli.Command{
		Name:      "behave",
		Usage:     "run behaviour scenarios and report which ones pass",
		ArgsUsage: "<scenario.toml>...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return fmt.Errorf("no scenario files given")
			}
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}

			var cases []behave.Case
			var extra []executor.Language
			for _, path := range cmd.Args().Slice() {
				suite, err := behave.Parse(path)
				if err != nil {
					return err
				}
				cases = append(cases, suite.Cases...)
				extra = append(extra, suite.Languages...)
			}

			st, err := buildExecutor(cfg, log, extra...)
			if err != nil {
				return err
			}
			defer st.closeLogged()

			conf := cfg.PoolConfig()
			if conf.QueueSize < len(cases) {
				conf.QueueSize = len(cases)
			}
			p := pool.New(conf, st.executor, sink.NewMulti(), log)
			stop := startPool(ctx, p)

			outcomes := behave.Run(ctx, p, cases)
			if err := stop(); err != nil {
				return err
			}

			passed := behave.Report(os.Stdout, outcomes)
			if passed != len(outcomes) {
				return cli.Exit(fmt.Sprintf("%d of %d scenarios failed", len(outcomes)-passed, len(outcomes)), 1)
			}
			return nil
		},
	}
}
