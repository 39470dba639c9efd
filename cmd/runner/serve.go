package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/programme-lv/runner/internal/intake"
	"github.com/programme-lv/runner/internal/pool"
	"github.com/programme-lv/runner/internal/s3downl"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the worker pool and accept submissions over the configured intakes",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}

			st, err := buildExecutor(cfg, log)
			if err != nil {
				return err
			}
			defer st.closeLogged()

			if err := st.connect(ctx); err != nil {
				return err
			}
			sinks, err := st.sinks(ctx, false)
			if err != nil {
				return err
			}
			if sinks.Len() == 0 {
				log.Warn("no result sinks configured, results are only kept in memory")
			}

			var fetcher intake.InputFetcher
			if cfg.Intake.S3Region != "" {
				f, err := s3downl.New(ctx, cfg.Intake.S3Region, cfg.Intake.MaxInputBytes, log)
				if err != nil {
					return err
				}
				fetcher = f
			}

			p := pool.New(cfg.PoolConfig(), st.executor, sinks, log)
			in := intake.New(intake.Config{
				DefaultLanguage: cfg.Intake.DefaultLanguage,
				MaxCodeBytes:    cfg.Intake.MaxCodeBytes,
			}, p, fetcher, log)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return p.Run(gctx)
			})

			if cfg.Intake.HTTPAddr != "" {
				srv := &http.Server{
					Addr:              cfg.Intake.HTTPAddr,
					Handler:           in.NewRouter(),
					ReadHeaderTimeout: 10 * time.Second,
				}
				g.Go(func() error {
					log.Info("listening for http submissions", "addr", srv.Addr)
					err := srv.ListenAndServe()
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}
			if st.nats != nil && cfg.Intake.NatsSubject != "" {
				g.Go(func() error {
					return in.ServeNats(gctx, st.nats, cfg.Intake.NatsSubject, cfg.Intake.NatsQueueGroup)
				})
			}
			if cfg.Intake.SqsQueueURL != "" {
				g.Go(func() error {
					return in.ServeSqs(gctx, st.sqs, cfg.Intake.SqsQueueURL)
				})
			}
			if st.redis != nil && cfg.Intake.RedisList != "" {
				g.Go(func() error {
					return in.ServeRedis(gctx, st.redis, cfg.Intake.RedisList)
				})
			}

			err = g.Wait()
			log.Info("runner stopped", "submitted", p.Stats().Submitted, "finished", p.Stats().Finished)
			return err
		},
	}
}
