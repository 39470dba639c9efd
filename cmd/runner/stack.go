package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/programme-lv/runner/internal/config"
	"github.com/programme-lv/runner/internal/executor"
	"github.com/programme-lv/runner/internal/limiter"
	"github.com/programme-lv/runner/internal/sandbox"
	"github.com/programme-lv/runner/internal/sandbox/docker"
	"github.com/programme-lv/runner/internal/sandbox/isolate"
	"github.com/programme-lv/runner/internal/sandbox/local"
	"github.com/programme-lv/runner/internal/sink"
	"github.com/programme-lv/runner/internal/workspace"
	"github.com/redis/go-redis/v9"
)

// stack holds the long-lived clients of a runner process. Fields are nil
// when the corresponding integration is not configured.
type stack struct {
	cfg *config.Config
	log *slog.Logger

	sandbox  sandbox.Sandbox
	executor *executor.Executor

	nats  *nats.Conn
	redis *redis.Client
	sqs   *sqs.Client
	db    *sqlx.DB

	closers []func() error
}

func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// abort closes whatever was opened so far and returns err joined with any
// close failure.
func (s *stack) abort(err error) error {
	return errors.Join(err, s.Close())
}

// closeLogged is Close for deferred calls.
func (s *stack) closeLogged() {
	if err := s.Close(); err != nil {
		s.log.Warn("failed to close runner stack", "error", err)
	}
}

func newSandbox(cfg *config.Config, log *slog.Logger) (sandbox.Sandbox, func() error, error) {
	switch cfg.Sandbox.Backend {
	case config.BackendIsolate:
		return isolate.New(cfg.Sandbox.IsolateBinary, log), nil, nil
	case config.BackendDocker:
		sb, err := docker.New(docker.Config{
			Image:     cfg.Sandbox.DockerImage,
			PidsLimit: cfg.Sandbox.DockerPids,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return sb, sb.Close, nil
	}
	return local.New(local.Isolation{Namespaces: cfg.Sandbox.Namespaces}, log), nil, nil
}

// buildExecutor prepares the sandbox, sweeps stale workspaces and returns
// the executor. extra languages are added to the configured ones.
func buildExecutor(cfg *config.Config, log *slog.Logger, extra ...executor.Language) (*stack, error) {
	s := &stack{cfg: cfg, log: log}

	sb, closeSb, err := newSandbox(cfg, log)
	if err != nil {
		return nil, err
	}
	if closeSb != nil {
		s.closers = append(s.closers, closeSb)
	}
	s.sandbox = sb

	root, err := workspace.NewRoot(cfg.Executor.WorkspaceRoot)
	if err != nil {
		return nil, s.abort(err)
	}
	swept, err := root.Sweep()
	if err != nil {
		return nil, s.abort(err)
	}
	if swept > 0 {
		log.Warn("removed stale workspaces", "count", swept, "root", root.Dir())
	}

	languages := append(append([]executor.Language{}, cfg.Languages...), extra...)
	lim := limiter.New(cfg.LimiterConfig(), log)
	s.executor = executor.New(sb, lim, root, languages, cfg.ExecutorConfig(), log)
	return s, nil
}

// connect opens the broker and database connections the configured
// intakes and sinks need.
func (s *stack) connect(ctx context.Context) error {
	cfg := s.cfg

	if cfg.Intake.NatsURL != "" {
		nc, err := nats.Connect(cfg.Intake.NatsURL, nats.Name("runner"))
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		s.nats = nc
		s.closers = append(s.closers, func() error { nc.Close(); return nil })
	}

	if cfg.Intake.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Intake.RedisAddr,
			Password: cfg.Intake.RedisPassword,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.closers = append(s.closers, s.redis.Close)
	}

	if cfg.Intake.SqsQueueURL != "" || cfg.Sink.SqsQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Intake.S3Region))
		if err != nil {
			return fmt.Errorf("unable to load SDK config: %w", err)
		}
		s.sqs = sqs.NewFromConfig(awsCfg)
	}

	if cfg.Sink.PostgresDSN != "" {
		db, err := sink.ConnectPostgres(ctx, cfg.Sink.PostgresDSN)
		if err != nil {
			return err
		}
		s.db = db
		s.closers = append(s.closers, db.Close)
	}
	return nil
}

// sinks builds the result sinks. terminal forces the terminal sink on.
func (s *stack) sinks(ctx context.Context, terminal bool) (*sink.Multi, error) {
	cfg := s.cfg
	m := sink.NewMulti()

	if cfg.Sink.Terminal || terminal {
		m.Add("terminal", sink.NewTerminal(os.Stdout))
	}
	if s.db != nil {
		pg, err := sink.NewPostgres(s.db, cfg.Sink.PostgresTable)
		if err != nil {
			return nil, err
		}
		if cfg.Sink.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		m.Add("postgres", pg)
	}
	if cfg.Sink.NatsSubject != "" {
		if s.nats == nil {
			return nil, errors.New("sink.nats_subject is set but NATS_URL is not")
		}
		m.Add("nats", sink.NewNats(s.nats, cfg.Sink.NatsSubject))
	}
	if cfg.Sink.SqsQueueURL != "" {
		m.Add("sqs", sink.NewSqs(s.sqs, cfg.Sink.SqsQueueURL))
	}
	if cfg.Sink.RedisStream != "" {
		if s.redis == nil {
			return nil, errors.New("sink.redis_stream is set but REDIS_ADDR is not")
		}
		m.Add("redis", sink.NewRedis(s.redis, cfg.Sink.RedisStream))
	}
	return m, nil
}
