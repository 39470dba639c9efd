// Package intake turns submission requests arriving over HTTP, NATS, SQS
// or a redis list into pool submissions.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/programme-lv/runner/api"
	"github.com/programme-lv/runner/internal/pool"
	"github.com/programme-lv/runner/internal/sandbox"
)

var ErrInvalidRequest = errors.New("invalid request")

// Submitter is the part of *pool.Pool that intake uses.
type Submitter interface {
	Submit(sub pool.Submission) (*pool.Job, error)
	Cancel(id string) error
	Await(ctx context.Context, id string) (pool.Snapshot, error)
	Get(id string) (pool.Snapshot, error)
	Stats() pool.Stats
}

// InputFetcher resolves SubmitReq.InputUrl. *s3downl.Fetcher implements it.
type InputFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Config struct {
	DefaultLanguage string
	// MaxCodeBytes bounds the submitted source code.
	MaxCodeBytes int
}

type Intake struct {
	conf    Config
	pool    Submitter
	fetcher InputFetcher
	log     *slog.Logger
}

// New creates an Intake. fetcher may be nil, in which case requests with an
// input url are rejected.
func New(conf Config, p Submitter, fetcher InputFetcher, log *slog.Logger) *Intake {
	if conf.MaxCodeBytes <= 0 {
		conf.MaxCodeBytes = 64 * 1024
	}
	return &Intake{conf: conf, pool: p, fetcher: fetcher, log: log}
}

func (in *Intake) Pool() Submitter {
	return in.pool
}

// ToSubmission validates req and converts it. A random id is assigned
// when the request carries none.
func (in *Intake) ToSubmission(ctx context.Context, req api.SubmitReq) (pool.Submission, error) {
	switch {
	case req.Code == "":
		return pool.Submission{}, fmt.Errorf("%w: code is empty", ErrInvalidRequest)
	case len(req.Code) > in.conf.MaxCodeBytes:
		return pool.Submission{}, fmt.Errorf("%w: code is longer than %d bytes", ErrInvalidRequest, in.conf.MaxCodeBytes)
	case req.TimeLimitMs <= 0:
		return pool.Submission{}, fmt.Errorf("%w: timeLimit must be positive", ErrInvalidRequest)
	case req.MemoryLimitKiB <= 0:
		return pool.Submission{}, fmt.Errorf("%w: memoryLimit must be positive", ErrInvalidRequest)
	}

	sub := pool.Submission{
		ID:       req.ID,
		Code:     req.Code,
		Language: req.Language,
		Stdin:    req.Input,
		Limits: sandbox.Limits{
			Time:      time.Duration(req.TimeLimitMs) * time.Millisecond,
			MemoryKiB: req.MemoryLimitKiB,
		},
		ExpectedOutput: req.ExpectedOutput,
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Language == "" {
		sub.Language = in.conf.DefaultLanguage
	}

	if req.InputUrl != nil {
		if in.fetcher == nil {
			return pool.Submission{}, fmt.Errorf("%w: input urls are not enabled", ErrInvalidRequest)
		}
		input, err := in.fetcher.Fetch(ctx, *req.InputUrl)
		if err != nil {
			return pool.Submission{}, fmt.Errorf("failed to fetch input: %w", err)
		}
		sub.Stdin = input
	}
	return sub, nil
}

// Accept converts and submits req. The returned error wraps
// ErrInvalidRequest, pool.ErrInvalidSubmission or pool.ErrQueueFull when
// the caller is at fault or should retry.
func (in *Intake) Accept(ctx context.Context, req api.SubmitReq) (string, error) {
	sub, err := in.ToSubmission(ctx, req)
	if err != nil {
		return "", err
	}
	if _, err := in.pool.Submit(sub); err != nil {
		return "", err
	}
	in.log.Info("accepted submission", "job_id", sub.ID, "language", sub.Language)
	return sub.ID, nil
}

func (in *Intake) acceptResp(ctx context.Context, req api.SubmitReq) api.SubmitResp {
	id, err := in.Accept(ctx, req)
	if err != nil {
		in.log.Warn("rejected submission", "error", err)
		return api.NewSubmitErrResp(err, errors.Is(err, pool.ErrQueueFull))
	}
	return api.SubmitResp{ID: id}
}

func isClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, pool.ErrInvalidSubmission) ||
		errors.Is(err, pool.ErrDuplicateID)
}
