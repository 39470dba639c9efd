// Package pool accepts submissions into a bounded queue and runs them on a
// fixed number of workers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/runner/api"
	"github.com/programme-lv/runner/internal/executor"
	"github.com/programme-lv/runner/internal/sink"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrDuplicateID       = errors.New("job with this id already exists")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrPoolStopped       = errors.New("worker pool is stopped")
)

// Runner executes one submission. *executor.Executor implements it.
type Runner interface {
	Execute(ctx context.Context, req executor.Request) (*executor.ExecutionResult, error)
	Supports(language string) bool
}

type Config struct {
	// Workers is capped at the number of CPUs.
	Workers   int
	QueueSize int
	// ResultTTL is how long a finished job stays available to Get and
	// Await. Zero keeps finished jobs forever.
	ResultTTL   time.Duration
	SinkTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:     runtime.NumCPU(),
		QueueSize:   100,
		ResultTTL:   10 * time.Minute,
		SinkTimeout: 10 * time.Second,
	}
}

type Pool struct {
	conf   Config
	runner Runner
	sink   sink.Sink
	queue  *Queue
	log    *slog.Logger

	jobs    *xsync.MapOf[string, *Job]
	running mapset.Set[string]
	// stopped is set once Run has returned; nothing drains the queue after.
	stopped atomic.Bool

	submitted *xsync.Counter
	rejected  *xsync.Counter
	finished  *xsync.Counter
}

func New(conf Config, runner Runner, s sink.Sink, log *slog.Logger) *Pool {
	conf.Workers = max(1, min(conf.Workers, runtime.NumCPU()))
	if conf.QueueSize <= 0 {
		conf.QueueSize = DefaultConfig().QueueSize
	}
	if conf.SinkTimeout <= 0 {
		conf.SinkTimeout = DefaultConfig().SinkTimeout
	}
	return &Pool{
		conf:      conf,
		runner:    runner,
		sink:      s,
		queue:     NewQueue(conf.QueueSize),
		log:       log,
		jobs:      xsync.NewMapOf[string, *Job](),
		running:   mapset.NewSet[string](),
		submitted: xsync.NewCounter(),
		rejected:  xsync.NewCounter(),
		finished:  xsync.NewCounter(),
	}
}

func (p *Pool) Workers() int {
	return p.conf.Workers
}

// Run starts the workers and blocks until ctx is done. Jobs already running
// are allowed to finish; jobs still queued are cancelled.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("starting worker pool", "workers", p.conf.Workers, "queue_size", p.conf.QueueSize)

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.conf.Workers {
		g.Go(func() error {
			return p.work(gctx, i)
		})
	}
	err := g.Wait()

	p.stopped.Store(true)
	for j := p.queue.tryDequeue(); j != nil; j = p.queue.tryDequeue() {
		p.cancelQueued(j)
	}
	p.log.Info("worker pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, worker int) error {
	log := p.log.With("worker", worker)
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			return nil
		}
		// a running job is not tied to the pool's lifetime
		p.process(context.WithoutCancel(ctx), job, log)
	}
}

// Submit validates sub and enqueues it. It never blocks: a full queue is
// reported with ErrQueueFull. Once Run has returned Submit fails with
// ErrPoolStopped.
func (p *Pool) Submit(sub Submission) (*Job, error) {
	if p.stopped.Load() {
		return nil, ErrPoolStopped
	}
	if err := p.validate(sub); err != nil {
		return nil, err
	}

	job := newJob(sub)
	if _, loaded := p.jobs.LoadOrStore(sub.ID, job); loaded {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, sub.ID)
	}

	if err := p.queue.TryEnqueue(job); err != nil {
		p.jobs.Delete(sub.ID)
		p.rejected.Inc()
		return nil, err
	}
	if p.stopped.Load() {
		// Run finished draining between the check above and the enqueue
		if p.queue.Remove(job) {
			p.jobs.Delete(sub.ID)
			return nil, ErrPoolStopped
		}
	}
	p.submitted.Inc()
	p.log.Debug("job enqueued", "job_id", sub.ID, "queue_len", p.queue.Len())
	return job, nil
}

func (p *Pool) validate(sub Submission) error {
	switch {
	case sub.ID == "":
		return fmt.Errorf("%w: id is empty", ErrInvalidSubmission)
	case sub.Limits.Time <= 0:
		return fmt.Errorf("%w: time limit must be positive", ErrInvalidSubmission)
	case sub.Limits.MemoryKiB <= 0:
		return fmt.Errorf("%w: memory limit must be positive", ErrInvalidSubmission)
	case !p.runner.Supports(sub.Language):
		return fmt.Errorf("%w: %w: %q", ErrInvalidSubmission, executor.ErrUnknownLanguage, sub.Language)
	}
	return nil
}

// Cancel removes a queued job or stops a running one. A running job ends up
// Failed. Cancelling a finished job returns ErrInvalidTransition.
func (p *Pool) Cancel(id string) error {
	job, ok := p.jobs.Load(id)
	if !ok {
		return ErrNotFound
	}

	job.mu.Lock()
	switch job.status {
	case Queued:
		job.mu.Unlock()
		p.queue.Remove(job)
		p.cancelQueued(job)
		return nil
	case Running:
		job.cancelRequested = true
		job.cancelRun()
		job.mu.Unlock()
		p.log.Info("cancelling running job", "job_id", id)
		return nil
	default:
		status := job.status
		job.mu.Unlock()
		return fmt.Errorf("%w: job is already %s", ErrInvalidTransition, status)
	}
}

// cancelQueued marks a queued job Cancelled. A worker that dequeued it
// before it was removed from the queue skips it.
func (p *Pool) cancelQueued(job *Job) {
	job.mu.Lock()
	if err := job.transition(Cancelled); err != nil {
		job.mu.Unlock()
		return
	}
	job.message = msg("cancelled before start")
	res := job.resultLocked()
	job.mu.Unlock()

	p.log.Info("job cancelled", "job_id", job.ID())
	p.finish(job, res)
}

// Await blocks until the job is finished or ctx is done.
func (p *Pool) Await(ctx context.Context, id string) (Snapshot, error) {
	job, ok := p.jobs.Load(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	select {
	case <-job.Done():
		return job.Snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (p *Pool) Get(id string) (Snapshot, error) {
	job, ok := p.jobs.Load(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return job.Snapshot(), nil
}

type Stats struct {
	Workers   int      `json:"workers"`
	QueueLen  int      `json:"queue_len"`
	QueueCap  int      `json:"queue_cap"`
	Running   []string `json:"running"`
	Submitted int64    `json:"submitted"`
	Rejected  int64    `json:"rejected"`
	Finished  int64    `json:"finished"`
}

func (p *Pool) Stats() Stats {
	running := p.running.ToSlice()
	slices.Sort(running)
	return Stats{
		Workers:   p.conf.Workers,
		QueueLen:  p.queue.Len(),
		QueueCap:  p.queue.Cap(),
		Running:   running,
		Submitted: p.submitted.Value(),
		Rejected:  p.rejected.Value(),
		Finished:  p.finished.Value(),
	}
}

func (p *Pool) process(ctx context.Context, job *Job, log *slog.Logger) {
	log = log.With("job_id", job.ID())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	job.mu.Lock()
	if job.status != Queued {
		// cancelled while waiting in the queue
		job.mu.Unlock()
		log.Debug("skipping job", "status", job.status)
		return
	}
	if err := job.transition(Running); err != nil {
		job.mu.Unlock()
		log.Error("failed to start job", "error", err)
		return
	}
	job.cancelRun = cancel
	job.mu.Unlock()

	p.running.Add(job.ID())
	defer p.running.Remove(job.ID())

	log.Info("job started", "language", job.sub.Language)
	res, err := p.execute(runCtx, job.sub)
	if err != nil {
		var setupErr *executor.SetupError
		if !errors.As(err, &setupErr) {
			log.Error("execution failed", "error", err)
		}
	}
	o := classify(job.sub, res, err)

	job.mu.Lock()
	if job.cancelRequested && o.status == Failed {
		o.message = msg("cancelled while running")
	}
	job.result = res
	job.verdict = o.verdict
	job.message = o.message
	if err := job.transition(o.status); err != nil {
		job.mu.Unlock()
		log.Error("failed to finish job", "error", err)
		return
	}
	final := job.resultLocked()
	job.mu.Unlock()

	log.Info("job finished", "status", final.Status, "verdict", final.Verdict, "wall_ms", final.WallMillis)
	p.finish(job, final)
}

// execute turns a panic inside the runner into an error so that one bad
// job does not take the worker down.
func (p *Pool) execute(ctx context.Context, sub Submission) (res *executor.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("panic during execution: %v", r)
		}
	}()
	return p.runner.Execute(ctx, executor.Request{
		ID:       sub.ID,
		Code:     sub.Code,
		Language: sub.Language,
		Stdin:    sub.Stdin,
		Limits:   sub.Limits,
	})
}

func (p *Pool) finish(job *Job, res api.Result) {
	p.finished.Inc()

	if p.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), p.conf.SinkTimeout)
		if err := p.sink.Persist(ctx, res); err != nil {
			p.log.Error("failed to persist result", "job_id", res.ID, "error", err)
		}
		cancel()
	}

	if p.conf.ResultTTL > 0 {
		time.AfterFunc(p.conf.ResultTTL, func() {
			p.jobs.Compute(job.ID(), func(old *Job, loaded bool) (*Job, bool) {
				return old, !loaded || old == job
			})
		})
	}
}
