package pool

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var ErrQueueFull = errors.New("job queue is full")

// Queue is a bounded FIFO of jobs shared by all workers. Every queued job
// has one token in ready; a worker takes a token before popping a job.
// Removing a job takes back a token when one is free, so ready never holds
// more tokens than there are jobs.
type Queue struct {
	mu    sync.Mutex
	jobs  []*Job
	ready chan struct{}
}

func NewQueue(capacity int) *Queue {
	return &Queue{ready: make(chan struct{}, capacity)}
}

// TryEnqueue never blocks. When the queue is full it returns ErrQueueFull
// and leaves the queue as it was.
func (q *Queue) TryEnqueue(j *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) >= cap(q.ready) {
		return ErrQueueFull
	}
	select {
	case q.ready <- struct{}{}:
	default:
		return ErrQueueFull
	}
	q.jobs = append(q.jobs, j)
	return nil
}

// Dequeue blocks until a job is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// the job behind the token may have been removed meanwhile
		if j := q.pop(); j != nil {
			return j, nil
		}
	}
}

// Remove takes j out of the queue. It reports false when j is not queued,
// for example because a worker already dequeued it.
func (q *Queue) Remove(j *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.Index(q.jobs, j)
	if i < 0 {
		return false
	}
	q.jobs = slices.Delete(q.jobs, i, i+1)
	select {
	case <-q.ready:
	default:
		// a worker holds the token and will find nothing to pop
	}
	return true
}

func (q *Queue) pop() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	j := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return j
}

// tryDequeue returns nil when the queue is empty.
func (q *Queue) tryDequeue() *Job {
	select {
	case <-q.ready:
	default:
	}
	return q.pop()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Queue) Cap() int {
	return cap(q.ready)
}
