package limiter

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/programme-lv/runner/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcess exits on its own after runFor, or when terminated.
type fakeProcess struct {
	runFor  time.Duration
	memory  atomic.Int64
	status  sandbox.ExitStatus
	noUsage bool

	terminated atomic.Int32
	killed     chan struct{}
	killOnce   sync.Once
}

func newFakeProcess(runFor time.Duration, memKiB int64) *fakeProcess {
	p := &fakeProcess{runFor: runFor, killed: make(chan struct{})}
	p.memory.Store(memKiB)
	return p
}

func (p *fakeProcess) Wait() (*sandbox.ExitStatus, error) {
	select {
	case <-time.After(p.runFor):
		st := p.status
		return &st, nil
	case <-p.killed:
		sig := 9
		return &sandbox.ExitStatus{ExitCode: -1, Signal: &sig}, nil
	}
}

func (p *fakeProcess) Terminate() error {
	p.terminated.Add(1)
	p.killOnce.Do(func() { close(p.killed) })
	return nil
}

func (p *fakeProcess) MemoryUsage() (int64, error) {
	if p.noUsage {
		return 0, sandbox.ErrUsageUnavailable
	}
	return p.memory.Load(), nil
}

func newTestLimiter() *Limiter {
	return New(Config{
		PollInterval:       2 * time.Millisecond,
		TimeTolerance:      10 * time.Millisecond,
		MemoryTolerancePct: 0.01,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunExitsWithinLimits(t *testing.T) {
	l := newTestLimiter()
	p := newFakeProcess(20*time.Millisecond, 1000)

	out, err := l.Run(context.Background(), p, sandbox.Limits{Time: time.Second, MemoryKiB: 2000})
	require.NoError(t, err)
	assert.Equal(t, sandbox.Exited, out.Reason)
	assert.Equal(t, 0, out.Exit.ExitCode)
	assert.Equal(t, int64(1000), out.PeakMemoryKiB)
	assert.GreaterOrEqual(t, out.WallTime, 20*time.Millisecond)
	assert.Zero(t, p.terminated.Load())
}

func TestRunKillsOnTimeout(t *testing.T) {
	l := newTestLimiter()
	p := newFakeProcess(time.Hour, 10)

	start := time.Now()
	out, err := l.Run(context.Background(), p, sandbox.Limits{Time: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, sandbox.KilledTime, out.Reason)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), p.terminated.Load())
}

func TestTimeoutKillsAtTheLimit(t *testing.T) {
	l := New(Config{
		PollInterval:  2 * time.Millisecond,
		TimeTolerance: 40 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p := newFakeProcess(time.Hour, 10)

	limit := 100 * time.Millisecond
	out, err := l.Run(context.Background(), p, sandbox.Limits{Time: limit})
	require.NoError(t, err)
	assert.Equal(t, sandbox.KilledTime, out.Reason)
	assert.GreaterOrEqual(t, out.WallTime, limit)
	assert.LessOrEqual(t, out.WallTime-limit, 40*time.Millisecond)
}

func TestNaturalExitWithinToleranceIsExited(t *testing.T) {
	l := newTestLimiter()
	p := newFakeProcess(0, 10)

	out, err := l.Run(context.Background(), p, sandbox.Limits{Time: time.Second})
	require.NoError(t, err)

	// as if the process had exited 5ms past its limit
	out.WallTime = time.Second + 5*time.Millisecond
	assert.Equal(t, sandbox.Exited, l.classify("", out, sandbox.Limits{Time: time.Second}))
	out.WallTime = time.Second + 20*time.Millisecond
	assert.Equal(t, sandbox.KilledTime, l.classify("", out, sandbox.Limits{Time: time.Second}))
}

func TestRunKillsOnMemory(t *testing.T) {
	l := newTestLimiter()
	p := newFakeProcess(time.Hour, 4096)

	out, err := l.Run(context.Background(), p, sandbox.Limits{Time: 5 * time.Second, MemoryKiB: 1024})
	require.NoError(t, err)
	assert.Equal(t, sandbox.KilledMemory, out.Reason)
	assert.Equal(t, int64(4096), out.PeakMemoryKiB)
}

func TestMemoryWithinTolerance(t *testing.T) {
	l := newTestLimiter()
	// 1% over 1000 KiB is allowed
	p := newFakeProcess(20*time.Millisecond, 1010)

	out, err := l.Run(context.Background(), p, sandbox.Limits{Time: time.Second, MemoryKiB: 1000})
	require.NoError(t, err)
	assert.Equal(t, sandbox.Exited, out.Reason)
}

func TestPeakReportedAfterExitIsStillExceeded(t *testing.T) {
	l := newTestLimiter()
	p := newFakeProcess(5*time.Millisecond, 0)
	p.noUsage = true
	p.status.PeakMemKiB = 5000

	out, err := l.Run(context.Background(), p, sandbox.Limits{Time: time.Second, MemoryKiB: 1000})
	require.NoError(t, err)
	assert.Equal(t, sandbox.KilledMemory, out.Reason)
	assert.Zero(t, p.terminated.Load())
}

func TestBackendReasonIsKept(t *testing.T) {
	l := newTestLimiter()
	p := newFakeProcess(5*time.Millisecond, 0)
	p.noUsage = true
	p.status = sandbox.ExitStatus{ExitCode: 0, Reason: sandbox.KilledTime}

	out, err := l.Run(context.Background(), p, sandbox.Limits{Time: time.Second})
	require.NoError(t, err)
	assert.Equal(t, sandbox.KilledTime, out.Reason)
}

func TestRunSignalled(t *testing.T) {
	l := newTestLimiter()
	p := newFakeProcess(5*time.Millisecond, 0)
	sig := 11
	p.status = sandbox.ExitStatus{ExitCode: -1, Signal: &sig}

	out, err := l.Run(context.Background(), p, sandbox.Limits{Time: time.Second})
	require.NoError(t, err)
	assert.Equal(t, sandbox.KilledSignal, out.Reason)
}

func TestRunCancelled(t *testing.T) {
	l := newTestLimiter()
	p := newFakeProcess(time.Hour, 0)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	out, err := l.Run(ctx, p, sandbox.Limits{Time: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, sandbox.KilledSignal, out.Reason)
}

func TestTerminateAfterExitIsNoop(t *testing.T) {
	l := newTestLimiter()
	p := newFakeProcess(time.Hour, 0)

	out, err := l.Run(context.Background(), p, sandbox.Limits{Time: 20 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, sandbox.KilledTime, out.Reason)

	require.NoError(t, p.Terminate())
	require.NoError(t, p.Terminate())
}

func TestConcurrentRunsDoNotShareState(t *testing.T) {
	l := newTestLimiter()
	hog := newFakeProcess(time.Hour, 1<<20)
	calm := newFakeProcess(60*time.Millisecond, 100)

	var wg sync.WaitGroup
	var hogOut, calmOut *Outcome
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		hogOut, err = l.Run(context.Background(), hog, sandbox.Limits{Time: time.Second, MemoryKiB: 1024})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		calmOut, err = l.Run(context.Background(), calm, sandbox.Limits{Time: time.Second, MemoryKiB: 1024})
		assert.NoError(t, err)
	}()
	wg.Wait()

	require.NotNil(t, hogOut)
	require.NotNil(t, calmOut)
	assert.Equal(t, sandbox.KilledMemory, hogOut.Reason)
	assert.Equal(t, sandbox.Exited, calmOut.Reason)
	assert.Equal(t, int64(100), calmOut.PeakMemoryKiB)
	assert.Zero(t, calm.terminated.Load())
}
