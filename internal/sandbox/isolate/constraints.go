package isolate

import (
	"fmt"
	"time"

	"github.com/programme-lv/runner/internal/sandbox"
)

// Constraints are the limits isolate enforces itself.
type Constraints struct {
	CpuTime   time.Duration
	ExtraTime time.Duration
	WallTime  time.Duration
	// MemoryKiB is applied to the box's control group.
	MemoryKiB int64
	Processes int
	OpenFiles int
}

func DefaultConstraints() Constraints {
	return Constraints{
		CpuTime:   50 * time.Second,
		ExtraTime: 500 * time.Millisecond,
		WallTime:  10 * time.Second,
		MemoryKiB: 2048000,
		Processes: 128,
		OpenFiles: 128,
	}
}

// ConstraintsFor derives native isolate limits from the execution limits.
// The wall-time limit is a backstop at least twice the watched limit, so
// the limiter normally decides about timeouts.
func ConstraintsFor(limits sandbox.Limits) Constraints {
	c := DefaultConstraints()
	if limits.Time > 0 {
		c.CpuTime = limits.Time
		c.WallTime = max(2*limits.Time, limits.Time+time.Second)
	}
	if limits.MemoryKiB > 0 {
		c.MemoryKiB = limits.MemoryKiB
	}
	return c
}

func (c Constraints) args() []string {
	return []string{
		fmt.Sprintf("--cg-mem=%d", c.MemoryKiB),
		fmt.Sprintf("--time=%.3f", c.CpuTime.Seconds()),
		fmt.Sprintf("--extra-time=%.3f", c.ExtraTime.Seconds()),
		fmt.Sprintf("--wall-time=%.3f", c.WallTime.Seconds()),
		fmt.Sprintf("--processes=%d", c.Processes),
		fmt.Sprintf("--open-files=%d", c.OpenFiles),
	}
}
