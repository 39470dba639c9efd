package docker

import (
	"testing"
	"time"

	"github.com/programme-lv/runner/internal/sandbox"
	"github.com/stretchr/testify/assert"
)

func TestRunTime(t *testing.T) {
	d := runTime("2024-05-01T10:00:00.000000000Z", "2024-05-01T10:00:01.250000000Z")
	assert.Equal(t, 1250*time.Millisecond, d)

	assert.Zero(t, runTime("garbage", "2024-05-01T10:00:01Z"))
	assert.Zero(t, runTime("2024-05-01T10:00:02Z", "2024-05-01T10:00:01Z"))
}

func TestHostConfigMountsRunStepReadOnly(t *testing.T) {
	s := &Sandbox{conf: Config{Image: "runner", PidsLimit: 32, CPUQuota: 100000}}

	compile := s.hostConfig(sandbox.Spec{Dir: "/var/ws/1", Limits: sandbox.Limits{MemoryKiB: 1024}})
	assert.Equal(t, []string{"/var/ws/1:/workspace"}, compile.Binds)
	assert.Equal(t, int64(1024*1024), compile.Resources.Memory)
	assert.Equal(t, compile.Resources.Memory, compile.Resources.MemorySwap)

	run := s.hostConfig(sandbox.Spec{Dir: "/var/ws/1", ReadOnly: true})
	assert.Equal(t, []string{"/var/ws/1:/workspace:ro"}, run.Binds)
	assert.True(t, run.ReadonlyRootfs)
	assert.Equal(t, []string{"ALL"}, run.CapDrop)
	assert.Equal(t, "none", string(run.NetworkMode))
	assert.Zero(t, run.Resources.Memory)
}
