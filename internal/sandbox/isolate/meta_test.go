package isolate

import (
	"testing"
	"time"

	"github.com/programme-lv/runner/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetaFile(t *testing.T) {
	meta := `time:0.512
time-wall:1.004
max-rss:20480
csw-voluntary:3
csw-forced:7
cg-mem:19876
cg-oom-killed:1
exitsig:9
killed:1
status:SG
message:Caught fatal signal 9
`
	m, err := parseMetaFile([]byte(meta))
	require.NoError(t, err)
	assert.InDelta(t, 0.512, m.TimeSec, 1e-9)
	assert.InDelta(t, 1.004, m.TimeWallSec, 1e-9)
	assert.Equal(t, int64(20480), m.MaxRssKb)
	assert.Equal(t, int64(19876), m.CgMemKb)
	assert.True(t, m.CgOomKilled)
	require.NotNil(t, m.ExitSignal)
	assert.Equal(t, int64(9), *m.ExitSignal)
	assert.Equal(t, StatusSignaled, m.Status)
	assert.Equal(t, "Caught fatal signal 9", m.Message)

	status := m.exitStatus()
	assert.Equal(t, sandbox.KilledMemory, status.Reason)
	assert.Equal(t, -1, status.ExitCode)
	assert.Equal(t, int64(20480), status.PeakMemKiB)
}

func TestParseMetaFileMalformed(t *testing.T) {
	_, err := parseMetaFile([]byte("time 0.1\n"))
	assert.Error(t, err)

	_, err = parseMetaFile([]byte("time:abc\n"))
	assert.Error(t, err)
}

func TestMetaTimeout(t *testing.T) {
	m, err := parseMetaFile([]byte("status:TO\ntime-wall:2.000\nexitcode:0\n"))
	require.NoError(t, err)
	assert.Equal(t, sandbox.KilledTime, m.exitStatus().Reason)
}

func TestConstraintsFor(t *testing.T) {
	c := ConstraintsFor(sandbox.Limits{Time: 2 * time.Second, MemoryKiB: 65536})
	assert.Equal(t, []string{
		"--cg-mem=65536",
		"--time=2.000",
		"--extra-time=0.500",
		"--wall-time=4.000",
		"--processes=128",
		"--open-files=128",
	}, c.args())

	c = ConstraintsFor(sandbox.Limits{Time: 100 * time.Millisecond})
	assert.Equal(t, 1100*time.Millisecond, c.WallTime)
	assert.Equal(t, DefaultConstraints().MemoryKiB, c.MemoryKiB)
}
