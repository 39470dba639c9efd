package isolate

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/programme-lv/runner/internal/sandbox"
)

// Metrics is the parsed content of an isolate meta file.
type Metrics struct {
	TimeSec      float64
	TimeWallSec  float64
	MaxRssKb     int64
	CswVoluntary int64
	CswForced    int64
	CgMemKb      int64
	CgOomKilled  bool
	ExitCode     int64
	ExitSignal   *int64
	Killed       bool
	Status       string
	Message      string
}

// isolate status codes
const (
	StatusRuntimeError  = "RE"
	StatusSignaled      = "SG"
	StatusTimedOut      = "TO"
	StatusInternalError = "XX"
)

func parseMetaFile(content []byte) (*Metrics, error) {
	m := &Metrics{}
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed meta line %q", line)
		}

		var err error
		switch key {
		case "time":
			m.TimeSec, err = strconv.ParseFloat(value, 64)
		case "time-wall":
			m.TimeWallSec, err = strconv.ParseFloat(value, 64)
		case "max-rss":
			m.MaxRssKb, err = strconv.ParseInt(value, 10, 64)
		case "csw-voluntary":
			m.CswVoluntary, err = strconv.ParseInt(value, 10, 64)
		case "csw-forced":
			m.CswForced, err = strconv.ParseInt(value, 10, 64)
		case "cg-mem":
			m.CgMemKb, err = strconv.ParseInt(value, 10, 64)
		case "cg-oom-killed":
			m.CgOomKilled = value == "1"
		case "exitcode":
			m.ExitCode, err = strconv.ParseInt(value, 10, 64)
		case "exitsig":
			var sig int64
			sig, err = strconv.ParseInt(value, 10, 64)
			m.ExitSignal = &sig
		case "killed":
			m.Killed = value == "1"
		case "status":
			m.Status = value
		case "message":
			m.Message = value
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse meta key %s: %w", key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) exitStatus() *sandbox.ExitStatus {
	status := &sandbox.ExitStatus{
		ExitCode:   int(m.ExitCode),
		CpuTime:    time.Duration(m.TimeSec * float64(time.Second)),
		PeakMemKiB: max(m.MaxRssKb, m.CgMemKb),
		Message:    m.Message,
	}
	if m.ExitSignal != nil {
		sig := int(*m.ExitSignal)
		status.Signal = &sig
		status.ExitCode = -1
	}
	switch {
	case m.CgOomKilled:
		status.Reason = sandbox.KilledMemory
	case m.Status == StatusTimedOut:
		status.Reason = sandbox.KilledTime
	}
	return status
}
