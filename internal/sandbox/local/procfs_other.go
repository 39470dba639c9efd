//go:build !linux

package local

import (
	"os"

	"github.com/programme-lv/runner/internal/sandbox"
)

func groupRssKiB(pgid int) (int64, error) {
	return 0, sandbox.ErrUsageUnavailable
}

func maxRssKiB(state *os.ProcessState) int64 {
	return 0
}
