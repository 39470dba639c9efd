//go:build linux

package local

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/programme-lv/runner/internal/sandbox"
)

// groupRssKiB sums VmRSS of every live process in the group.
func groupRssKiB(pgid int) (int64, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, fmt.Errorf("failed to list /proc: %w", err)
	}

	var total int64
	found := false
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		pg, err := readPgrp(pid)
		if err != nil || pg != pgid {
			continue
		}
		rss, err := readRssKiB(pid)
		if err != nil {
			continue
		}
		total += rss
		found = true
	}
	if !found {
		return 0, sandbox.ErrUsageUnavailable
	}
	return total, nil
}

// readPgrp parses the process group out of /proc/<pid>/stat. The command
// name may contain spaces and parentheses, so fields are taken after the
// last ')'.
func readPgrp(pid int) (int, error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, err
	}
	end := bytes.LastIndexByte(data, ')')
	if end < 0 {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(string(data[end+1:]))
	// state ppid pgrp ...
	if len(fields) < 3 {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	return strconv.Atoi(fields[2])
}

func readRssKiB(pid int) (int64, error) {
	f, err := os.Open(filepath.Join("/proc", strconv.Itoa(pid), "status"))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		return strconv.ParseInt(fields[1], 10, 64)
	}
	// kernel threads and zombies have no VmRSS
	return 0, nil
}

func maxRssKiB(state *os.ProcessState) int64 {
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok {
		return int64(ru.Maxrss)
	}
	return 0
}
