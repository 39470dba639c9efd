//go:build !linux

package local

import "syscall"

func sysProcAttr(isolation Isolation) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
