//go:build linux

package detached

import "syscall"

// buildSysProcAttr starts the monitor in its own session so it keeps
// running after the launching CLI process exits, instead of dying with it.
func buildSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}
