//go:build unix
// +build unix

package runner

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// gdbSysProcAttr puts GDB in its own process group so OpenOCD, which GDB
// spawns as its pipe target, is signalled together with it.
func gdbSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup signals GDB's whole process group. kill escalates from
// SIGTERM to SIGKILL.
func signalGroup(p *os.Process, kill bool) {
	sig := unix.SIGTERM
	if kill {
		sig = unix.SIGKILL
	}
	if err := unix.Kill(-p.Pid, sig); err != nil {
		// The group may already be gone; try the process itself.
		_ = p.Signal(sig)
	}
}
