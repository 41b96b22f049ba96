//go:build windows
// +build windows

package runner

import (
	"os"
	"syscall"
)

func gdbSysProcAttr() *syscall.SysProcAttr {
	return nil
}

// signalGroup kills the process directly. Windows has no process-group
// signal delivery; OpenOCD exits on its own once the GDB pipe closes.
func signalGroup(p *os.Process, _ bool) {
	_ = p.Kill()
}
