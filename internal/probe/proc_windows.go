//go:build windows

package probe

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on Windows; probe tools there do not
// fork helpers we need to chase.
func setProcessGroup(cmd *exec.Cmd) {}

// signalGroup kills the process directly; Windows has no group
// signalling and no graceful phase for console-less children.
func signalGroup(pid int, force bool) {
	p, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = p.Kill()
}
