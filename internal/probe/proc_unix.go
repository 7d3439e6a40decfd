//go:build !windows

package probe

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the child in its own process group so that
// group signals reach any helpers it forks.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup signals the whole process group: SIGTERM for the
// graceful phase, SIGKILL when force is set.
func signalGroup(pid int, force bool) {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	// Negative pid addresses the group. Fall back to the single
	// process if the group is already gone.
	if err := unix.Kill(-pid, sig); err != nil {
		_ = unix.Kill(pid, sig)
	}
}
