//go:build !windows

package daemonctl

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// detach puts the child in its own session so it survives the CLI's terminal.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func signalReload(pid int) error {
	return unix.Kill(pid, unix.SIGHUP)
}
