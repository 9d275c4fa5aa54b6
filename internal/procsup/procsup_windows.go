//go:build windows

package procsup

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// setProcAttr puts the child in its own process group so a console
// control event can be targeted at it without also hitting this process.
func setProcAttr(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}

// signalGraceful sends CTRL_BREAK_EVENT to the child's process group.
// ffmpeg treats this like SIGTERM on POSIX: it stops muxing and exits.
func signalGraceful(cmd *exec.Cmd) error {
	pid := uint32(cmd.Process.Pid)
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, pid)
}

func killForced(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
