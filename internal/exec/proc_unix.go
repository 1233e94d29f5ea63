//go:build unix

package exec

import (
	osexec "os/exec"
	"syscall"
	"time"
)

// configureProcessGroup puts the command in its own process group so that
// cancellation SIGKILLs the process and every child it spawned.
func configureProcessGroup(cmd *osexec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	// children holding the output pipes must not block Wait
	cmd.WaitDelay = time.Second
}
