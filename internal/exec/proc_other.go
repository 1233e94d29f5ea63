//go:build !unix

package exec

import (
	osexec "os/exec"
	"time"
)

func configureProcessGroup(cmd *osexec.Cmd) {
	cmd.WaitDelay = time.Second
}
