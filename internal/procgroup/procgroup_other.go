// SPDX-License-Identifier: MIT

//go:build !unix

package procgroup

import (
	"os/exec"
	"syscall"
)

// Set is a no-op on platforms without process groups.
func Set(cmd *exec.Cmd) {}

// Kill terminates the direct child only; there is no group to address.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
