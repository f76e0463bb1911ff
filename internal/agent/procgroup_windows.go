//go:build windows

package agent

import (
	"os/exec"
	"time"
)

// setProcGroup is a no-op beyond WaitDelay on Windows: process groups and
// signals work differently there, so cancellation falls back to the
// default Kill of the direct child.
func setProcGroup(cmd *exec.Cmd, forceKillAfter time.Duration) {
	if forceKillAfter <= 0 {
		forceKillAfter = 5 * time.Second
	}
	cmd.WaitDelay = forceKillAfter + time.Second
}
