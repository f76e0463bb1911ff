//go:build !windows

package agent

import (
	"os/exec"
	"syscall"
	"time"
)

// defaultForceKillAfter is the grace period between the graceful stop and
// the group SIGKILL when the config does not set one.
const defaultForceKillAfter = 5 * time.Second

// setProcGroup runs cmd in its own process group so cancellation reaches
// every descendant, not just the direct child. On cancel the whole group
// gets SIGTERM; a group that ignores it is SIGKILLed after the grace
// period via WaitDelay and the timer below.
func setProcGroup(cmd *exec.Cmd, forceKillAfter time.Duration) {
	if forceKillAfter <= 0 {
		forceKillAfter = defaultForceKillAfter
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pid := cmd.Process.Pid
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
			return err
		}
		time.AfterFunc(forceKillAfter, func() {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		})
		return nil
	}

	// Close the pipes and give up on Wait shortly after the group kill
	// fires, so a stuck child can never wedge the runner.
	cmd.WaitDelay = forceKillAfter + time.Second
}
