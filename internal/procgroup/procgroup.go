// Package procgroup starts external tools in their own process group so a
// deadline can take down the tool together with any helpers it spawned.
package procgroup

import (
	"os/exec"
	"time"
)

// DefaultWaitDelay bounds how long Wait keeps the output pipes open after
// the process group was signalled.
const DefaultWaitDelay = 5 * time.Second

// Set configures cmd to start as a process-group leader and makes context
// cancellation kill the whole group instead of only the leader.
// It must be called before cmd.Start.
func Set(cmd *exec.Cmd) {
	set(cmd)
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
}
