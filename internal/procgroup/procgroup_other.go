//go:build !unix

package procgroup

import "os/exec"

// Process groups are not available; CommandContext falls back to killing the leader.
func set(cmd *exec.Cmd) {}
