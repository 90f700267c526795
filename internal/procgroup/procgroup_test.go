//go:build unix

package procgroup

import (
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelKillsProcessGroup(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// sh keeps a background child alive so the group has more than one member
	cmd := exec.CommandContext(ctx, "sh", "-c", "sleep 30 & sleep 30")
	Set(cmd)

	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid, "child should lead its own process group")

	time.Sleep(100 * time.Millisecond)
	cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("process group was not terminated")
	}
}

func TestSetKeepsExplicitWaitDelay(t *testing.T) {
	cmd := exec.Command("true")
	cmd.WaitDelay = time.Second
	Set(cmd)
	assert.Equal(t, time.Second, cmd.WaitDelay)
	assert.True(t, cmd.SysProcAttr.Setpgid)
}
