package executor

import (
	"context"
	"os/exec"
	"time"
)

// CommandRunner runs an external command in dir and returns its combined
// stdout and stderr.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// WaitDelay bounds how long to wait for output pipes after the process
	// is killed on context cancellation.
	WaitDelay time.Duration
}

// Run implements CommandRunner.
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	return cmd.CombinedOutput()
}

var _ CommandRunner = ExecRunner{}
