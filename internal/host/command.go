package host

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// commandWaitDelay bounds how long Run waits for the output pipe to close
// after a timed out command is killed. Grandchildren may keep it open.
const commandWaitDelay = 100 * time.Millisecond

// commandFailed is returned to generated code when the process could not be
// started or did not finish in time.
const commandFailed = ^uint64(0)

// Command runs a fixed external program on behalf of generated code and
// streams its output.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration

	mu     sync.Mutex
	stdout io.Writer
}

func NewCommand(stdout io.Writer, path string, args ...string) *Command {
	return &Command{Path: path, Args: args, stdout: stdout}
}

// SetOutput redirects the output of later runs to w.
func (c *Command) SetOutput(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdout = w
}

// Run executes the command and returns its exit code.
func (c *Command) Run() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := context.Background()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stdout
	if c.Timeout > 0 {
		cmd.WaitDelay = commandWaitDelay
	}

	start := time.Now()
	err := cmd.Run()
	slog.Debug("host command finished", "path", c.Path, "duration", time.Since(start), "error", err)

	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return uint64(exitErr.ExitCode())
	}
	slog.Warn("host command failed", "path", c.Path, "error", err)
	return commandFailed
}
