// Package hostctl delegates whole-host restarts to an operator-provided
// command.
package hostctl

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("run %s: %w", name, err)
	}
	return out, nil
}

// Command implements forum.HostControl by running a fixed command line,
// e.g. "sudo systemctl reboot".
type Command struct {
	argv    []string
	timeout time.Duration
	runner  Runner
	logger  *zap.Logger
}

// NewCommand parses commandLine on whitespace. An empty command line is an error.
func NewCommand(commandLine string, timeout time.Duration, runner Runner, logger *zap.Logger) (*Command, error) {
	argv := strings.Fields(commandLine)
	if len(argv) == 0 {
		return nil, errors.New("host restart command is empty")
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{argv: argv, timeout: timeout, runner: runner, logger: logger.Named("hostctl")}, nil
}

// RestartHost runs the configured command.
func (c *Command) RestartHost(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Warn("requesting host restart", zap.Strings("command", c.argv))
	out, err := c.runner.Run(ctx, c.argv[0], c.argv[1:]...)
	if err != nil {
		return fmt.Errorf("host restart: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// LogOnly implements forum.HostControl for deployments where a supervisor
// restarts the process. It records the request and returns nil.
type LogOnly struct {
	Logger *zap.Logger
}

// RestartHost implements forum.HostControl.
func (l LogOnly) RestartHost(context.Context) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Error("host restart requested but no restart command is configured")
	return nil
}
