package official

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/nugget/haconf/internal/finding"
)

// DefaultCommand runs the check script bundled with the platform.
// {root} is replaced with the shell-quoted configuration root.
const DefaultCommand = "hass --script check_config --config {root}"

// DefaultTimeout bounds a single check run.
const DefaultTimeout = 120 * time.Second

// exitNotFound and exitNotExecutable are the shell's codes for a
// command it could not start.
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// CommandChecker runs a local command and parses what it prints.
type CommandChecker struct {
	Command string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Name implements Checker.
func (c *CommandChecker) Name() string {
	return "command"
}

// Check implements Checker.
func (c *CommandChecker) Check(ctx context.Context, root string) ([]finding.Finding, error) {
	logger := loggerOrDefault(c.Logger)

	command := c.Command
	if command == "" {
		command = DefaultCommand
	}
	command = strings.ReplaceAll(command, "{root}", shellQuote(root))

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = root
	// Children of sh may hold the output pipe after sh is killed.
	cmd.WaitDelay = 2 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger.Debug("running configuration check", "command", command, "timeout", timeout)
	start := time.Now()
	err := cmd.Run()
	output := out.String()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, &finding.UnavailableError{
			Checker: c.Name(),
			Err:     fmt.Errorf("timed out after %s", timeout),
		}
	}
	if ctx.Err() != nil {
		return nil, &finding.UnavailableError{Checker: c.Name(), Err: ctx.Err()}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &finding.UnavailableError{Checker: c.Name(), Err: err}
		}
		code := exitErr.ExitCode()
		logger.Debug("configuration check exited", "code", code, "elapsed", time.Since(start))
		if code == exitNotFound || code == exitNotExecutable {
			return nil, &finding.UnavailableError{
				Checker: c.Name(),
				Err:     fmt.Errorf("cannot run %q (exit %d): %s", command, code, tail(output, 2)),
			}
		}
		return nil, rejected(c.Name(), Normalize(output, root), output)
	}

	logger.Debug("configuration check passed", "elapsed", time.Since(start))
	fs := Normalize(output, root)
	finding.Sort(fs)
	return fs, nil
}

// shellQuote wraps s in single quotes for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
