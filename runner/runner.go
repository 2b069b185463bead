// Package runner executes shell commands inside the workspace root.
//
// Information Hiding:
// - Shell selection per platform hidden
// - Process-group termination hidden
// - Output capture bounding hidden
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultTimeout applies when a caller passes no timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxOutputBytes is how much of each stream's tail is kept.
	DefaultMaxOutputBytes = 64 * 1024

	// DefaultWaitDelay bounds how long Run waits for pipes held open by
	// descendants after the shell itself is gone.
	DefaultWaitDelay = 2 * time.Second
)

var (
	// ErrEmptyCommand is returned for blank commands.
	ErrEmptyCommand = errors.New("command cannot be empty")

	// ErrCommandNotAllowed is returned when an allowlist is set and the command is not on it.
	ErrCommandNotAllowed = errors.New("command is not in the allowed list")
)

// Result is what a command did. A non-zero ExitCode is data, not an error.
type Result struct {
	// ExitCode is -1 when the process was killed or never exited normally.
	ExitCode  int
	Stdout    string
	Stderr    string
	TimedOut  bool
	Cancelled bool
	Truncated bool
	Duration  time.Duration
}

// Succeeded reports a clean zero exit.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0 && !r.TimedOut && !r.Cancelled
}

// Runner runs commands with the workspace root as working directory.
type Runner struct {
	dir             string
	defaultTimeout  time.Duration
	maxOutputBytes  int
	waitDelay       time.Duration
	env             []string
	allowedCommands []string
}

// New creates a runner rooted at dir.
func New(dir string) *Runner {
	return &Runner{
		dir:            dir,
		defaultTimeout: DefaultTimeout,
		maxOutputBytes: DefaultMaxOutputBytes,
		waitDelay:      DefaultWaitDelay,
	}
}

// WithDefaultTimeout sets the timeout used when Run is given none.
func (r *Runner) WithDefaultTimeout(d time.Duration) *Runner {
	if d > 0 {
		r.defaultTimeout = d
	}
	return r
}

// WithMaxOutputBytes sets the per-stream capture limit.
func (r *Runner) WithMaxOutputBytes(n int) *Runner {
	if n > 0 {
		r.maxOutputBytes = n
	}
	return r
}

// WithWaitDelay sets the grace period for descendants holding output pipes.
func (r *Runner) WithWaitDelay(d time.Duration) *Runner {
	if d > 0 {
		r.waitDelay = d
	}
	return r
}

// WithEnv appends KEY=VALUE entries to the inherited environment.
// Later entries win over inherited ones.
func (r *Runner) WithEnv(env []string) *Runner {
	r.env = append(r.env, env...)
	return r
}

// WithAllowedCommands restricts Run to commands whose program is one of
// programs, matched by base name. An empty list allows everything.
func (r *Runner) WithAllowedCommands(programs []string) *Runner {
	r.allowedCommands = nil
	for _, p := range programs {
		if p = strings.TrimSpace(p); p != "" {
			r.allowedCommands = append(r.allowedCommands, p)
		}
	}
	return r
}

// Run executes command through the platform shell.
// The error is non-nil only when the command could not be started.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{ExitCode: -1}, ErrEmptyCommand
	}
	if !r.allows(command) {
		return Result{ExitCode: -1}, fmt.Errorf("%q: %w", command, ErrCommandNotAllowed)
	}
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := shellCommand()
	cmd := exec.CommandContext(runCtx, shell[0], append(shell[1:], command)...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), r.env...)
	cmd.WaitDelay = r.waitDelay

	stdout := newTailBuffer(r.maxOutputBytes)
	stderr := newTailBuffer(r.maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureProcess(cmd)

	start := time.Now()
	err := cmd.Run()
	reap(cmd)

	result := Result{
		ExitCode:  0,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Duration:  time.Since(start),
	}
	if err == nil {
		return result, nil
	}

	switch {
	case ctx.Err() != nil:
		result.Cancelled = true
		result.ExitCode = -1
		return result, nil
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		// The shell exited; a background child kept the pipes open.
		result.ExitCode = cmd.ProcessState.ExitCode()
		return result, nil
	}

	result.ExitCode = -1
	return result, fmt.Errorf("failed to execute command: %w", err)
}

// allows reports whether the program a command line starts with is on the
// allowlist. Leading VAR=value assignments are skipped and a path such as
// /usr/bin/python3 matches "python3".
func (r *Runner) allows(command string) bool {
	if len(r.allowedCommands) == 0 {
		return true
	}
	for _, field := range strings.Fields(command) {
		if strings.Contains(field, "=") && !strings.HasPrefix(field, "=") {
			continue
		}
		return slices.Contains(r.allowedCommands, path.Base(field))
	}
	return false
}
