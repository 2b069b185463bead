package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/richinex/devstudio/model"
	"github.com/richinex/devstudio/runner"
	"github.com/richinex/devstudio/workspace"
)

// DefaultMaxOutputBytes bounds what one step feeds back to the model.
const DefaultMaxOutputBytes = 8000

// ErrUnsupported is returned for an Action the interpreter has no case for.
var ErrUnsupported = errors.New("unsupported action")

// Workspace is the file surface the interpreter needs.
type Workspace interface {
	CreatePath(rel string) error
	WriteFile(rel, content string) error
	AppendFile(rel, content string) error
	ReadFile(rel string) (string, error)
	DeleteFile(rel string) error
	Exists(rel string) (bool, error)
	Invalidate()
}

// CommandRunner runs shell commands in the workspace root.
type CommandRunner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (runner.Result, error)
}

// Interpreter applies actions to a workspace and runner.
type Interpreter struct {
	ws             Workspace
	runner         CommandRunner
	maxOutputBytes int
	now            func() time.Time
}

// NewInterpreter creates an interpreter over ws and r.
func NewInterpreter(ws Workspace, r CommandRunner) *Interpreter {
	return &Interpreter{
		ws:             ws,
		runner:         r,
		maxOutputBytes: DefaultMaxOutputBytes,
		now:            time.Now,
	}
}

// WithMaxOutputBytes overrides the per-step output bound.
func (in *Interpreter) WithMaxOutputBytes(n int) *Interpreter {
	if n > 0 {
		in.maxOutputBytes = n
	}
	return in
}

// Apply executes act as iteration index and returns its record.
//
// Workspace and command failures are reported in the record, not as errors.
// The error is non-nil only for a path escape (the record is still filled in)
// or an action type with no case here.
func (in *Interpreter) Apply(ctx context.Context, index int, act Action) (model.IterationRecord, error) {
	start := in.now()
	record := model.IterationRecord{
		Index:     index,
		StartedAt: start,
	}
	if act == nil {
		return record, fmt.Errorf("nil action: %w", ErrUnsupported)
	}
	record.Kind = act.Kind()
	record.Subject = act.Subject()

	var outcome model.Outcome
	var err error

	switch a := act.(type) {
	case CreateFile:
		outcome, err = in.createFile(a)
	case WriteFile:
		outcome, err = in.fileOp(fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path), func() error {
			return in.ws.WriteFile(a.Path, a.Content)
		})
	case AppendFile:
		outcome, err = in.fileOp(fmt.Sprintf("appended %d bytes to %s", len(a.Content), a.Path), func() error {
			return in.ws.AppendFile(a.Path, a.Content)
		})
	case MakeDir:
		outcome, err = in.fileOp(fmt.Sprintf("created directory %s", a.Path), func() error {
			return in.ws.CreatePath(a.Path)
		})
	case DeleteFile:
		outcome, err = in.fileOp(fmt.Sprintf("deleted %s", a.Path), func() error {
			return in.ws.DeleteFile(a.Path)
		})
	case ReadFile:
		outcome, err = in.readFile(a)
	case RunCommand:
		outcome = in.runCommand(ctx, a)
	case Finish:
		reason := a.Reason
		if reason == "" {
			reason = "model declared the project complete"
		}
		outcome = model.Outcome{Success: true, Output: reason}
	default:
		return record, fmt.Errorf("%T: %w", act, ErrUnsupported)
	}

	record.Outcome = outcome
	record.Duration = in.now().Sub(start)
	return record, err
}

func (in *Interpreter) createFile(a CreateFile) (model.Outcome, error) {
	exists, err := in.ws.Exists(a.Path)
	if err != nil {
		return failure(err), fatal(err)
	}
	if exists {
		return model.Outcome{
			ErrorKind: model.ErrorIO,
			Error:     fmt.Sprintf("%s already exists; use write_file to replace it", a.Path),
		}, nil
	}
	return in.fileOp(fmt.Sprintf("created %s (%d bytes)", a.Path, len(a.Content)), func() error {
		return in.ws.WriteFile(a.Path, a.Content)
	})
}

func (in *Interpreter) fileOp(summary string, op func() error) (model.Outcome, error) {
	if err := op(); err != nil {
		return failure(err), fatal(err)
	}
	return model.Outcome{Success: true, Output: summary}, nil
}

func (in *Interpreter) readFile(a ReadFile) (model.Outcome, error) {
	content, err := in.ws.ReadFile(a.Path)
	if err != nil {
		return failure(err), fatal(err)
	}
	out, truncated := headBytes(content, in.maxOutputBytes)
	return model.Outcome{Success: true, Output: out, Truncated: truncated}, nil
}

func (in *Interpreter) runCommand(ctx context.Context, a RunCommand) model.Outcome {
	timeout := time.Duration(a.TimeoutSecs) * time.Second
	res, err := in.runner.Run(ctx, a.Command, timeout)
	// Commands may create or delete anything.
	in.ws.Invalidate()
	if err != nil {
		return model.Outcome{
			ExitCode:  -1,
			ErrorKind: model.ErrorCommandFailure,
			Error:     err.Error(),
		}
	}

	outcome := model.Outcome{
		Success:   res.Succeeded(),
		ExitCode:  res.ExitCode,
		Output:    in.formatCommandOutput(a.Command, res),
		Truncated: res.Truncated,
		TimedOut:  res.TimedOut,
	}
	switch {
	case res.Cancelled:
		outcome.ErrorKind = model.ErrorCancelled
		outcome.Error = "command cancelled"
	case res.TimedOut:
		outcome.ErrorKind = model.ErrorCommandTimeout
		outcome.Error = fmt.Sprintf("command timed out after %s", res.Duration.Round(time.Millisecond))
	case res.ExitCode != 0:
		outcome.ErrorKind = model.ErrorCommandFailure
		outcome.Error = fmt.Sprintf("command exited with code %d", res.ExitCode)
	}
	return outcome
}

// formatCommandOutput renders a run for the next prompt, keeping the tail of
// each stream where compiler and test errors usually end up.
func (in *Interpreter) formatCommandOutput(command string, res runner.Result) string {
	half := in.maxOutputBytes / 2

	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", command)
	switch {
	case res.TimedOut:
		b.WriteString("status: timed out (process killed)\n")
	case res.Cancelled:
		b.WriteString("status: cancelled\n")
	default:
		fmt.Fprintf(&b, "exit code: %d\n", res.ExitCode)
	}
	if s := strings.TrimRight(res.Stdout, "\n"); s != "" {
		fmt.Fprintf(&b, "--- stdout ---\n%s\n", runner.TailBytes(s, half))
	}
	if s := strings.TrimRight(res.Stderr, "\n"); s != "" {
		fmt.Fprintf(&b, "--- stderr ---\n%s\n", runner.TailBytes(s, half))
	}
	if res.Truncated || len(res.Stdout) > half || len(res.Stderr) > half {
		b.WriteString("[output truncated]\n")
	}
	return b.String()
}

func failure(err error) model.Outcome {
	kind := model.ErrorIO
	if errors.Is(err, workspace.ErrPathEscape) {
		kind = model.ErrorPathEscape
	}
	return model.Outcome{ErrorKind: kind, Error: err.Error()}
}

// fatal passes through only the errors that must end a run.
func fatal(err error) error {
	if errors.Is(err, workspace.ErrPathEscape) {
		return err
	}
	return nil
}

func headBytes(s string, n int) (string, bool) {
	if n <= 0 || len(s) <= n {
		return s, false
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[... truncated]", true
}
