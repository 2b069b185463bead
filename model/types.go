// Package model provides domain types shared across packages.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Target is the language family a project is generated in.
type Target string

const (
	// TargetPython is the scripting target.
	TargetPython Target = "python"
	// TargetCpp is the compiled target, built through CMake.
	TargetCpp Target = "cpp"
)

// ParseTarget converts a user-supplied name to a Target.
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "python", "py", "scripting":
		return TargetPython, nil
	case "cpp", "c++", "cxx", "compiled", "cmake":
		return TargetCpp, nil
	default:
		return "", fmt.Errorf("unknown target %q (expected python or cpp)", s)
	}
}

// String returns the canonical target name.
func (t Target) String() string {
	return string(t)
}

// Compiled reports whether the target needs a build step before running.
func (t Target) Compiled() bool {
	return t == TargetCpp
}

// DisplayName is the human-readable language name used in prompts.
func (t Target) DisplayName() string {
	if t == TargetCpp {
		return "C++"
	}
	return "Python"
}

// Extensions returns the source file extensions counted for this target.
func (t Target) Extensions() []string {
	if t == TargetCpp {
		return []string{".cpp", ".hpp", ".h", ".cc", ".cxx"}
	}
	return []string{".py"}
}

// ProjectGoal describes what a run is trying to produce.
// The loop holds a copy, so a goal never changes mid-run.
type ProjectGoal struct {
	Description   string
	Target        Target
	TargetLOC     int
	MaxIterations int
}

// Validate checks the goal before a run starts.
func (g ProjectGoal) Validate() error {
	var errs []error
	if strings.TrimSpace(g.Description) == "" {
		errs = append(errs, errors.New("description is required"))
	}
	if g.Target != TargetPython && g.Target != TargetCpp {
		errs = append(errs, fmt.Errorf("unsupported target %q", g.Target))
	}
	if g.TargetLOC <= 0 {
		errs = append(errs, fmt.Errorf("target LOC must be positive, got %d", g.TargetLOC))
	}
	if g.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max iterations must be positive, got %d", g.MaxIterations))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid project goal: %w", errors.Join(errs...))
	}
	return nil
}

// ActionKind names one variant of the action vocabulary.
type ActionKind string

const (
	ActionCreateFile ActionKind = "create_file"
	ActionWriteFile  ActionKind = "write_file"
	ActionAppendFile ActionKind = "append_file"
	ActionMakeDir    ActionKind = "make_dir"
	ActionDeleteFile ActionKind = "delete_file"
	ActionReadFile   ActionKind = "read_file"
	ActionRunCommand ActionKind = "run_command"
	ActionFinish     ActionKind = "finish"
)

// ErrorKind classifies a failed step.
type ErrorKind string

const (
	ErrorNone             ErrorKind = ""
	ErrorPathEscape       ErrorKind = "path_escape"
	ErrorIO               ErrorKind = "io"
	ErrorCommandFailure   ErrorKind = "command_failure"
	ErrorCommandTimeout   ErrorKind = "command_timeout"
	ErrorParse            ErrorKind = "parse"
	ErrorModelUnavailable ErrorKind = "model_unavailable"
	ErrorCancelled        ErrorKind = "cancelled"
)

// Outcome is the observed result of applying one action.
type Outcome struct {
	Success bool `json:"success"`
	// ExitCode is set for run_command only; -1 when the process never exited normally.
	ExitCode  int       `json:"exit_code"`
	Output    string    `json:"output,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
	TimedOut  bool      `json:"timed_out,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// IterationRecord is the append-only log entry for one loop step.
type IterationRecord struct {
	Index int        `json:"index"`
	Kind  ActionKind `json:"kind"`
	// Subject is the path or command the action targeted.
	Subject string `json:"subject,omitempty"`
	// Thought is the model's own summary of why it chose the action.
	Thought   string        `json:"thought,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	LOC       int           `json:"loc"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Succeeded reports whether the step completed without error.
func (r IterationRecord) Succeeded() bool {
	return r.Outcome.Success
}

// Label renders the record as a short one-line description.
func (r IterationRecord) Label() string {
	if r.Subject == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s %s", r.Kind, r.Subject)
}

// WorkspaceState is the snapshot of a workspace taken at the top of each iteration.
type WorkspaceState struct {
	Root  string
	LOC   int
	Files []string
}

// RunOutcome is the terminal classification of a run.
type RunOutcome int

const (
	OutcomeCompleted RunOutcome = iota
	OutcomeAborted
	OutcomeFailed
)

// String returns the outcome name.
func (o RunOutcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAborted:
		return "aborted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Phase is the lifecycle state of the development loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseCompleted
	PhaseAborted
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseAborted:
		return "aborted"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAborted || p == PhaseFailed
}

// PhaseFor maps a terminal outcome onto its phase.
func PhaseFor(o RunOutcome) Phase {
	switch o {
	case OutcomeCompleted:
		return PhaseCompleted
	case OutcomeAborted:
		return PhaseAborted
	default:
		return PhaseFailed
	}
}
