// Package agent provides the autonomous development loop.
//
// Contains the types a run reports: its terminal result and the progress
// events streamed while it runs.
package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/richinex/devstudio/llm"
	"github.com/richinex/devstudio/model"
)

var (
	// ErrAlreadyStarted is returned when Run is called on an agent that has run before.
	ErrAlreadyStarted = errors.New("agent has already been started")

	// ErrModelUnavailable marks a model call that failed before producing a reply.
	ErrModelUnavailable = errors.New("model unavailable")
)

// Result is the terminal report of a run.
type Result struct {
	RunID   string
	Outcome model.RunOutcome
	Reason  string
	// Records is the full iteration history in order.
	Records  []model.IterationRecord
	LOC      int
	Duration time.Duration
	// FatalOutput is the truncated raw output of the step that ended a failed run.
	FatalOutput string
	// ErrorKind classifies what ended a failed or aborted run. It is empty on completion
	// and when the iteration cap was reached.
	ErrorKind  model.ErrorKind
	Usage      llm.TokenUsage
	ModelCalls int
}

// Succeeded reports whether the run completed its goal.
func (r Result) Succeeded() bool {
	return r.Outcome == model.OutcomeCompleted
}

// Summary renders the result as one line.
func (r Result) Summary() string {
	return fmt.Sprintf("%s after %d iterations (%d LOC): %s",
		r.Outcome, len(r.Records), r.LOC, r.Reason)
}

// EventKind names what a progress event reports.
type EventKind int

const (
	// EventStarted is sent once the workspace is held and the run is recorded.
	EventStarted EventKind = iota
	// EventIteration carries one appended iteration record.
	EventIteration
	// EventRetry reports a rejected or failed model call that will be retried.
	EventRetry
	// EventFinished is sent once with the terminal phase.
	EventFinished
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventIteration:
		return "iteration"
	case EventRetry:
		return "retry"
	case EventFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event is one progress notification from a running loop.
type Event struct {
	Kind      EventKind
	RunID     string
	Iteration int
	Phase     model.Phase
	LOC       int
	// Record is set for EventIteration.
	Record  *model.IterationRecord
	Message string
	Time    time.Time
}
