// Package progress decides when a run has reached its goal or its iteration cap.
package progress

import (
	"fmt"

	"github.com/richinex/devstudio/model"
)

// Snapshot is what the tracker looks at: the current line count and the history so far.
type Snapshot struct {
	LOC     int
	History []model.IterationRecord
}

// Tracker evaluates goal and cap conditions. It holds no state.
type Tracker struct{}

// New creates a tracker.
func New() Tracker {
	return Tracker{}
}

// IsGoalMet reports whether the run may complete, with a human-readable reason.
//
// The goal is met when the line count reaches the target, or when the latest
// step is a finish request and the sanity check for the target passes.
func (Tracker) IsGoalMet(s Snapshot, goal model.ProjectGoal) (bool, string) {
	if s.LOC >= goal.TargetLOC {
		return true, fmt.Sprintf("line target reached (%d >= %d)", s.LOC, goal.TargetLOC)
	}
	if len(s.History) == 0 {
		return false, ""
	}
	last := s.History[len(s.History)-1]
	if last.Kind != model.ActionFinish {
		return false, ""
	}
	if ok, why := SanityCheck(s.History, goal.Target); !ok {
		return false, "finish rejected: " + why
	}
	reason := last.Outcome.Output
	if reason == "" {
		reason = "model declared the project complete"
	}
	return true, reason
}

// IsCapReached reports whether iteration has hit the configured maximum.
func (Tracker) IsCapReached(iteration int, goal model.ProjectGoal) bool {
	return iteration >= goal.MaxIterations
}

// SanityCheck verifies a finish request is backed by a working build or run.
// Compiled targets need the most recent command to have exited 0; scripting
// targets need at least one command that exited 0.
func SanityCheck(history []model.IterationRecord, target model.Target) (bool, string) {
	if target.Compiled() {
		for i := len(history) - 1; i >= 0; i-- {
			r := history[i]
			if r.Kind != model.ActionRunCommand {
				continue
			}
			if r.Outcome.Success && r.Outcome.ExitCode == 0 {
				return true, ""
			}
			return false, fmt.Sprintf("last command %q did not succeed (exit code %d)", r.Subject, r.Outcome.ExitCode)
		}
		return false, "no build or test command has been run"
	}

	for _, r := range history {
		if r.Kind == model.ActionRunCommand && r.Outcome.Success && r.Outcome.ExitCode == 0 {
			return true, ""
		}
	}
	return false, "no command has run successfully yet"
}
