// Package storage provides the run log abstraction.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interface
// - Allows swapping between memory and SQLite without API changes
// - Each storage implementation encapsulates its own data structures

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/devstudio/model"
)

// ErrRunNotFound is returned when no run matches an ID.
var ErrRunNotFound = errors.New("run not found")

// StatusRunning marks a run that has not reached a terminal outcome.
// A run left in this state after its process exited was killed.
const StatusRunning = "running"

// RunRecord is one row of the run log.
type RunRecord struct {
	ID            string
	Root          string
	Description   string
	Target        string
	Provider      string
	Model         string
	TargetLOC     int
	MaxIterations int
	Status        string
	Reason        string
	FinalLOC      int
	Iterations    int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Finished reports whether the run reached a terminal outcome.
func (r RunRecord) Finished() bool {
	return r.Status != StatusRunning
}

// NewRunRecord fills a record for goal with a fresh ID.
func NewRunRecord(root string, goal model.ProjectGoal, provider, modelName string) RunRecord {
	return RunRecord{
		ID:            uuid.New().String(),
		Root:          root,
		Description:   goal.Description,
		Target:        goal.Target.String(),
		Provider:      provider,
		Model:         modelName,
		TargetLOC:     goal.TargetLOC,
		MaxIterations: goal.MaxIterations,
		Status:        StatusRunning,
		StartedAt:     time.Now().UTC(),
	}
}

// RunStore persists runs and their iteration records.
// Implementations must be safe for concurrent use.
type RunStore interface {
	// CreateRun inserts a new run. An empty ID is replaced with a fresh one.
	CreateRun(ctx context.Context, run RunRecord) (RunRecord, error)

	// AppendIteration adds one record to a run's history.
	AppendIteration(ctx context.Context, runID string, rec model.IterationRecord) error

	// FinishRun stores the terminal outcome of a run.
	FinishRun(ctx context.Context, runID string, outcome model.RunOutcome, reason string, loc int) error

	// GetRun returns one run. A unique ID prefix is accepted.
	GetRun(ctx context.Context, runID string) (RunRecord, error)

	// ListRuns returns the most recent runs first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// Iterations returns a run's history in index order.
	Iterations(ctx context.Context, runID string) ([]model.IterationRecord, error)

	// Close releases resources.
	Close() error
}
