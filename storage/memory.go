// Package storage provides in-memory run storage.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and runs without a database

package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/devstudio/model"
)

// InMemoryStorage implements RunStore using in-memory maps.
// Data is lost when process terminates.
type InMemoryStorage struct {
	mu         sync.RWMutex
	runs       map[string]RunRecord
	order      []string
	iterations map[string][]model.IterationRecord
}

// NewInMemoryStorage creates a new in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		runs:       make(map[string]RunRecord),
		iterations: make(map[string][]model.IterationRecord),
	}
}

// CreateRun inserts a new run.
func (s *InMemoryStorage) CreateRun(ctx context.Context, run RunRecord) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if _, exists := s.runs[run.ID]; exists {
		return RunRecord{}, fmt.Errorf("run %s already exists", run.ID)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return run, nil
}

// AppendIteration adds one record to a run's history.
func (s *InMemoryStorage) AppendIteration(ctx context.Context, runID string, rec model.IterationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	for _, existing := range s.iterations[runID] {
		if existing.Index == rec.Index {
			return fmt.Errorf("iteration %d already recorded for run %s", rec.Index, runID)
		}
	}
	s.iterations[runID] = append(s.iterations[runID], rec)
	return nil
}

// FinishRun stores the terminal outcome of a run.
func (s *InMemoryStorage) FinishRun(ctx context.Context, runID string, outcome model.RunOutcome, reason string, loc int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	run.Status = outcome.String()
	run.Reason = reason
	run.FinalLOC = loc
	run.FinishedAt = time.Now().UTC()
	s.runs[runID] = run
	return nil
}

// GetRun returns one run by ID or unique ID prefix.
func (s *InMemoryStorage) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if runID == "" {
		return RunRecord{}, fmt.Errorf("empty run id: %w", ErrRunNotFound)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if run, ok := s.runs[runID]; ok {
		return s.withCount(run), nil
	}

	var matches []RunRecord
	for id, run := range s.runs {
		if strings.HasPrefix(id, runID) {
			matches = append(matches, run)
		}
	}
	switch len(matches) {
	case 0:
		return RunRecord{}, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	case 1:
		return s.withCount(matches[0]), nil
	default:
		return RunRecord{}, fmt.Errorf("run id prefix %q is ambiguous", runID)
	}
}

// ListRuns returns the most recent runs first.
func (s *InMemoryStorage) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]RunRecord, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		runs = append(runs, s.withCount(s.runs[s.order[i]]))
	}
	// Insertion order breaks ties between equal start times.
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Iterations returns a run's history in index order.
func (s *InMemoryStorage) Iterations(ctx context.Context, runID string) ([]model.IterationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Return a copy to avoid external mutations
	records := make([]model.IterationRecord, len(s.iterations[runID]))
	copy(records, s.iterations[runID])
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

// Close is a no-op for in-memory storage.
func (s *InMemoryStorage) Close() error {
	return nil
}

func (s *InMemoryStorage) withCount(run RunRecord) RunRecord {
	run.Iterations = len(s.iterations[run.ID])
	return run
}

// Verify InMemoryStorage implements RunStore
var _ RunStore = (*InMemoryStorage)(nil)
