// Development loop implementation.
//
// This is THE canonical implementation of the run state machine.
// All project generation goes through this module.
//
// Information Hiding:
// - Iteration sequencing and stop decisions hidden
// - Model retry policy hidden
// - Run log persistence and progress events hidden
// - Workspace ownership hidden

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/richinex/devstudio/action"
	"github.com/richinex/devstudio/llm"
	"github.com/richinex/devstudio/model"
	"github.com/richinex/devstudio/progress"
	"github.com/richinex/devstudio/storage"
	"github.com/richinex/devstudio/workspace"
)

// fatalOutputLimit bounds the raw output kept for the step that ended a run.
const fatalOutputLimit = 4000

// Workspace is what the loop needs from the project directory.
type Workspace interface {
	action.Workspace
	Root() string
	State() (model.WorkspaceState, error)
	Acquire() (*workspace.Lock, error)
}

// Agent runs one development loop against one workspace.
// An Agent runs once: its phases are Idle, Running and one terminal phase.
type Agent struct {
	goal    model.ProjectGoal
	config  Config
	ws      Workspace
	interp  *action.Interpreter
	source  ActionSource
	tracker progress.Tracker

	store     storage.RunStore
	provider  string
	modelName string
	events    chan<- Event
	logger    zerolog.Logger

	mu    sync.Mutex
	phase model.Phase

	runID      string
	usage      llm.TokenUsage
	modelCalls int
}

// New creates an agent for goal. The goal is copied and never changes.
func New(goal model.ProjectGoal, ws Workspace, commands action.CommandRunner, source ActionSource) *Agent {
	return &Agent{
		goal:    goal,
		config:  DefaultConfig(),
		ws:      ws,
		interp:  action.NewInterpreter(ws, commands),
		source:  source,
		tracker: progress.New(),
		logger:  zerolog.Nop(),
		phase:   model.PhaseIdle,
	}
}

// WithConfig overrides the loop configuration.
func (a *Agent) WithConfig(config Config) *Agent {
	a.config = config
	return a
}

// WithStore records the run and every iteration in store.
func (a *Agent) WithStore(store storage.RunStore, provider, modelName string) *Agent {
	a.store = store
	a.provider = provider
	a.modelName = modelName
	return a
}

// WithEvents streams progress to ch. Sends give up when the run context ends,
// and Run never closes ch.
func (a *Agent) WithEvents(ch chan<- Event) *Agent {
	a.events = ch
	return a
}

// WithLogger sets the logger.
func (a *Agent) WithLogger(logger zerolog.Logger) *Agent {
	a.logger = logger
	return a
}

// WithOutputLimit bounds the output recorded per step.
func (a *Agent) WithOutputLimit(n int) *Agent {
	a.interp.WithMaxOutputBytes(n)
	return a
}

// Goal returns the run's goal.
func (a *Agent) Goal() model.ProjectGoal {
	return a.goal
}

// Phase returns the current lifecycle phase.
func (a *Agent) Phase() model.Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

func (a *Agent) setPhase(p model.Phase) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
}

// run holds the state threaded through one execution.
type run struct {
	start   time.Time
	state   model.WorkspaceState
	records []model.IterationRecord
	note    string
	repeats repeatTracker
	// errorKind classifies the step that ended a failed or aborted run.
	errorKind model.ErrorKind
}

// Run executes the loop until the goal is met, the iteration cap is reached,
// the context is cancelled, or an unrecoverable error occurs.
//
// An error is returned only when the run cannot start: the agent already ran,
// the goal or configuration is invalid, or the workspace is held by another run
// (ErrWorkspaceBusy). Every other ending is reported in the Result.
func (a *Agent) Run(ctx context.Context) (Result, error) {
	a.mu.Lock()
	if a.phase != model.PhaseIdle {
		a.mu.Unlock()
		return Result{}, ErrAlreadyStarted
	}
	a.phase = model.PhaseRunning
	a.mu.Unlock()

	if err := a.goal.Validate(); err != nil {
		a.setPhase(model.PhaseFailed)
		return Result{}, err
	}
	if err := a.config.Validate(); err != nil {
		a.setPhase(model.PhaseFailed)
		return Result{}, fmt.Errorf("invalid agent configuration: %w", err)
	}

	lock, err := a.ws.Acquire()
	if err != nil {
		a.setPhase(model.PhaseFailed)
		return Result{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to release workspace lock")
		}
	}()

	if err := a.beginRun(ctx); err != nil {
		a.setPhase(model.PhaseFailed)
		return Result{}, err
	}

	r := &run{start: time.Now()}
	a.logger.Info().
		Str("run", a.runID).
		Str("root", a.ws.Root()).
		Str("target", a.goal.Target.String()).
		Int("target_loc", a.goal.TargetLOC).
		Int("max_iterations", a.goal.MaxIterations).
		Msg("run started")

	r.state, err = a.ws.State()
	if err != nil {
		r.errorKind = model.ErrorIO
		return a.finish(ctx, r, model.OutcomeFailed, fmt.Sprintf("workspace scan failed: %v", err), ""), nil
	}
	a.emit(ctx, Event{Kind: EventStarted, Phase: model.PhaseRunning, LOC: r.state.LOC, Message: a.goal.Description})

	for {
		if ctx.Err() != nil {
			r.errorKind = model.ErrorCancelled
			return a.finish(ctx, r, model.OutcomeAborted, "cancelled", ""), nil
		}

		met, why := a.tracker.IsGoalMet(progress.Snapshot{LOC: r.state.LOC, History: r.records}, a.goal)
		if met {
			return a.finish(ctx, r, model.OutcomeCompleted, why, ""), nil
		}
		if why != "" {
			r.note = why
		}
		if a.tracker.IsCapReached(len(r.records), a.goal) {
			reason := fmt.Sprintf("iteration cap reached (%d) at %d of %d lines",
				a.goal.MaxIterations, r.state.LOC, a.goal.TargetLOC)
			return a.finish(ctx, r, model.OutcomeAborted, reason, ""), nil
		}

		index := len(r.records) + 1
		act, reply, err := a.nextAction(ctx, a.buildRequest(r, index))
		if err != nil {
			if ctx.Err() != nil {
				r.errorKind = model.ErrorCancelled
				return a.finish(ctx, r, model.OutcomeAborted, "cancelled", ""), nil
			}
			r.errorKind = model.ErrorModelUnavailable
			if errors.Is(err, action.ErrParse) {
				r.errorKind = model.ErrorParse
			}
			fatal, _ := truncate(reply.Raw, fatalOutputLimit)
			return a.finish(ctx, r, model.OutcomeFailed, err.Error(), fatal), nil
		}
		r.note = ""

		rec, applyErr := a.interp.Apply(ctx, index, act)
		rec.Thought = reply.Thought

		if state, err := a.ws.State(); err == nil {
			r.state = state
		} else {
			a.logger.Warn().Err(err).Msg("workspace scan failed")
		}
		rec.LOC = r.state.LOC

		a.record(ctx, r, rec)

		if applyErr != nil {
			r.errorKind = rec.Outcome.ErrorKind
			reason := applyErr.Error()
			if errors.Is(applyErr, workspace.ErrPathEscape) {
				reason = "sandbox violation: " + reason
			}
			return a.finish(ctx, r, model.OutcomeFailed, reason, rec.Outcome.Error), nil
		}

		if n := r.repeats.observe(rec); n >= a.config.RepeatedErrorLimit {
			r.errorKind = model.ErrorIO
			reason := fmt.Sprintf("same file error repeated %d times in a row: %s", n, rec.Outcome.Error)
			return a.finish(ctx, r, model.OutcomeFailed, reason, rec.Outcome.Error), nil
		}
	}
}

// beginRun assigns the run ID and records the run.
func (a *Agent) beginRun(ctx context.Context) error {
	if a.store == nil {
		a.runID = uuid.New().String()
		return nil
	}
	created, err := a.store.CreateRun(ctx, storage.NewRunRecord(a.ws.Root(), a.goal, a.provider, a.modelName))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	a.runID = created.ID
	return nil
}

// buildRequest assembles the bounded context for iteration index.
func (a *Agent) buildRequest(r *run, index int) Request {
	history, omitted := historyWindow(r.records, a.config.HistoryWindow)

	files := r.state.Files
	filesOmitted := 0
	if a.config.MaxFiles > 0 && len(files) > a.config.MaxFiles {
		filesOmitted = len(files) - a.config.MaxFiles
		files = files[:a.config.MaxFiles]
	}

	return Request{
		Goal:           a.goal,
		Iteration:      index,
		LOC:            r.state.LOC,
		Files:          files,
		FilesOmitted:   filesOmitted,
		History:        history,
		HistoryOmitted: omitted,
		LastOutput:     lastOutput(r.records, a.config.OutputWindow),
		Note:           r.note,
	}
}

// nextAction asks the source for one action, re-asking after malformed
// replies and retrying failed calls with backoff.
func (a *Agent) nextAction(ctx context.Context, req Request) (action.Action, Reply, error) {
	parseFailures := 0
	modelFailures := 0

	for {
		callCtx, cancel := context.WithTimeout(ctx, a.config.ModelTimeout)
		started := time.Now()
		act, reply, err := a.source.NextAction(callCtx, req)
		cancel()
		if err == nil && act == nil {
			err = &action.ParseError{Reason: "reply carried no action", Raw: reply.Raw}
		}

		a.modelCalls++
		a.usage.Add(reply.Usage)

		if err == nil {
			a.logger.Debug().
				Int("iteration", req.Iteration).
				Dur("latency", time.Since(started)).
				Str("action", string(act.Kind())).
				Msg("model replied")
			return act, reply, nil
		}
		if ctx.Err() != nil {
			return nil, reply, ctx.Err()
		}

		if errors.Is(err, action.ErrParse) {
			parseFailures++
			if parseFailures > a.config.ParseRetries {
				return nil, reply, fmt.Errorf("%d malformed replies in a row: %w", parseFailures, err)
			}
			a.logger.Warn().Err(err).Int("iteration", req.Iteration).Int("attempt", parseFailures).Msg("malformed reply, asking again")
			a.emit(ctx, Event{Kind: EventRetry, Iteration: req.Iteration, Phase: model.PhaseRunning, Message: err.Error()})

			req.RejectedReply, _ = truncate(reply.Raw, a.config.OutputWindow)
			req.Clarification = clarification(err)
			continue
		}

		modelFailures++
		if !errors.Is(err, ErrModelUnavailable) {
			err = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		if modelFailures > a.config.ModelRetries {
			return nil, reply, fmt.Errorf("gave up after %d attempts: %w", modelFailures, err)
		}
		a.logger.Warn().Err(err).Int("iteration", req.Iteration).Int("attempt", modelFailures).Msg("model call failed, retrying")
		a.emit(ctx, Event{Kind: EventRetry, Iteration: req.Iteration, Phase: model.PhaseRunning, Message: err.Error()})

		select {
		case <-ctx.Done():
			return nil, reply, ctx.Err()
		case <-time.After(calculateBackoff(modelFailures)):
		}
	}
}

// calculateBackoff returns the backoff duration for the given attempt.
func calculateBackoff(attempt int) time.Duration {
	const (
		baseDelay = 100 * time.Millisecond
		maxDelay  = 5 * time.Second
	)

	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func clarification(err error) string {
	reason := err.Error()
	var perr *action.ParseError
	if errors.As(err, &perr) {
		reason = perr.Reason
	}
	return fmt.Sprintf(`Your previous reply could not be used (%s).
Reply again with exactly one JSON object holding "thought" and a single "action", and nothing else:
%s`, reason, action.ReplyFormat)
}

// record appends rec to the history, persists it and reports it.
func (a *Agent) record(ctx context.Context, r *run, rec model.IterationRecord) {
	r.records = append(r.records, rec)

	event := a.logger.Info()
	if !rec.Succeeded() {
		event = a.logger.Warn().Str("error_kind", string(rec.Outcome.ErrorKind))
	}
	event.Int("iteration", rec.Index).
		Str("action", string(rec.Kind)).
		Str("subject", rec.Subject).
		Int("loc", rec.LOC).
		Dur("took", rec.Duration).
		Msg("iteration")

	if a.store != nil {
		if err := a.store.AppendIteration(context.WithoutCancel(ctx), a.runID, rec); err != nil {
			a.logger.Warn().Err(err).Int("iteration", rec.Index).Msg("failed to record iteration")
		}
	}

	a.emit(ctx, Event{
		Kind:      EventIteration,
		Iteration: rec.Index,
		Phase:     model.PhaseRunning,
		LOC:       rec.LOC,
		Record:    &rec,
	})
}

// finish moves the agent to its terminal phase and builds the result.
func (a *Agent) finish(ctx context.Context, r *run, outcome model.RunOutcome, reason, fatalOutput string) Result {
	phase := model.PhaseFor(outcome)
	a.setPhase(phase)

	records := make([]model.IterationRecord, len(r.records))
	copy(records, r.records)

	result := Result{
		RunID:       a.runID,
		Outcome:     outcome,
		Reason:      reason,
		Records:     records,
		LOC:         r.state.LOC,
		Duration:    time.Since(r.start),
		FatalOutput: fatalOutput,
		ErrorKind:   r.errorKind,
		Usage:       a.usage,
		ModelCalls:  a.modelCalls,
	}

	if a.store != nil {
		if err := a.store.FinishRun(context.WithoutCancel(ctx), a.runID, outcome, reason, result.LOC); err != nil {
			a.logger.Warn().Err(err).Msg("failed to record run outcome")
		}
	}

	event := a.logger.Info()
	if outcome == model.OutcomeFailed {
		event = a.logger.Error()
	}
	event.Str("run", a.runID).
		Str("outcome", outcome.String()).
		Str("error_kind", string(r.errorKind)).
		Int("iterations", len(records)).
		Int("loc", result.LOC).
		Dur("took", result.Duration).
		Msg(reason)

	a.emit(ctx, Event{
		Kind:      EventFinished,
		Iteration: len(records),
		Phase:     phase,
		LOC:       result.LOC,
		Message:   reason,
	})
	return result
}

// emit sends an event unless nobody listens or the run context has ended.
// A cancelled run still delivers to a consumer that is ready.
func (a *Agent) emit(ctx context.Context, ev Event) {
	if a.events == nil {
		return
	}
	ev.RunID = a.runID
	ev.Time = time.Now()

	select {
	case a.events <- ev:
		return
	default:
	}
	select {
	case a.events <- ev:
	case <-ctx.Done():
	}
}

// repeatTracker counts consecutive identical file errors.
type repeatTracker struct {
	last  uint64
	count int
}

// observe returns how many times in a row rec's file error has been seen,
// or 0 when rec is not a file error.
func (t *repeatTracker) observe(rec model.IterationRecord) int {
	if rec.Outcome.ErrorKind != model.ErrorIO {
		t.last, t.count = 0, 0
		return 0
	}
	fp := fingerprint(rec)
	if fp == t.last && t.count > 0 {
		t.count++
	} else {
		t.last, t.count = fp, 1
	}
	return t.count
}

func fingerprint(rec model.IterationRecord) uint64 {
	return xxhash.Sum64String(strings.Join([]string{
		string(rec.Kind), rec.Subject, rec.Outcome.Error,
	}, "\x00"))
}
