// Command execution for CLI commands.
//
// Information Hiding:
// - Settings resolution and flag overrides hidden
// - Run goroutine and event consumption hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinex/devstudio/agent"
	"github.com/richinex/devstudio/config"
	"github.com/richinex/devstudio/internal/logging"
	"github.com/richinex/devstudio/llm"
	"github.com/richinex/devstudio/model"
	"github.com/richinex/devstudio/storage"
	"github.com/richinex/devstudio/workspace"
)

// pingTimeout bounds the reachability check before a run.
const pingTimeout = 5 * time.Second

// ErrRunIncomplete is returned when a run ends Aborted or Failed.
var ErrRunIncomplete = errors.New("run did not complete")

// Options holds CLI execution options. Zero values leave the loaded settings alone.
type Options struct {
	ConfigPath    string
	Provider      string
	Model         string
	BaseURL       string
	Target        string
	Workspace     string
	TargetLOC     int
	MaxIterations int
	Verbose       bool

	// Out receives command output; nil means stdout.
	Out io.Writer
	// Logs receives log lines; nil means stderr.
	Logs io.Writer
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

// LoadSettings resolves settings and applies the flag overrides in opts.
func LoadSettings(opts Options) (config.Settings, error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Settings{}, err
	}

	if opts.Provider != "" {
		settings.LLM.Provider = opts.Provider
	}
	if opts.Model != "" {
		settings.LLM.Model = opts.Model
	}
	if opts.BaseURL != "" {
		settings.LLM.BaseURL = opts.BaseURL
	}
	if opts.Target != "" {
		settings.Agent.Target = opts.Target
	}
	if opts.Workspace != "" {
		settings.Workspace.Root = opts.Workspace
	}
	if opts.TargetLOC != 0 {
		settings.Agent.TargetLOC = opts.TargetLOC
	}
	if opts.MaxIterations != 0 {
		settings.Agent.MaxIterations = opts.MaxIterations
	}
	if opts.Verbose {
		settings.Log.Level = "debug"
	}

	if err := settings.Validate(); err != nil {
		return config.Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

func newLogger(settings config.Settings, opts Options) (zerolog.Logger, error) {
	return logging.New(logging.Options{
		Level:  settings.Log.Level,
		Format: settings.Log.Format,
		Writer: opts.Logs,
	})
}

// RunOptions are the run-only flags.
type RunOptions struct {
	// SystemPromptFile replaces the built-in instructions with the file's content.
	SystemPromptFile string
	// SourceOnly counts lines only in the target language's files.
	SourceOnly bool
}

// Run drives one development loop for description until it ends.
// Cancelling ctx stops the loop cooperatively and the partial result is printed.
func Run(ctx context.Context, description string, runOpts RunOptions, opts Options) error {
	settings, err := LoadSettings(opts)
	if err != nil {
		return err
	}
	goal, err := settings.Goal(description)
	if err != nil {
		return err
	}
	logger, err := newLogger(settings, opts)
	if err != nil {
		return err
	}

	var systemPrompt string
	if runOpts.SystemPromptFile != "" {
		data, err := os.ReadFile(runOpts.SystemPromptFile)
		if err != nil {
			return fmt.Errorf("read system prompt: %w", err)
		}
		systemPrompt = string(data)
	}

	provider, err := createProvider(settings)
	if err != nil {
		return err
	}

	ws, err := openWorkspace(settings, goal, runOpts.SourceOnly)
	if err != nil {
		return err
	}

	store, err := storage.OpenSqlite(settings.DatabasePath(ws.MetaDir()))
	if err != nil {
		return err
	}
	defer store.Close()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	if err := llm.NewClient(provider).Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Str("provider", describeProvider(provider)).Msg("model runtime did not answer")
	}
	cancel()

	out := opts.out()
	fmt.Fprintf(out, "Building %s project in %s with %s\n", goal.Target.DisplayName(), ws.Root(), describeProvider(provider))
	fmt.Fprintf(out, "Target: %d lines, at most %d iterations\n\n", goal.TargetLOC, goal.MaxIterations)

	events := make(chan agent.Event, 16)
	a := CreateAgent(settings, goal, ws, provider, store, logger, systemPrompt).WithEvents(events)

	type runResult struct {
		result agent.Result
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		res, err := a.Run(ctx)
		done <- runResult{res, err}
	}()

	var finished runResult
	for waiting := true; waiting; {
		select {
		case ev := <-events:
			printEvent(out, ev, opts.Verbose)
		case finished = <-done:
			waiting = false
		}
	}
	for drained := false; !drained; {
		select {
		case ev := <-events:
			printEvent(out, ev, opts.Verbose)
		default:
			drained = true
		}
	}

	if finished.err != nil {
		return finished.err
	}
	printResult(out, finished.result)
	if !finished.result.Succeeded() {
		return fmt.Errorf("%w: %s", ErrRunIncomplete, finished.result.Summary())
	}
	return nil
}

// History prints recorded runs, or the iterations of one run when runID is set.
// A run id may be abbreviated to any unique prefix.
func History(ctx context.Context, runID string, limit int, opts Options) error {
	settings, err := LoadSettings(opts)
	if err != nil {
		return err
	}

	out := opts.out()
	dbPath := settings.DatabasePath(filepath.Join(settings.Workspace.Root, workspace.ReservedDir))
	if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	store, err := storage.OpenSqlite(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if runID == "" {
		runs, err := store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded.")
			return nil
		}
		for _, run := range runs {
			printRun(out, run)
		}
		return nil
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	records, err := store.Iterations(ctx, run.ID)
	if err != nil {
		return err
	}

	printRun(out, run)
	fmt.Fprintf(out, "  %s\n\n", run.Description)
	for _, rec := range records {
		printRecord(out, rec, opts.Verbose)
	}
	return nil
}

// Models lists the models available on the configured local runtime.
func Models(ctx context.Context, opts Options) error {
	settings, err := LoadSettings(opts)
	if err != nil {
		return err
	}
	provider, err := createProvider(settings)
	if err != nil {
		return err
	}
	lister, ok := provider.(llm.ModelLister)
	if !ok {
		return fmt.Errorf("provider %s cannot list models", provider.Name())
	}

	models, err := lister.ListModels(ctx)
	if err != nil {
		return err
	}

	out := opts.out()
	if len(models) == 0 {
		fmt.Fprintf(out, "No models found on %s.\n", provider.Name())
		return nil
	}
	for _, m := range models {
		line := m.Name
		if m.Parameters != "" || m.Quantization != "" {
			line += fmt.Sprintf("  (%s %s)", m.Parameters, m.Quantization)
		}
		if m.Size > 0 {
			line += fmt.Sprintf("  %.1f GB", float64(m.Size)/1e9)
		}
		if m.Name == settings.LLM.Model {
			line += "  [configured]"
		}
		fmt.Fprintln(out, strings.TrimSpace(line))
	}
	return nil
}

// Clean removes the project directory after confirmation read from in,
// unless yes is set. It refuses while a run holds the workspace.
func Clean(yes bool, in io.Reader, opts Options) error {
	settings, err := LoadSettings(opts)
	if err != nil {
		return err
	}

	out := opts.out()
	root := settings.Workspace.Root
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(out, "Nothing to clean: %s does not exist.\n", root)
		return nil
	}

	ws, err := workspace.New(root)
	if err != nil {
		return err
	}
	if err := refuseEnclosing(ws.Root()); err != nil {
		return err
	}

	if !yes {
		fmt.Fprintf(out, "Remove %s and everything in it? [y/N] ", ws.Root())
		answer, _ := bufio.NewReader(in).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	lock, err := ws.Acquire()
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := os.RemoveAll(ws.Root()); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	fmt.Fprintf(out, "Removed %s\n", ws.Root())
	return nil
}

// Unlock clears a lock left behind by a crashed run.
func Unlock(opts Options) error {
	settings, err := LoadSettings(opts)
	if err != nil {
		return err
	}

	out := opts.out()
	if _, err := os.Stat(settings.Workspace.Root); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(out, "No workspace at %s.\n", settings.Workspace.Root)
		return nil
	}
	ws, err := workspace.New(settings.Workspace.Root)
	if err != nil {
		return err
	}

	removed, err := ws.ForceUnlock()
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(out, "Removed stale lock in %s\n", ws.Root())
	} else {
		fmt.Fprintf(out, "%s is not locked.\n", ws.Root())
	}
	return nil
}

// refuseEnclosing rejects removing a directory that contains the working directory.
func refuseEnclosing(root string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	if real, err := filepath.EvalSymlinks(cwd); err == nil {
		cwd = real
	}
	if encloses(root, cwd) {
		return fmt.Errorf("refusing to remove %s: it contains the working directory", root)
	}
	return nil
}

// encloses reports whether path is root or lies below it.
func encloses(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func printEvent(out io.Writer, ev agent.Event, verbose bool) {
	switch ev.Kind {
	case agent.EventStarted:
		fmt.Fprintf(out, "Run %s started (%d lines present)\n", shortID(ev.RunID), ev.LOC)
	case agent.EventIteration:
		if ev.Record != nil {
			printRecord(out, *ev.Record, verbose)
		}
	case agent.EventRetry:
		fmt.Fprintf(out, "  retry: %s\n", ev.Message)
	case agent.EventFinished:
		fmt.Fprintf(out, "\nRun %s %s\n", shortID(ev.RunID), ev.Phase)
	}
}

func printRecord(out io.Writer, rec model.IterationRecord, verbose bool) {
	status := "ok"
	if !rec.Succeeded() {
		status = "FAILED"
		if rec.Outcome.ErrorKind != "" {
			status += " (" + string(rec.Outcome.ErrorKind) + ")"
		}
	}
	fmt.Fprintf(out, "[%3d] %-60s %-8s %d LOC\n", rec.Index, truncateString(rec.Label(), 60), status, rec.LOC)
	if rec.Thought != "" {
		fmt.Fprintf(out, "      %s\n", truncateString(rec.Thought, 100))
	}
	if verbose && rec.Outcome.Output != "" {
		fmt.Fprintf(out, "      %s\n", strings.ReplaceAll(strings.TrimSpace(rec.Outcome.Output), "\n", "\n      "))
	}
	if verbose && rec.Outcome.Error != "" {
		fmt.Fprintf(out, "      error: %s\n", rec.Outcome.Error)
	}
}

func printRun(out io.Writer, run storage.RunRecord) {
	status := run.Status
	if run.Reason != "" {
		status += ": " + run.Reason
	}
	fmt.Fprintf(out, "%s  %s  %-6s %4d iters %7d LOC  %s\n",
		shortID(run.ID), run.StartedAt.Local().Format(time.DateTime), run.Target,
		run.Iterations, run.FinalLOC, truncateString(status, 60))
}

func printResult(out io.Writer, result agent.Result) {
	fmt.Fprintf(out, "Outcome:    %s\n", result.Outcome)
	fmt.Fprintf(out, "Reason:     %s\n", result.Reason)
	if result.ErrorKind != model.ErrorNone {
		fmt.Fprintf(out, "Error:      %s\n", result.ErrorKind)
	}
	fmt.Fprintf(out, "Iterations: %d\n", len(result.Records))
	fmt.Fprintf(out, "Lines:      %d\n", result.LOC)
	fmt.Fprintf(out, "Duration:   %s\n", result.Duration.Round(time.Second))
	if result.ModelCalls > 0 {
		fmt.Fprintf(out, "Model:      %d calls, %d tokens\n", result.ModelCalls, result.Usage.TotalTokens)
	}
	if result.FatalOutput != "" {
		fmt.Fprintf(out, "\nLast output:\n%s\n", result.FatalOutput)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncateString truncates a string to maxLen characters.
func truncateString(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
