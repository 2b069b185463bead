package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/devstudio/config"
	"github.com/richinex/devstudio/model"
	"github.com/richinex/devstudio/runner"
	"github.com/richinex/devstudio/workspace"
)

// fakeOllama writes an ollama stand-in that answers every `run` with reply
// and every `list` with a two-model table.
func fakeOllama(t *testing.T, reply string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	script := fmt.Sprintf(`#!/bin/sh
if [ "$1" = "list" ]; then
  printf 'NAME ID SIZE MODIFIED\nllama3.1:latest 42182419e950 4.7 GB 2 days ago\nqwen2.5-coder:7b 2b0496514337 4.7 GB 3 weeks ago\n'
  exit 0
fi
cat > /dev/null
printf '%%s\n' '%s'
`, reply)
	path := filepath.Join(t.TempDir(), "ollama")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

// testEnv moves into a fresh directory and writes a config file pointing at
// a workspace inside it. It returns the options and the workspace root.
func testEnv(t *testing.T, binary string) (Options, string) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{"DEVSTUDIO_PROVIDER", "DEVSTUDIO_MODEL", "DEVSTUDIO_WORKSPACE", "DEVSTUDIO_DATABASE", "DEVSTUDIO_TARGET_LOC", "DEVSTUDIO_MAX_ITERATIONS", "DEVSTUDIO_ALLOWED_COMMANDS", "DEVSTUDIO_SKIP_DIRS", "DEVSTUDIO_COUNT_EXTENSIONS"} {
		t.Setenv(key, "")
	}

	root := filepath.Join(dir, "project")
	cfg := fmt.Sprintf(`llm:
  provider: ollama-cli
  binary: %q
workspace:
  root: %q
log:
  format: json
`, binary, root)
	cfgPath := filepath.Join(dir, "devstudio.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	return Options{
		ConfigPath: cfgPath,
		Out:        &bytes.Buffer{},
		Logs:       &bytes.Buffer{},
	}, root
}

func output(opts Options) string {
	return opts.Out.(*bytes.Buffer).String()
}

func TestLoadSettingsAppliesOverrides(t *testing.T) {
	opts, _ := testEnv(t, "ollama")
	opts.Provider = "openai-compat"
	opts.Model = "qwen2.5-coder:7b"
	opts.BaseURL = "http://127.0.0.1:8080/v1"
	opts.Target = "cpp"
	opts.TargetLOC = 900
	opts.MaxIterations = 12
	opts.Verbose = true

	settings, err := LoadSettings(opts)
	require.NoError(t, err)

	assert.Equal(t, "openai-compat", settings.LLM.Provider)
	assert.Equal(t, "qwen2.5-coder:7b", settings.LLM.Model)
	assert.Equal(t, "http://127.0.0.1:8080/v1", settings.LLM.BaseURL)
	assert.Equal(t, "cpp", settings.Agent.Target)
	assert.Equal(t, 900, settings.Agent.TargetLOC)
	assert.Equal(t, 12, settings.Agent.MaxIterations)
	assert.Equal(t, "debug", settings.Log.Level)
}

func TestLoadSettingsRejectsInvalidOverride(t *testing.T) {
	opts, _ := testEnv(t, "ollama")
	opts.Target = "rust"

	_, err := LoadSettings(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestAgentConfigFromSettings(t *testing.T) {
	settings := config.Default()
	settings.Agent.ParseRetries = 5
	settings.Agent.RepeatedErrorLimit = 7
	settings.LLM.Timeout = 42 * time.Second

	cfg := agentConfig(settings)
	assert.Equal(t, settings.Agent.HistoryWindow, cfg.HistoryWindow)
	assert.Equal(t, settings.Agent.OutputWindow, cfg.OutputWindow)
	assert.Equal(t, 5, cfg.ParseRetries)
	assert.Equal(t, settings.Agent.ModelRetries, cfg.ModelRetries)
	assert.Equal(t, 7, cfg.RepeatedErrorLimit)
	assert.Equal(t, 42*time.Second, cfg.ModelTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestCreateProvider(t *testing.T) {
	settings := config.Default()
	settings.LLM.Provider = "ollama-cli"
	settings.LLM.Model = "qwen2.5-coder:7b"

	p, err := createProvider(settings)
	require.NoError(t, err)
	assert.Equal(t, "ollama-cli/qwen2.5-coder:7b", describeProvider(p))

	settings.LLM.Provider = "hosted"
	_, err = createProvider(settings)
	assert.Error(t, err)
}

func TestOpenWorkspaceAppliesSettings(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"main.py":       "x = 1\ny = 2\n",
		"notes.txt":     "one\ntwo\nthree\n",
		"vendor/lib.py": "1\n2\n3\n4\n5\n",
		"build/gen.py":  "1\n2\n3\n4\n5\n6\n7\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	settings := config.Default()
	settings.Workspace.Root = root
	settings.Workspace.CountExtensions = []string{"py"}
	settings.Workspace.MaxReadBytes = 4
	settings.Workspace.SkipDirs = []string{"vendor"}
	goal := model.ProjectGoal{Description: "x", Target: model.TargetPython, TargetLOC: 10, MaxIterations: 1}

	ws, err := openWorkspace(settings, goal, false)
	require.NoError(t, err)

	loc, err := ws.CountLines()
	require.NoError(t, err)
	assert.Equal(t, 9, loc, "main.py and build/gen.py only")

	_, err = ws.ReadFile("main.py")
	assert.ErrorIs(t, err, workspace.ErrFileTooLarge)

	settings.Workspace.CountExtensions = []string{"txt"}
	ws, err = openWorkspace(settings, goal, true)
	require.NoError(t, err)
	loc, err = ws.CountLines()
	require.NoError(t, err)
	assert.Equal(t, 9, loc, "source-only counts the goal's language")
}

func TestNewRunnerAppliesSettings(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell expansion")
	}
	settings := config.Default()
	settings.Runner.AllowedCommands = []string{"echo"}
	settings.Runner.Env = []string{"GREETING=hi"}

	r := newRunner(settings, t.TempDir())

	res, err := r.Run(context.Background(), "echo $GREETING", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", res.Stdout)

	_, err = r.Run(context.Background(), "ls", time.Second)
	assert.ErrorIs(t, err, runner.ErrCommandNotAllowed)
}

func TestRunCompletesAndIsRecorded(t *testing.T) {
	binary := fakeOllama(t, `{"thought":"entry point","action":{"type":"write_file","path":"main.py","content":"print(1)"}}`)
	opts, root := testEnv(t, binary)
	opts.TargetLOC = 1
	opts.MaxIterations = 3

	err := Run(context.Background(), "print a number", RunOptions{}, opts)
	require.NoError(t, err)

	out := output(opts)
	assert.Contains(t, out, "Outcome:    completed")
	assert.Contains(t, out, "write_file main.py")
	assert.FileExists(t, filepath.Join(root, "main.py"))
	assert.NoDirExists(t, filepath.Join(root, workspace.ReservedDir, "lock"))

	opts.Out = &bytes.Buffer{}
	require.NoError(t, History(context.Background(), "", 10, opts))
	listing := output(opts)
	assert.Contains(t, listing, "completed")
	assert.Contains(t, listing, "python")

	runID := strings.Fields(listing)[0]
	opts.Out = &bytes.Buffer{}
	require.NoError(t, History(context.Background(), runID, 10, opts))
	detail := output(opts)
	assert.Contains(t, detail, "print a number")
	assert.Contains(t, detail, "[  1] write_file main.py")
	assert.Contains(t, detail, "entry point")
}

func TestRunIncompleteIsAnError(t *testing.T) {
	binary := fakeOllama(t, `{"type":"write_file","path":"main.py","content":"print(1)"}`)
	opts, _ := testEnv(t, binary)
	opts.TargetLOC = 100
	opts.MaxIterations = 1

	err := Run(context.Background(), "print a number", RunOptions{}, opts)
	require.ErrorIs(t, err, ErrRunIncomplete)
	assert.Contains(t, err.Error(), "aborted")
	assert.Contains(t, output(opts), "Outcome:    aborted")
}

func TestRunReportsErrorKind(t *testing.T) {
	binary := fakeOllama(t, `sure, here is the code`)
	opts, _ := testEnv(t, binary)

	err := Run(context.Background(), "print a number", RunOptions{}, opts)
	require.ErrorIs(t, err, ErrRunIncomplete)
	out := output(opts)
	assert.Contains(t, out, "Outcome:    failed")
	assert.Contains(t, out, "Error:      parse")
}

func TestRunBusyWorkspace(t *testing.T) {
	binary := fakeOllama(t, `{"type":"finish"}`)
	opts, root := testEnv(t, binary)

	ws, err := workspace.New(root)
	require.NoError(t, err)
	lock, err := ws.Acquire()
	require.NoError(t, err)
	defer lock.Release()

	err = Run(context.Background(), "print a number", RunOptions{}, opts)
	assert.ErrorIs(t, err, workspace.ErrWorkspaceBusy)
}

func TestRunSystemPromptFileMissing(t *testing.T) {
	opts, _ := testEnv(t, "ollama")

	err := Run(context.Background(), "anything", RunOptions{SystemPromptFile: "missing.txt"}, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read system prompt")
}

func TestHistoryWithoutRuns(t *testing.T) {
	opts, _ := testEnv(t, "ollama")

	require.NoError(t, History(context.Background(), "", 10, opts))
	assert.Contains(t, output(opts), "No runs recorded.")
}

func TestModelsListsRuntimeModels(t *testing.T) {
	binary := fakeOllama(t, "{}")
	opts, _ := testEnv(t, binary)
	opts.Model = "qwen2.5-coder:7b"

	require.NoError(t, Models(context.Background(), opts))
	out := output(opts)
	assert.Contains(t, out, "llama3.1:latest")
	assert.Contains(t, out, "qwen2.5-coder:7b  [configured]")
}

func TestUnlock(t *testing.T) {
	opts, root := testEnv(t, "ollama")

	require.NoError(t, Unlock(opts))
	assert.Contains(t, output(opts), "No workspace")

	require.NoError(t, os.MkdirAll(filepath.Join(root, workspace.ReservedDir, "lock"), 0755))
	opts.Out = &bytes.Buffer{}
	require.NoError(t, Unlock(opts))
	assert.Contains(t, output(opts), "Removed stale lock")

	opts.Out = &bytes.Buffer{}
	require.NoError(t, Unlock(opts))
	assert.Contains(t, output(opts), "is not locked")
}

func TestCleanAsksFirst(t *testing.T) {
	opts, root := testEnv(t, "ollama")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("x = 1\n"), 0644))

	require.NoError(t, Clean(false, strings.NewReader("n\n"), opts))
	assert.Contains(t, output(opts), "Aborted.")
	assert.FileExists(t, filepath.Join(root, "main.py"))

	opts.Out = &bytes.Buffer{}
	require.NoError(t, Clean(false, strings.NewReader("yes\n"), opts))
	assert.NoDirExists(t, root)

	opts.Out = &bytes.Buffer{}
	require.NoError(t, Clean(true, nil, opts))
	assert.Contains(t, output(opts), "Nothing to clean")
}

func TestCleanRefusesBusyWorkspace(t *testing.T) {
	opts, root := testEnv(t, "ollama")
	ws, err := workspace.New(root)
	require.NoError(t, err)
	lock, err := ws.Acquire()
	require.NoError(t, err)
	defer lock.Release()

	err = Clean(true, nil, opts)
	assert.ErrorIs(t, err, workspace.ErrWorkspaceBusy)
	assert.DirExists(t, root)
}

func TestCleanRefusesWorkingDirectory(t *testing.T) {
	opts, _ := testEnv(t, "ollama")
	opts.Workspace = "."

	err := Clean(true, nil, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains the working directory")
}

func TestEncloses(t *testing.T) {
	root := filepath.FromSlash("/srv/proj")
	tests := []struct {
		path string
		want bool
	}{
		{"/srv/proj", true},
		{"/srv/proj/src", true},
		{"/srv/proj/..cache", true},
		{"/srv", false},
		{"/srv/other", false},
		{"/srv/proj2", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, encloses(root, filepath.FromSlash(tt.path)))
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcdefg...", truncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "two lines", truncateString("two\nlines", 20))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
}
