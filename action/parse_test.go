package action

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/devstudio/model"
)

func TestParseEnvelope(t *testing.T) {
	raw := `{"thought": "start with the entry point", "action": {"type": "create_file", "path": "main.py", "content": "print(1)\n"}}`

	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "start with the entry point", d.Thought)
	assert.Equal(t, CreateFile{Path: "main.py", Content: "print(1)\n"}, d.Action)
}

func TestParseFencedWithChatter(t *testing.T) {
	raw := "Sure! Here is my next step:\n```json\n{\"thought\": \"build\", \"action\": {\"type\": \"run_command\", \"command\": \"cmake -S . -B build\", \"timeout_seconds\": 300}}\n```"

	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, RunCommand{Command: "cmake -S . -B build", TimeoutSecs: 300}, d.Action)
}

func TestParseBareAction(t *testing.T) {
	d, err := Parse(`{"type": "read_file", "path": "src/app.py"}`)
	require.NoError(t, err)
	assert.Equal(t, ReadFile{Path: "src/app.py"}, d.Action)
	assert.Empty(t, d.Thought)
}

func TestParseLegacyActionsArray(t *testing.T) {
	raw := `{"summary": "run the tests", "actions": [{"type": "run", "cmd": "pytest -q"}]}`

	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "run the tests", d.Thought)
	assert.Equal(t, RunCommand{Command: "pytest -q"}, d.Action)
}

func TestParseAliases(t *testing.T) {
	cases := map[string]model.ActionKind{
		`{"action": {"type": "done", "reason": "ok"}}`:                     model.ActionFinish,
		`{"action": {"type": "mkdir", "path": "src"}}`:                     model.ActionMakeDir,
		`{"action": {"type": "APPEND_FILE", "path": "a", "content": "x"}}`: model.ActionAppendFile,
		`{"action": {"type": "delete_file", "path": "old.py"}}`:            model.ActionDeleteFile,
		`{"action": {"type": "write_file", "path": "a", "content": ""}}`:   model.ActionWriteFile,
	}
	for raw, kind := range cases {
		d, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, kind, d.Action.Kind(), raw)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"plain text, no json":   "I will now write the file.",
		"unknown type":          `{"action": {"type": "launch_rocket"}}`,
		"missing type":          `{"action": {"path": "a.py"}}`,
		"missing path":          `{"action": {"type": "write_file", "content": "x"}}`,
		"missing content":       `{"action": {"type": "create_file", "path": "a.py"}}`,
		"missing command":       `{"action": {"type": "run_command"}}`,
		"negative timeout":      `{"action": {"type": "run_command", "command": "ls", "timeout_seconds": -1}}`,
		"two actions":           `{"actions": [{"type": "mkdir", "path": "a"}, {"type": "mkdir", "path": "b"}]}`,
		"empty actions":         `{"actions": []}`,
		"no action at all":      `{"thought": "hmm"}`,
		"null action":           `{"thought": "hmm", "action": null}`,
		"action is not object":  `{"action": "write_file"}`,
		"truncated json object": `{"thought": "cut off", "action": {"type": "write_file", "path": "a.py", "content": "x`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrParse))

			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, raw, perr.Raw)
			assert.NotEmpty(t, perr.Reason)
		})
	}
}

func TestDescribeListsEveryAction(t *testing.T) {
	desc := Describe()
	for _, spec := range Vocabulary() {
		assert.Contains(t, desc, "Action: "+string(spec.Kind))
	}
	assert.Contains(t, desc, "command (string): Shell command line [required]")
}
