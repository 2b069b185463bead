package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonutil "github.com/richinex/devstudio/internal/json"
	"github.com/richinex/devstudio/model"
)

// ErrParse marks a model reply that could not be turned into exactly one action.
var ErrParse = errors.New("malformed model reply")

// ParseError describes why a reply was rejected. It unwraps to ErrParse.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", ErrParse.Error(), e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// envelope accepts {"thought", "action"}, the older {"summary", "actions": [...]}
// shape, and a bare action object.
type envelope struct {
	Thought string            `json:"thought"`
	Summary string            `json:"summary"`
	Action  json.RawMessage   `json:"action"`
	Actions []json.RawMessage `json:"actions"`
	Type    string            `json:"type"`
}

type rawAction struct {
	Type           string  `json:"type"`
	Path           string  `json:"path"`
	Content        *string `json:"content"`
	Command        string  `json:"command"`
	Cmd            string  `json:"cmd"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	Reason         string  `json:"reason"`
}

var kindAliases = map[string]model.ActionKind{
	"create_file": model.ActionCreateFile,
	"create":      model.ActionCreateFile,
	"write_file":  model.ActionWriteFile,
	"write":       model.ActionWriteFile,
	"append_file": model.ActionAppendFile,
	"append":      model.ActionAppendFile,
	"make_dir":    model.ActionMakeDir,
	"mkdir":       model.ActionMakeDir,
	"create_dir":  model.ActionMakeDir,
	"delete_file": model.ActionDeleteFile,
	"delete":      model.ActionDeleteFile,
	"read_file":   model.ActionReadFile,
	"read":        model.ActionReadFile,
	"run_command": model.ActionRunCommand,
	"run":         model.ActionRunCommand,
	"shell":       model.ActionRunCommand,
	"finish":      model.ActionFinish,
	"done":        model.ActionFinish,
}

// Parse turns raw model output into a Decision. Any failure is a *ParseError.
func Parse(raw string) (Decision, error) {
	extracted, err := jsonutil.ExtractObject(raw)
	if err != nil {
		return Decision{}, &ParseError{Reason: "reply does not contain a JSON object", Raw: raw}
	}

	var env envelope
	if err := json.Unmarshal([]byte(extracted), &env); err != nil {
		return Decision{}, &ParseError{Reason: fmt.Sprintf("reply is not a JSON object: %v", err), Raw: raw}
	}

	thought := strings.TrimSpace(env.Thought)
	if thought == "" {
		thought = strings.TrimSpace(env.Summary)
	}

	var payload json.RawMessage
	switch {
	case len(env.Action) > 0 && !bytes.Equal(bytes.TrimSpace(env.Action), []byte("null")):
		payload = env.Action
	case env.Actions != nil:
		if len(env.Actions) != 1 {
			return Decision{}, &ParseError{
				Reason: fmt.Sprintf("expected exactly one action, got %d", len(env.Actions)),
				Raw:    raw,
			}
		}
		payload = env.Actions[0]
	case env.Type != "":
		payload = json.RawMessage(extracted)
	default:
		return Decision{}, &ParseError{Reason: `missing "action" object`, Raw: raw}
	}

	act, err := decodeAction(payload)
	if err != nil {
		return Decision{}, &ParseError{Reason: err.Error(), Raw: raw}
	}
	return Decision{Thought: thought, Action: act}, nil
}

func decodeAction(payload json.RawMessage) (Action, error) {
	var ra rawAction
	if err := json.Unmarshal(payload, &ra); err != nil {
		return nil, fmt.Errorf("action is not an object: %v", err)
	}

	name := strings.ToLower(strings.TrimSpace(ra.Type))
	if name == "" {
		return nil, errors.New(`action has no "type"`)
	}
	kind, ok := kindAliases[name]
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", ra.Type)
	}

	path := strings.TrimSpace(ra.Path)
	needPath := func() error {
		if path == "" {
			return fmt.Errorf("%s requires \"path\"", kind)
		}
		return nil
	}
	needContent := func() (string, error) {
		if err := needPath(); err != nil {
			return "", err
		}
		if ra.Content == nil {
			return "", fmt.Errorf("%s requires \"content\"", kind)
		}
		return *ra.Content, nil
	}

	switch kind {
	case model.ActionCreateFile:
		content, err := needContent()
		if err != nil {
			return nil, err
		}
		return CreateFile{Path: path, Content: content}, nil
	case model.ActionWriteFile:
		content, err := needContent()
		if err != nil {
			return nil, err
		}
		return WriteFile{Path: path, Content: content}, nil
	case model.ActionAppendFile:
		content, err := needContent()
		if err != nil {
			return nil, err
		}
		return AppendFile{Path: path, Content: content}, nil
	case model.ActionMakeDir:
		if err := needPath(); err != nil {
			return nil, err
		}
		return MakeDir{Path: path}, nil
	case model.ActionDeleteFile:
		if err := needPath(); err != nil {
			return nil, err
		}
		return DeleteFile{Path: path}, nil
	case model.ActionReadFile:
		if err := needPath(); err != nil {
			return nil, err
		}
		return ReadFile{Path: path}, nil
	case model.ActionRunCommand:
		command := strings.TrimSpace(ra.Command)
		if command == "" {
			command = strings.TrimSpace(ra.Cmd)
		}
		if command == "" {
			return nil, errors.New(`run_command requires "command"`)
		}
		if ra.TimeoutSeconds < 0 {
			return nil, fmt.Errorf("timeout_seconds must not be negative, got %d", ra.TimeoutSeconds)
		}
		return RunCommand{Command: command, TimeoutSecs: ra.TimeoutSeconds}, nil
	case model.ActionFinish:
		return Finish{Reason: strings.TrimSpace(ra.Reason)}, nil
	}
	return nil, fmt.Errorf("unknown action type %q", ra.Type)
}
