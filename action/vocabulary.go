package action

import (
	"fmt"
	"strings"

	"github.com/richinex/devstudio/model"
)

// Parameter describes one field of an action.
type Parameter struct {
	Name        string `json:"name"`
	ParamType   string `json:"param_type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Spec describes what an action does and which fields it takes.
type Spec struct {
	Kind        model.ActionKind `json:"kind"`
	Description string           `json:"description"`
	Parameters  []Parameter      `json:"parameters"`
}

// Vocabulary lists every action the model may request, in prompt order.
func Vocabulary() []Spec {
	pathParam := Parameter{Name: "path", ParamType: "string", Description: "Path relative to the project root", Required: true}
	contentParam := Parameter{Name: "content", ParamType: "string", Description: "Full text to write", Required: true}

	return []Spec{
		{
			Kind:        model.ActionCreateFile,
			Description: "Create a new file. Fails if the file already exists",
			Parameters:  []Parameter{pathParam, contentParam},
		},
		{
			Kind:        model.ActionWriteFile,
			Description: "Create or completely replace a file",
			Parameters:  []Parameter{pathParam, contentParam},
		},
		{
			Kind:        model.ActionAppendFile,
			Description: "Append text to the end of a file, creating it if missing",
			Parameters:  []Parameter{pathParam, {Name: "content", ParamType: "string", Description: "Text to append", Required: true}},
		},
		{
			Kind:        model.ActionMakeDir,
			Description: "Create a directory and any missing parents",
			Parameters:  []Parameter{pathParam},
		},
		{
			Kind:        model.ActionDeleteFile,
			Description: "Delete a file or a directory with everything in it",
			Parameters:  []Parameter{pathParam},
		},
		{
			Kind:        model.ActionReadFile,
			Description: "Read a file; its content is shown to you on the next turn",
			Parameters:  []Parameter{pathParam},
		},
		{
			Kind:        model.ActionRunCommand,
			Description: "Run a shell command in the project root (build, test, run). Exit code and output are shown to you on the next turn",
			Parameters: []Parameter{
				{Name: "command", ParamType: "string", Description: "Shell command line", Required: true},
				{Name: "timeout_seconds", ParamType: "integer", Description: "Override the default timeout", Required: false},
			},
		},
		{
			Kind:        model.ActionFinish,
			Description: "Declare the project complete. Only accepted once the project builds and runs",
			Parameters: []Parameter{
				{Name: "reason", ParamType: "string", Description: "Why the project is complete", Required: false},
			},
		},
	}
}

// Describe formats the vocabulary for a system prompt.
func Describe() string {
	var descriptions []string
	for _, spec := range Vocabulary() {
		var params []string
		for _, p := range spec.Parameters {
			required := "optional"
			if p.Required {
				required = "required"
			}
			params = append(params, fmt.Sprintf("  - %s (%s): %s [%s]",
				p.Name, p.ParamType, p.Description, required))
		}

		descriptions = append(descriptions, fmt.Sprintf(
			"Action: %s\nDescription: %s\nParameters:\n%s",
			spec.Kind, spec.Description, strings.Join(params, "\n")))
	}

	return strings.Join(descriptions, "\n\n")
}

// ReplyFormat is the JSON shape the model must answer with.
const ReplyFormat = `{
  "thought": "one or two sentences on what you do next and why",
  "action": {"type": "write_file", "path": "src/main.py", "content": "..."}
}`
