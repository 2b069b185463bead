// Package action defines the closed set of steps the model may request,
// how a model reply is parsed into one, and how each is applied.
//
// Information Hiding:
// - Reply format tolerance (fences, aliases, envelopes) hidden
// - Dispatch onto workspace and runner hidden
// - Output bounding for prompts hidden
package action

import (
	"github.com/richinex/devstudio/model"
)

// Action is one requested step. The set of implementations is closed:
// only types in this package satisfy it.
type Action interface {
	// Kind names the variant.
	Kind() model.ActionKind
	// Subject is the path or command the action targets, empty for finish.
	Subject() string

	sealed()
}

// CreateFile writes a new file; it fails when the path already exists.
type CreateFile struct {
	Path    string
	Content string
}

// WriteFile creates or replaces a file.
type WriteFile struct {
	Path    string
	Content string
}

// AppendFile appends to a file, creating it if missing.
type AppendFile struct {
	Path    string
	Content string
}

// MakeDir creates a directory and its parents.
type MakeDir struct {
	Path string
}

// DeleteFile removes a file or directory tree.
type DeleteFile struct {
	Path string
}

// ReadFile returns a file's content to the model on the next turn.
type ReadFile struct {
	Path string
}

// RunCommand runs a shell command in the workspace root.
type RunCommand struct {
	Command string
	// TimeoutSecs overrides the default command timeout when positive.
	TimeoutSecs int
}

// Finish asks the loop to stop; the progress tracker decides whether it may.
type Finish struct {
	Reason string
}

func (CreateFile) Kind() model.ActionKind { return model.ActionCreateFile }
func (WriteFile) Kind() model.ActionKind  { return model.ActionWriteFile }
func (AppendFile) Kind() model.ActionKind { return model.ActionAppendFile }
func (MakeDir) Kind() model.ActionKind    { return model.ActionMakeDir }
func (DeleteFile) Kind() model.ActionKind { return model.ActionDeleteFile }
func (ReadFile) Kind() model.ActionKind   { return model.ActionReadFile }
func (RunCommand) Kind() model.ActionKind { return model.ActionRunCommand }
func (Finish) Kind() model.ActionKind     { return model.ActionFinish }

func (a CreateFile) Subject() string { return a.Path }
func (a WriteFile) Subject() string  { return a.Path }
func (a AppendFile) Subject() string { return a.Path }
func (a MakeDir) Subject() string    { return a.Path }
func (a DeleteFile) Subject() string { return a.Path }
func (a ReadFile) Subject() string   { return a.Path }
func (a RunCommand) Subject() string { return a.Command }
func (Finish) Subject() string       { return "" }

func (CreateFile) sealed() {}
func (WriteFile) sealed()  {}
func (AppendFile) sealed() {}
func (MakeDir) sealed()    {}
func (DeleteFile) sealed() {}
func (ReadFile) sealed()   {}
func (RunCommand) sealed() {}
func (Finish) sealed()     {}

// Decision is a parsed model reply: the model's reasoning plus one action.
type Decision struct {
	Thought string
	Action  Action
}
