package agent

import (
	"fmt"
	"strings"

	"github.com/richinex/devstudio/action"
	"github.com/richinex/devstudio/llm"
	"github.com/richinex/devstudio/model"
	"github.com/richinex/devstudio/runner"
)

// thoughtLimit bounds how much of a recorded thought is repeated in the history.
const thoughtLimit = 200

// SystemPrompt returns the built-in instructions for goal's target.
func SystemPrompt(goal model.ProjectGoal) string {
	var guidance string
	if goal.Target.Compiled() {
		guidance = `- Build with CMake: keep a CMakeLists.txt at the project root and build with
  "cmake -S . -B build && cmake --build build".
- Add tests with CTest and run them after every significant change.`
	} else {
		guidance = `- Organize code as a package with a tests/ directory.
- Test with pytest (or unittest when pytest is missing): "python -m pytest -q".`
	}

	return fmt.Sprintf(`You are a software engineer working alone on a local machine. You build a %s
project step by step by choosing ONE action per reply. After each action you are shown
its result, and you use that result to decide the next step.

Available Actions:
%s

Rules:
- Every action is local. Never call remote APIs or download dependencies.
- Paths are relative to the project root and must stay inside it.
- Prefer write_file for whole files. Keep each file focused and reasonably small.
%s
- When a build or test fails, read the error output and fix it in the next steps.
- Only send finish once the project builds and its tests pass.

Reply with a single JSON object and nothing else, in this format:
%s`,
		goal.Target.DisplayName(), action.Describe(), guidance, action.ReplyFormat)
}

// BuildMessages renders a request as chat messages.
func BuildMessages(system string, req Request) []llm.ChatMessage {
	messages := []llm.ChatMessage{
		llm.SystemMessage(system),
		llm.UserMessage(renderRequest(req)),
	}
	if req.Clarification != "" {
		if req.RejectedReply != "" {
			messages = append(messages, llm.AssistantMessage(req.RejectedReply))
		}
		messages = append(messages, llm.UserMessage(req.Clarification))
	}
	return messages
}

func renderRequest(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Project description:\n%s\n\n", strings.TrimSpace(req.Goal.Description))
	fmt.Fprintf(&b, "Language: %s\n", req.Goal.Target.DisplayName())
	fmt.Fprintf(&b, "Iteration: %d of %d\n", req.Iteration, req.Goal.MaxIterations)
	fmt.Fprintf(&b, "Lines of code: %d of a %d target\n", req.LOC, req.Goal.TargetLOC)
	if remaining := req.Goal.MaxIterations - req.Iteration; remaining <= 2 {
		fmt.Fprintf(&b, "\nWARNING: Only %d iterations remaining after this one!\n", remaining)
	}

	b.WriteString("\nFiles:\n")
	if len(req.Files) == 0 {
		b.WriteString("(empty project)\n")
	}
	for _, f := range req.Files {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	if req.FilesOmitted > 0 {
		fmt.Fprintf(&b, "... and %d more\n", req.FilesOmitted)
	}

	b.WriteString("\nHistory:\n")
	if len(req.History) == 0 {
		b.WriteString("(no actions yet)\n")
	}
	if req.HistoryOmitted > 0 {
		fmt.Fprintf(&b, "(%d earlier iterations omitted)\n", req.HistoryOmitted)
	}
	for _, rec := range req.History {
		b.WriteString(renderRecord(rec))
		b.WriteByte('\n')
	}

	if req.LastOutput != "" {
		fmt.Fprintf(&b, "\nLast output:\n%s\n", req.LastOutput)
	}
	if req.Note != "" {
		fmt.Fprintf(&b, "\nNote: %s\n", req.Note)
	}

	b.WriteString("\nReply with the JSON object for your next action only.")
	return b.String()
}

// renderRecord formats one history line.
func renderRecord(rec model.IterationRecord) string {
	status := "ok"
	switch {
	case rec.Outcome.TimedOut:
		status = "timed out"
	case rec.Kind == model.ActionRunCommand && !rec.Outcome.Success && rec.Outcome.ExitCode != 0:
		status = fmt.Sprintf("failed (exit %d)", rec.Outcome.ExitCode)
	case !rec.Outcome.Success:
		status = "failed: " + firstLine(rec.Outcome.Error)
	}

	line := fmt.Sprintf("#%d %s -> %s", rec.Index, rec.Label(), status)
	if rec.Thought != "" {
		thought, _ := truncate(firstLine(rec.Thought), thoughtLimit)
		line += " | " + thought
	}
	return line
}

// historyWindow returns the longest suffix of records whose rendering fits in
// budget characters, and how many records were left out. The latest record is
// always kept.
func historyWindow(records []model.IterationRecord, budget int) ([]model.IterationRecord, int) {
	if len(records) == 0 {
		return nil, 0
	}
	used := 0
	start := len(records)
	for start > 0 {
		size := len(renderRecord(records[start-1])) + 1
		if used+size > budget && start < len(records) {
			break
		}
		used += size
		start--
	}
	return records[start:], start
}

// lastOutput is what the model sees of the previous step, bounded to limit bytes.
func lastOutput(records []model.IterationRecord, limit int) string {
	if len(records) == 0 {
		return ""
	}
	o := records[len(records)-1].Outcome
	text := o.Output
	if o.Error != "" {
		if text != "" {
			text += "\n"
		}
		text += "error: " + o.Error
	}
	if len(text) > limit {
		return "[earlier output omitted]\n" + runner.TailBytes(text, limit)
	}
	return text
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	return strings.ToValidUTF8(s[:n], "") + "...", true
}
