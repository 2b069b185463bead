// Model client boundary.
//
// Information Hiding:
// - Prompt rendering hidden behind NextAction
// - Transport and parse failures classified into two sentinels

package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/richinex/devstudio/action"
	"github.com/richinex/devstudio/llm"
	"github.com/richinex/devstudio/model"
)

// Request is everything the model sees when choosing the next action.
type Request struct {
	Goal      model.ProjectGoal
	Iteration int
	LOC       int
	Files     []string
	// FilesOmitted counts listing entries cut to fit the prompt.
	FilesOmitted int
	// History is the bounded trailing window of records, oldest first.
	History []model.IterationRecord
	// HistoryOmitted counts earlier records left out of the window.
	HistoryOmitted int
	LastOutput     string
	// Note carries loop feedback, such as a rejected finish.
	Note string
	// RejectedReply and Clarification are set when re-asking after a malformed reply.
	RejectedReply string
	Clarification string
}

// Reply is what came back from one model call besides the action.
type Reply struct {
	Thought string
	Raw     string
	Usage   *llm.TokenUsage
}

// ActionSource produces the next action for a request.
//
// Failures are classified: errors wrapping ErrModelUnavailable mean no usable
// reply arrived; errors wrapping action.ErrParse mean a reply arrived but could
// not be turned into exactly one action.
type ActionSource interface {
	NextAction(ctx context.Context, req Request) (action.Action, Reply, error)
}

// LLMSource asks a local model through an llm.Provider.
type LLMSource struct {
	client       *llm.Client
	systemPrompt string
}

// NewLLMSource creates a source backed by provider.
func NewLLMSource(provider llm.Provider) *LLMSource {
	return &LLMSource{client: llm.NewClient(provider)}
}

// WithSystemPrompt replaces the built-in instructions.
func (s *LLMSource) WithSystemPrompt(prompt string) *LLMSource {
	s.systemPrompt = prompt
	return s
}

// NextAction renders req, calls the model in JSON mode and parses the reply.
func (s *LLMSource) NextAction(ctx context.Context, req Request) (action.Action, Reply, error) {
	system := s.systemPrompt
	if system == "" {
		system = SystemPrompt(req.Goal)
	}

	raw, usage, err := s.client.ChatJSON(ctx, BuildMessages(system, req))
	reply := Reply{Raw: raw, Usage: usage}
	if errors.Is(err, llm.ErrEmptyResponse) {
		return nil, reply, &action.ParseError{Reason: "empty reply"}
	}
	if err != nil {
		return nil, reply, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	decision, err := action.Parse(raw)
	if err != nil {
		return nil, reply, err
	}
	reply.Thought = decision.Thought
	return decision.Action, reply, nil
}

// Verify LLMSource implements ActionSource
var _ ActionSource = (*LLMSource)(nil)
