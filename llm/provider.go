// Package llm provides LLM provider abstractions for locally hosted models.
//
// LLM Provider interface - the abstract interface for LLM providers.
// Each provider implementation hides:
// - Runtime endpoint and client initialization
// - Request/response format conversion
// - Provider-specific error handling

package llm

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyResponse is returned when the runtime answers with no content.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// a consistent interface for chat completions.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// Chat sends a chat completion request.
	Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error)

	// ChatWithFormat sends a chat completion request with response format.
	ChatWithFormat(ctx context.Context, messages []ChatMessage, format *ResponseFormat) (LLMResponse, error)
}

// ModelInfo describes a model installed on the local runtime.
type ModelInfo struct {
	Name         string
	Size         int64
	ModifiedAt   time.Time
	Family       string
	Parameters   string
	Quantization string
}

// ModelLister is implemented by providers that can enumerate installed models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Pinger is implemented by providers that can check the runtime is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
