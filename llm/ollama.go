// Ollama Provider implementation using the official Ollama API client.
//
// Information Hiding:
// - Native /api/chat request shape and JSON mode
// - Sampling options mapping
// - Model listing and heartbeat

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaURL is where a local Ollama server listens.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaProvider implements the Provider interface for a local Ollama server.
type OllamaProvider struct {
	client      *api.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOllamaProvider creates a provider against baseURL.
func NewOllamaProvider(baseURL, model string, maxTokens uint32, temperature float32, httpClient *http.Client) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &OllamaProvider{
		client:      api.NewClient(base, httpClient),
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}, nil
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Model returns the current model.
func (p *OllamaProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request.
func (p *OllamaProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	return p.ChatWithFormat(ctx, messages, nil)
}

// ChatWithFormat sends a non-streaming chat request; JSON format maps onto Ollama's JSON mode.
func (p *OllamaProvider) ChatWithFormat(ctx context.Context, messages []ChatMessage, format *ResponseFormat) (LLMResponse, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    p.model,
		Messages: convertToOllamaMessages(messages),
		Stream:   &stream,
		Options: map[string]any{
			"temperature": p.temperature,
			"num_predict": p.maxTokens,
		},
	}
	if format.WantsJSON() {
		req.Format = json.RawMessage(`"json"`)
	}

	var content strings.Builder
	var final api.ChatResponse
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			final = resp
		}
		return nil
	})
	if err != nil {
		return LLMResponse{}, fmt.Errorf("ollama chat failed: %w", err)
	}

	usage := &TokenUsage{
		PromptTokens:     uint32(final.PromptEvalCount),
		CompletionTokens: uint32(final.EvalCount),
		TotalTokens:      uint32(final.PromptEvalCount + final.EvalCount),
	}
	return LLMResponse{Content: content.String(), Usage: usage}, nil
}

// ListModels returns the models installed on the server.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := p.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models failed: %w", err)
	}
	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, ModelInfo{
			Name:         m.Name,
			Size:         m.Size,
			ModifiedAt:   m.ModifiedAt,
			Family:       m.Details.Family,
			Parameters:   m.Details.ParameterSize,
			Quantization: m.Details.QuantizationLevel,
		})
	}
	return models, nil
}

// Ping checks the server is up.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	return nil
}

func convertToOllamaMessages(messages []ChatMessage) []api.Message {
	result := make([]api.Message, len(messages))
	for i, msg := range messages {
		result[i] = api.Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return result
}

var (
	_ Provider    = (*OllamaProvider)(nil)
	_ ModelLister = (*OllamaProvider)(nil)
	_ Pinger      = (*OllamaProvider)(nil)
)
