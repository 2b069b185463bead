// OpenAI-compatible Provider implementation using go-openai library.
//
// Targets local servers speaking the Chat Completions API: llama.cpp server,
// LM Studio, vLLM, and Ollama's /v1 endpoint.
//
// Information Hiding:
// - Endpoint and (usually dummy) authentication
// - Request/response format for the Chat Completions API

package llm

import (
	"context"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAICompatURL is Ollama's OpenAI-compatible endpoint.
const DefaultOpenAICompatURL = "http://localhost:11434/v1"

// OpenAICompatProvider implements the Provider interface for OpenAI-compatible servers.
type OpenAICompatProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAICompatProvider creates a provider against baseURL.
// Local servers ignore the key, but go-openai always sends one.
func NewOpenAICompatProvider(baseURL, apiKey, model string, maxTokens uint32, temperature float32, httpClient *http.Client) *OpenAICompatProvider {
	if baseURL == "" {
		baseURL = DefaultOpenAICompatURL
	}
	if apiKey == "" {
		apiKey = "local"
	}
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	if httpClient != nil {
		config.HTTPClient = httpClient
	}

	return &OpenAICompatProvider{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}
}

// Name returns the provider name.
func (p *OpenAICompatProvider) Name() string {
	return "openai-compat"
}

// Model returns the current model.
func (p *OpenAICompatProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request.
func (p *OpenAICompatProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	return p.ChatWithFormat(ctx, messages, nil)
}

// ChatWithFormat sends a chat completion request with optional response format.
func (p *OpenAICompatProvider) ChatWithFormat(ctx context.Context, messages []ChatMessage, format *ResponseFormat) (LLMResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertToOpenAIMessages(messages),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}

	if format != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatType(format.Type),
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	usage := &TokenUsage{
		PromptTokens:     uint32(resp.Usage.PromptTokens),
		CompletionTokens: uint32(resp.Usage.CompletionTokens),
		TotalTokens:      uint32(resp.Usage.TotalTokens),
	}

	return LLMResponse{Content: content, Usage: usage}, nil
}

// ListModels returns the models the server advertises.
func (p *OpenAICompatProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models failed: %w", err)
	}
	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{Name: m.ID, Family: m.OwnedBy})
	}
	return models, nil
}

// Ping checks the server answers the model listing endpoint.
func (p *OpenAICompatProvider) Ping(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	return nil
}

// convertToOpenAIMessages converts our ChatMessage to openai.ChatCompletionMessage
func convertToOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		result[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return result
}

// Verify OpenAICompatProvider implements Provider
var (
	_ Provider    = (*OpenAICompatProvider)(nil)
	_ ModelLister = (*OpenAICompatProvider)(nil)
	_ Pinger      = (*OpenAICompatProvider)(nil)
)
