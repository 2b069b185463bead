// LLMClient - Simple wrapper around providers.

package llm

import (
	"context"
)

// Client wraps a Provider with a simple interface.
type Client struct {
	provider Provider
}

// NewClient creates a new LLM client from a provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

// Chat sends a chat completion request and returns just the content.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	response, err := c.provider.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// ChatJSON asks for a JSON object reply and returns content with token usage.
func (c *Client) ChatJSON(ctx context.Context, messages []ChatMessage) (string, *TokenUsage, error) {
	response, err := c.provider.ChatWithFormat(ctx, messages, NewJSONObjectFormat())
	if err != nil {
		return "", nil, err
	}
	if response.Content == "" {
		return "", response.Usage, ErrEmptyResponse
	}
	return response.Content, response.Usage, nil
}

// Ping checks the runtime when the provider supports it.
func (c *Client) Ping(ctx context.Context) error {
	if p, ok := c.provider.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}
