// LLM Provider Factory - builder-first API for creating local LLM providers.
//
// Quick Start:
//
//	// Simplest: Ollama on localhost with the default model
//	provider, err := llm.ProviderOllama.Default()
//
//	// With a custom model
//	provider, err := llm.ProviderOllama.Model("qwen2.5-coder:7b").Build()
//
//	// Full configuration against llama.cpp's server
//	provider, err := llm.ProviderOpenAICompat.
//	    Model("local").
//	    BaseURL("http://127.0.0.1:8080/v1").
//	    MaxTokens(8192).
//	    Temperature(0.2).
//	    Build()

package llm

import (
	"fmt"
	"net/http"
	"strings"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "llama3.1"

// ProviderType represents supported local runtimes.
type ProviderType int

const (
	// ProviderOllama talks to Ollama's native HTTP API.
	ProviderOllama ProviderType = iota
	// ProviderOpenAICompat talks to any OpenAI-compatible local server.
	ProviderOpenAICompat
	// ProviderOllamaCLI runs the ollama binary.
	ProviderOllamaCLI
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	switch p {
	case ProviderOllama:
		return "ollama"
	case ProviderOpenAICompat:
		return "openai-compat"
	case ProviderOllamaCLI:
		return "ollama-cli"
	default:
		return "unknown"
	}
}

// DefaultBaseURL returns where this runtime usually listens.
func (p ProviderType) DefaultBaseURL() string {
	switch p {
	case ProviderOllama:
		return DefaultOllamaURL
	case ProviderOpenAICompat:
		return DefaultOpenAICompatURL
	default:
		return ""
	}
}

// ParseProviderType parses a provider from string (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama", "":
		return ProviderOllama, nil
	case "openai-compat", "openai", "llamacpp", "llama.cpp", "lmstudio", "vllm":
		return ProviderOpenAICompat, nil
	case "ollama-cli", "cli":
		return ProviderOllamaCLI, nil
	default:
		return 0, fmt.Errorf("unknown provider: %s", s)
	}
}

// Default creates a provider with every setting at its default.
func (p ProviderType) Default() (Provider, error) {
	return NewProviderBuilder(p).Build()
}

// Model starts configuring this provider with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(p).Model(model)
}

// ProviderBuilder is a builder for configuring LLM providers.
type ProviderBuilder struct {
	providerType ProviderType
	model        string
	baseURL      string
	apiKey       string
	binary       string
	maxTokens    uint32
	temperature  *float32
	httpClient   *http.Client
}

// NewProviderBuilder creates a new builder for the given provider.
func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{
		providerType: providerType,
	}
}

// Model sets the model to use.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.model = model
	return b
}

// BaseURL sets the runtime endpoint.
func (b *ProviderBuilder) BaseURL(url string) *ProviderBuilder {
	b.baseURL = url
	return b
}

// APIKey sets a key for servers started with one.
func (b *ProviderBuilder) APIKey(key string) *ProviderBuilder {
	b.apiKey = key
	return b
}

// Binary sets the ollama executable for the CLI provider.
func (b *ProviderBuilder) Binary(path string) *ProviderBuilder {
	b.binary = path
	return b
}

// MaxTokens sets maximum tokens for responses.
func (b *ProviderBuilder) MaxTokens(tokens uint32) *ProviderBuilder {
	b.maxTokens = tokens
	return b
}

// Temperature sets temperature (0.0 = deterministic, 1.0 = creative).
func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.temperature = &temp
	return b
}

// HTTPClient overrides the HTTP client for network providers.
func (b *ProviderBuilder) HTTPClient(c *http.Client) *ProviderBuilder {
	b.httpClient = c
	return b
}

// Build creates the provider.
func (b *ProviderBuilder) Build() (Provider, error) {
	model := b.model
	if model == "" {
		model = DefaultModel
	}

	maxTokens := b.maxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	temperature := float32(0.2) // code generation wants low variance
	if b.temperature != nil {
		temperature = *b.temperature
	}

	switch b.providerType {
	case ProviderOllama:
		p, err := NewOllamaProvider(b.baseURL, model, maxTokens, temperature, b.httpClient)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderOpenAICompat:
		return NewOpenAICompatProvider(b.baseURL, b.apiKey, model, maxTokens, temperature, b.httpClient), nil
	case ProviderOllamaCLI:
		return NewOllamaCLIProvider(b.binary, model), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}
}
