// Provider tests against in-process fake runtimes.
package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newOllamaServer(t *testing.T, handler http.HandlerFunc) *OllamaProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := NewOllamaProvider(server.URL, "llama3.1", 256, 0.1, server.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return provider
}

// TestOllamaChatJSONMode verifies the request shape and usage mapping.
func TestOllamaChatJSONMode(t *testing.T) {
	var got map[string]any
	provider := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama3.1","message":{"role":"assistant","content":"{\"type\":\"finish\"}"},"done":true,"prompt_eval_count":12,"eval_count":5}`+"\n")
	})

	resp, err := provider.ChatWithFormat(context.Background(), []ChatMessage{
		SystemMessage("be brief"),
		UserMessage("hi"),
	}, NewJSONObjectFormat())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Content != `{"type":"finish"}` {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 17 {
		t.Errorf("expected 17 total tokens, got %+v", resp.Usage)
	}
	if got["format"] != "json" {
		t.Errorf("expected json format, got %v", got["format"])
	}
	if got["stream"] != false {
		t.Errorf("expected stream=false, got %v", got["stream"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
}

// TestOllamaChatServerError verifies runtime errors surface as errors.
func TestOllamaChatServerError(t *testing.T) {
	provider := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model 'llama3.1' not found"}`)
	})

	_, err := provider.Chat(context.Background(), []ChatMessage{UserMessage("hi")})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected runtime message in error, got: %v", err)
	}
}

// TestOllamaListModels verifies /api/tags mapping.
func TestOllamaListModels(t *testing.T) {
	provider := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"models":[{"name":"llama3.1:latest","model":"llama3.1:latest","size":4920753328,"details":{"family":"llama","parameter_size":"8.0B","quantization_level":"Q4_K_M"}}]}`)
	})

	models, err := provider.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("expected 1 model, got %d", len(models))
	}
	if models[0].Name != "llama3.1:latest" || models[0].Parameters != "8.0B" || models[0].Quantization != "Q4_K_M" {
		t.Errorf("unexpected model info: %+v", models[0])
	}
}

// TestOllamaPingUnreachable verifies a dead endpoint is reported.
func TestOllamaPingUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	provider, err := NewOllamaProvider(url, "llama3.1", 256, 0.1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := provider.Ping(ctx); err == nil {
		t.Error("expected ping to fail against a closed server")
	}
}

// TestOpenAICompatChat verifies the BaseURL override and json_object format.
func TestOpenAICompatChat(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","model":"local","choices":[{"index":0,"message":{"role":"assistant","content":"{\"type\":\"finish\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`)
	}))
	defer server.Close()

	provider := NewOpenAICompatProvider(server.URL+"/v1", "", "local", 256, 0.1, nil)
	resp, err := provider.ChatWithFormat(context.Background(), []ChatMessage{UserMessage("hi")}, NewJSONObjectFormat())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"type":"finish"}` {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("expected 7 total tokens, got %d", resp.Usage.TotalTokens)
	}
	format, _ := got["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Errorf("expected json_object response format, got %v", got["response_format"])
	}
}

// TestOpenAICompatErrorNoAPIKeyLeak verifies errors don't contain API keys.
func TestOpenAICompatErrorNoAPIKeyLeak(t *testing.T) {
	testKey := "sk-test-invalid-key-12345xyz"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	provider := NewOpenAICompatProvider(server.URL+"/v1", testKey, "local", 100, 0.7, nil)
	_, err := provider.Chat(context.Background(), []ChatMessage{UserMessage("test")})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	errStr := err.Error()
	if strings.Contains(errStr, testKey) {
		t.Errorf("error message leaked API key: %v", errStr)
	}
	if strings.Contains(errStr, "Authorization:") {
		t.Errorf("error exposed Authorization header: %v", errStr)
	}
}

// TestParseProviderType covers names and aliases.
func TestParseProviderType(t *testing.T) {
	cases := map[string]ProviderType{
		"ollama":        ProviderOllama,
		"":              ProviderOllama,
		"OpenAI-Compat": ProviderOpenAICompat,
		"llamacpp":      ProviderOpenAICompat,
		"ollama-cli":    ProviderOllamaCLI,
	}
	for in, want := range cases {
		got, err := ParseProviderType(in)
		if err != nil {
			t.Errorf("ParseProviderType(%q): unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseProviderType(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseProviderType("anthropic"); err == nil {
		t.Error("expected error for hosted provider")
	}
}

// TestBuilderDefaults verifies the default model is applied.
func TestBuilderDefaults(t *testing.T) {
	provider, err := ProviderOllama.Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.Name() != "ollama" || provider.Model() != DefaultModel {
		t.Errorf("unexpected provider %s/%s", provider.Name(), provider.Model())
	}

	provider, err = ProviderOllamaCLI.Model("qwen2.5-coder").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.Model() != "qwen2.5-coder" {
		t.Errorf("expected qwen2.5-coder, got %s", provider.Model())
	}
}

// TestFlattenMessages verifies the single-prompt rendering.
func TestFlattenMessages(t *testing.T) {
	got := FlattenMessages([]ChatMessage{SystemMessage("rules"), UserMessage("task")})
	want := "SYSTEM:\nrules\n\nUSER:\ntask\n\nASSISTANT:\n"
	if got != want {
		t.Errorf("FlattenMessages = %q, want %q", got, want)
	}
}
