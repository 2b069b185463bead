//go:build !windows

package llm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeOllama writes a shell script standing in for the ollama binary.
func fakeOllama(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ollama")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write fake binary: %v", err)
	}
	return path
}

func TestOllamaCLIChat(t *testing.T) {
	// Echo the arguments, then the prompt read from stdin.
	bin := fakeOllama(t, `echo "args: $*"; cat`)
	provider := NewOllamaCLIProvider(bin, "llama3.1")

	resp, err := provider.ChatWithFormat(context.Background(), []ChatMessage{UserMessage("make a calculator")}, NewJSONObjectFormat())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resp.Content, "args: run --format json llama3.1") {
		t.Errorf("unexpected arguments in %q", resp.Content)
	}
	if !strings.Contains(resp.Content, "make a calculator") {
		t.Errorf("prompt not passed over stdin: %q", resp.Content)
	}
}

func TestOllamaCLIStripsEscapes(t *testing.T) {
	bin := fakeOllama(t, `printf '\033[?25l{"type":"finish"}\033[?25h\n'`)
	provider := NewOllamaCLIProvider(bin, "llama3.1")

	resp, err := provider.Chat(context.Background(), []ChatMessage{UserMessage("x")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"type":"finish"}` {
		t.Errorf("unexpected content: %q", resp.Content)
	}
}

func TestOllamaCLIFailure(t *testing.T) {
	bin := fakeOllama(t, `echo "Error: model 'nope' not found" >&2; exit 1`)
	provider := NewOllamaCLIProvider(bin, "nope")

	_, err := provider.Chat(context.Background(), []ChatMessage{UserMessage("x")})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected stderr in error, got: %v", err)
	}
}

func TestOllamaCLIListModels(t *testing.T) {
	bin := fakeOllama(t, `printf 'NAME               ID              SIZE      MODIFIED\nllama3.1:latest    42182419e950    4.7 GB    2 days ago\nqwen2.5-coder:7b   2b0496514337    4.7 GB    3 weeks ago\n'`)
	provider := NewOllamaCLIProvider(bin, "llama3.1")

	models, err := provider.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 2 || models[1].Name != "qwen2.5-coder:7b" {
		t.Errorf("unexpected models: %+v", models)
	}
}
