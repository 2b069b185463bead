// Ollama CLI Provider - drives `ollama run` as a subprocess.
//
// For machines where the Ollama binary is installed but the HTTP server
// is not exposed to this process.
//
// Information Hiding:
// - Conversation flattening into a single prompt
// - Subprocess invocation and output cleanup

package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// DefaultOllamaBinary is looked up on PATH.
const DefaultOllamaBinary = "ollama"

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// OllamaCLIProvider implements the Provider interface by running `ollama run`.
type OllamaCLIProvider struct {
	binary string
	model  string
}

// NewOllamaCLIProvider creates a provider that shells out to binary.
func NewOllamaCLIProvider(binary, model string) *OllamaCLIProvider {
	if binary == "" {
		binary = DefaultOllamaBinary
	}
	return &OllamaCLIProvider{binary: binary, model: model}
}

// Name returns the provider name.
func (p *OllamaCLIProvider) Name() string {
	return "ollama-cli"
}

// Model returns the current model.
func (p *OllamaCLIProvider) Model() string {
	return p.model
}

// Chat sends the flattened conversation to `ollama run`.
func (p *OllamaCLIProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	return p.ChatWithFormat(ctx, messages, nil)
}

// ChatWithFormat passes --format json when a JSON object is requested.
// The prompt goes over stdin so its length is not bound by argv limits.
func (p *OllamaCLIProvider) ChatWithFormat(ctx context.Context, messages []ChatMessage, format *ResponseFormat) (LLMResponse, error) {
	args := []string{"run"}
	if format.WantsJSON() {
		args = append(args, "--format", "json")
	}
	args = append(args, p.model)

	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdin = strings.NewReader(FlattenMessages(messages))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return LLMResponse{}, fmt.Errorf("ollama run interrupted: %w", ctx.Err())
		}
		msg := strings.TrimSpace(ansiEscape.ReplaceAllString(stderr.String(), ""))
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return LLMResponse{}, fmt.Errorf("ollama run failed (exit %d): %s", exitErr.ExitCode(), msg)
		}
		return LLMResponse{}, fmt.Errorf("ollama run failed: %w", err)
	}

	content := strings.TrimSpace(ansiEscape.ReplaceAllString(stdout.String(), ""))
	return LLMResponse{Content: content}, nil
}

// ListModels parses `ollama list`.
func (p *OllamaCLIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	out, err := exec.CommandContext(ctx, p.binary, "list").Output()
	if err != nil {
		return nil, fmt.Errorf("ollama list failed: %w", err)
	}
	return parseOllamaList(string(out)), nil
}

func parseOllamaList(out string) []ModelInfo {
	var models []ModelInfo
	for i, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if i == 0 || len(fields) == 0 {
			continue
		}
		models = append(models, ModelInfo{Name: fields[0]})
	}
	return models
}

var (
	_ Provider    = (*OllamaCLIProvider)(nil)
	_ ModelLister = (*OllamaCLIProvider)(nil)
)
