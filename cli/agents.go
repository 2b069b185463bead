// Component factory for CLI commands.
//
// Information Hiding:
// - Settings to component mapping hidden
// - Provider construction details hidden

package cli

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/richinex/devstudio/agent"
	"github.com/richinex/devstudio/config"
	"github.com/richinex/devstudio/llm"
	"github.com/richinex/devstudio/model"
	"github.com/richinex/devstudio/runner"
	"github.com/richinex/devstudio/storage"
	"github.com/richinex/devstudio/workspace"
)

// createProvider builds the model provider named by the settings.
func createProvider(settings config.Settings) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	return providerType.
		Model(settings.LLM.Model).
		BaseURL(settings.LLM.BaseURL).
		APIKey(settings.LLM.APIKey).
		Binary(settings.LLM.Binary).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(float32(settings.LLM.Temperature)).
		Build()
}

// agentConfig maps the agent settings onto the loop configuration.
func agentConfig(settings config.Settings) agent.Config {
	return agent.NewBuilder().
		HistoryWindow(settings.Agent.HistoryWindow).
		OutputWindow(settings.Agent.OutputWindow).
		ParseRetries(settings.Agent.ParseRetries).
		ModelRetries(settings.Agent.ModelRetries).
		RepeatedErrorLimit(settings.Agent.RepeatedErrorLimit).
		ModelTimeout(settings.LLM.Timeout).
		Build()
}

// openWorkspace opens the project directory. With sourceOnly, lines are
// counted only in files of the goal's language, whatever count_extensions says.
func openWorkspace(settings config.Settings, goal model.ProjectGoal, sourceOnly bool) (*workspace.Workspace, error) {
	ws, err := workspace.New(settings.Workspace.Root)
	if err != nil {
		return nil, err
	}

	extensions := settings.Workspace.CountExtensions
	if sourceOnly {
		extensions = goal.Target.Extensions()
	}
	return ws.
		WithMaxReadBytes(settings.Workspace.MaxReadBytes).
		WithSkipDirs(settings.Workspace.SkipDirs).
		WithCountExtensions(extensions), nil
}

// newRunner builds the command runner for a workspace root.
func newRunner(settings config.Settings, root string) *runner.Runner {
	return runner.New(root).
		WithDefaultTimeout(settings.Runner.CommandTimeout).
		WithMaxOutputBytes(settings.Runner.MaxOutputBytes).
		WithWaitDelay(settings.Runner.WaitDelay).
		WithAllowedCommands(settings.Runner.AllowedCommands).
		WithEnv(settings.Runner.Env)
}

// CreateAgent wires a development loop for goal from settings.
// The caller owns store and must close it after the run.
func CreateAgent(settings config.Settings, goal model.ProjectGoal, ws *workspace.Workspace, provider llm.Provider, store storage.RunStore, logger zerolog.Logger, systemPrompt string) *agent.Agent {
	commands := newRunner(settings, ws.Root())

	source := agent.NewLLMSource(provider)
	if systemPrompt != "" {
		source.WithSystemPrompt(systemPrompt)
	}

	return agent.New(goal, ws, commands, source).
		WithConfig(agentConfig(settings)).
		WithStore(store, provider.Name(), provider.Model()).
		WithOutputLimit(settings.Runner.MaxOutputBytes).
		WithLogger(logger)
}

// describeProvider renders a provider for status lines.
func describeProvider(p llm.Provider) string {
	return fmt.Sprintf("%s/%s", p.Name(), p.Model())
}
