// Package config provides application settings.
//
// Settings are resolved by Load() in increasing precedence:
// - Built-in defaults
// - An optional YAML file, with ${VAR} references expanded
// - DEVSTUDIO_* environment variables, validated on parse
//
// Command-line flags are applied by the caller after Load.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/richinex/devstudio/llm"
	"github.com/richinex/devstudio/model"
	"github.com/richinex/devstudio/runner"
	"github.com/richinex/devstudio/workspace"
)

// DefaultConfigFile is read from the working directory when no path is given.
const DefaultConfigFile = "devstudio.yaml"

// Settings holds all application configuration.
type Settings struct {
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Runner    RunnerConfig    `yaml:"runner"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Log       LogConfig       `yaml:"log"`
}

// LLMConfig holds local model runtime configuration.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Binary      string        `yaml:"binary"`
	MaxTokens   uint32        `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AgentConfig holds development loop configuration.
type AgentConfig struct {
	Target             string `yaml:"target"`
	TargetLOC          int    `yaml:"target_loc"`
	MaxIterations      int    `yaml:"max_iterations"`
	HistoryWindow      int    `yaml:"history_window"`
	OutputWindow       int    `yaml:"output_window"`
	ParseRetries       int    `yaml:"parse_retries"`
	ModelRetries       int    `yaml:"model_retries"`
	RepeatedErrorLimit int    `yaml:"repeated_error_limit"`
}

// RunnerConfig holds command execution configuration.
type RunnerConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	// WaitDelay bounds the wait for pipes held open by background children.
	WaitDelay time.Duration `yaml:"wait_delay"`
	// AllowedCommands limits run_command to these programs. Empty allows all.
	AllowedCommands []string `yaml:"allowed_commands"`
	// Env holds KEY=VALUE entries added to every command's environment.
	Env []string `yaml:"env"`
}

// WorkspaceConfig holds project directory configuration.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
	// Database overrides the run log location. Empty means inside the workspace.
	Database string `yaml:"database"`
	// CountExtensions restricts line counting to these extensions. Empty counts every text file.
	CountExtensions []string `yaml:"count_extensions"`
	MaxReadBytes    int64    `yaml:"max_read_bytes"`
	SkipDirs        []string `yaml:"skip_dirs"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns settings with every value at its default.
func Default() Settings {
	return Settings{
		LLM: LLMConfig{
			Provider:    llm.ProviderOllama.String(),
			Model:       llm.DefaultModel,
			MaxTokens:   4096,
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		Agent: AgentConfig{
			Target:             model.TargetPython.String(),
			TargetLOC:          250000,
			MaxIterations:      50,
			HistoryWindow:      5000,
			OutputWindow:       4000,
			ParseRetries:       2,
			ModelRetries:       2,
			RepeatedErrorLimit: 3,
		},
		Runner: RunnerConfig{
			CommandTimeout: 120 * time.Second,
			MaxOutputBytes: runner.DefaultMaxOutputBytes,
			WaitDelay:      runner.DefaultWaitDelay,
		},
		Workspace: WorkspaceConfig{
			Root:         "project",
			MaxReadBytes: workspace.DefaultMaxReadBytes,
			SkipDirs:     slices.Clone(workspace.DefaultSkipDirs),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load resolves settings from defaults, the YAML file at path and the environment.
// An empty path reads DefaultConfigFile if it exists. A missing file is not an error.
func Load(path string) (Settings, error) {
	settings := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &settings); err != nil {
			return Settings{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Settings{}, fmt.Errorf("read config file: %w", err)
	}

	if err := settings.applyEnv(); err != nil {
		return Settings{}, err
	}

	settings.Workspace.Root = expandHome(settings.Workspace.Root)
	settings.Workspace.Database = expandHome(settings.Workspace.Database)

	return settings, nil
}

// applyEnv overrides values from DEVSTUDIO_* environment variables.
func (s *Settings) applyEnv() error {
	setString(&s.LLM.Provider, "DEVSTUDIO_PROVIDER")
	setString(&s.LLM.Model, "DEVSTUDIO_MODEL")
	setString(&s.LLM.BaseURL, "DEVSTUDIO_BASE_URL")
	setString(&s.LLM.APIKey, "DEVSTUDIO_API_KEY")
	setString(&s.LLM.Binary, "DEVSTUDIO_OLLAMA_BIN")
	setString(&s.Agent.Target, "DEVSTUDIO_TARGET")
	setString(&s.Workspace.Root, "DEVSTUDIO_WORKSPACE")
	setString(&s.Workspace.Database, "DEVSTUDIO_DATABASE")
	setString(&s.Log.Level, "DEVSTUDIO_LOG_LEVEL")
	setString(&s.Log.Format, "DEVSTUDIO_LOG_FORMAT")

	var err error
	if s.LLM.MaxTokens, err = getEnvUint32("DEVSTUDIO_MAX_TOKENS", s.LLM.MaxTokens); err != nil {
		return err
	}
	if s.LLM.Temperature, err = getEnvFloat64("DEVSTUDIO_TEMPERATURE", s.LLM.Temperature); err != nil {
		return err
	}
	if s.LLM.Timeout, err = getEnvDuration("DEVSTUDIO_MODEL_TIMEOUT", s.LLM.Timeout); err != nil {
		return err
	}
	if s.Agent.TargetLOC, err = getEnvInt("DEVSTUDIO_TARGET_LOC", s.Agent.TargetLOC); err != nil {
		return err
	}
	if s.Agent.MaxIterations, err = getEnvInt("DEVSTUDIO_MAX_ITERATIONS", s.Agent.MaxIterations); err != nil {
		return err
	}
	if s.Runner.CommandTimeout, err = getEnvDuration("DEVSTUDIO_COMMAND_TIMEOUT", s.Runner.CommandTimeout); err != nil {
		return err
	}
	if s.Workspace.MaxReadBytes, err = getEnvInt64("DEVSTUDIO_MAX_READ_BYTES", s.Workspace.MaxReadBytes); err != nil {
		return err
	}
	setList(&s.Workspace.CountExtensions, "DEVSTUDIO_COUNT_EXTENSIONS")
	setList(&s.Workspace.SkipDirs, "DEVSTUDIO_SKIP_DIRS")
	setList(&s.Runner.AllowedCommands, "DEVSTUDIO_ALLOWED_COMMANDS")
	setList(&s.Runner.Env, "DEVSTUDIO_RUNNER_ENV")
	return nil
}

// Validate checks that every value is usable.
func (s Settings) Validate() error {
	var errs []error

	if _, err := llm.ParseProviderType(s.LLM.Provider); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(s.LLM.Model) == "" {
		errs = append(errs, errors.New("llm.model must not be empty"))
	}
	if s.LLM.Temperature < 0 || s.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be in [0, 2], got %g", s.LLM.Temperature))
	}
	if s.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeout must be positive, got %s", s.LLM.Timeout))
	}
	if _, err := model.ParseTarget(s.Agent.Target); err != nil {
		errs = append(errs, err)
	}
	if s.Agent.TargetLOC < 1 {
		errs = append(errs, fmt.Errorf("agent.target_loc must be at least 1, got %d", s.Agent.TargetLOC))
	}
	if s.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be at least 1, got %d", s.Agent.MaxIterations))
	}
	if s.Agent.ParseRetries < 0 || s.Agent.ModelRetries < 0 {
		errs = append(errs, errors.New("agent retry counts must not be negative"))
	}
	if s.Agent.RepeatedErrorLimit < 1 {
		errs = append(errs, fmt.Errorf("agent.repeated_error_limit must be at least 1, got %d", s.Agent.RepeatedErrorLimit))
	}
	if s.Runner.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("runner.command_timeout must be positive, got %s", s.Runner.CommandTimeout))
	}
	if s.Runner.MaxOutputBytes < 1 {
		errs = append(errs, fmt.Errorf("runner.max_output_bytes must be positive, got %d", s.Runner.MaxOutputBytes))
	}
	if s.Runner.WaitDelay < 0 {
		errs = append(errs, fmt.Errorf("runner.wait_delay must not be negative, got %s", s.Runner.WaitDelay))
	}
	for _, kv := range s.Runner.Env {
		if name, _, ok := strings.Cut(kv, "="); !ok || name == "" {
			errs = append(errs, fmt.Errorf("runner.env entries must be KEY=VALUE, got %q", kv))
		}
	}
	if strings.TrimSpace(s.Workspace.Root) == "" {
		errs = append(errs, errors.New("workspace.root must not be empty"))
	}
	if s.Workspace.MaxReadBytes < 1 {
		errs = append(errs, fmt.Errorf("workspace.max_read_bytes must be positive, got %d", s.Workspace.MaxReadBytes))
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s.Log.Level))
	}
	switch strings.ToLower(s.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", s.Log.Format))
	}

	return errors.Join(errs...)
}

// Goal builds the project goal for a description from the agent settings.
func (s Settings) Goal(description string) (model.ProjectGoal, error) {
	target, err := model.ParseTarget(s.Agent.Target)
	if err != nil {
		return model.ProjectGoal{}, err
	}
	goal := model.ProjectGoal{
		Description:   description,
		Target:        target,
		TargetLOC:     s.Agent.TargetLOC,
		MaxIterations: s.Agent.MaxIterations,
	}
	return goal, goal.Validate()
}

// DatabasePath returns where the run log lives for a workspace metadata directory.
func (s Settings) DatabasePath(metaDir string) string {
	if s.Workspace.Database != "" {
		return s.Workspace.Database
	}
	return filepath.Join(metaDir, "devstudio.db")
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// Environment variable helpers with proper error handling

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

// setList replaces dst with the comma-separated entries of key.
func setList(dst *[]string, key string) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	var items []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
