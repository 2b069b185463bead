// Agent builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

import "time"

// Builder provides fluent configuration for the loop.
// Usage: agent.NewBuilder().ParseRetries(1).Build() - no stutter.
type Builder struct {
	config Config
}

// NewBuilder creates a builder starting from DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{config: DefaultConfig()}
}

// HistoryWindow sets the history budget in characters.
func (b *Builder) HistoryWindow(chars int) *Builder {
	b.config.HistoryWindow = chars
	return b
}

// OutputWindow sets the last-output budget in bytes.
func (b *Builder) OutputWindow(n int) *Builder {
	b.config.OutputWindow = n
	return b
}

// MaxFiles sets how many workspace files are listed in a prompt.
func (b *Builder) MaxFiles(n int) *Builder {
	b.config.MaxFiles = n
	return b
}

// ParseRetries sets how many malformed replies in a row are re-asked.
func (b *Builder) ParseRetries(n int) *Builder {
	b.config.ParseRetries = n
	return b
}

// ModelRetries sets how many failed model calls in a row are retried.
func (b *Builder) ModelRetries(n int) *Builder {
	b.config.ModelRetries = n
	return b
}

// RepeatedErrorLimit sets how many identical file errors in a row fail the run.
func (b *Builder) RepeatedErrorLimit(n int) *Builder {
	b.config.RepeatedErrorLimit = n
	return b
}

// ModelTimeout sets the per-call model timeout.
func (b *Builder) ModelTimeout(d time.Duration) *Builder {
	b.config.ModelTimeout = d
	return b
}

// Build returns the configuration.
func (b *Builder) Build() Config {
	return b.config
}
