// Agent configuration types.
//
// Information Hiding:
// - Configuration validation logic hidden
// - Default values hidden

package agent

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the loop's tuning knobs. The goal itself lives in model.ProjectGoal.
type Config struct {
	// HistoryWindow bounds, in characters, the trailing history shown to the model.
	HistoryWindow int

	// OutputWindow bounds, in bytes, the last output shown to the model.
	OutputWindow int

	// MaxFiles bounds the file listing shown to the model.
	MaxFiles int

	// ParseRetries is how many malformed replies in a row are re-asked before the run fails.
	ParseRetries int

	// ModelRetries is how many failed model calls in a row are retried before the run fails.
	ModelRetries int

	// RepeatedErrorLimit fails the run once the same file error occurs this many times in a row.
	RepeatedErrorLimit int

	// ModelTimeout bounds each model call.
	ModelTimeout time.Duration
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:      5000,
		OutputWindow:       4000,
		MaxFiles:           200,
		ParseRetries:       2,
		ModelRetries:       2,
		RepeatedErrorLimit: 3,
		ModelTimeout:       5 * time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.HistoryWindow < 0 || c.OutputWindow < 0 || c.MaxFiles < 0 {
		errs = append(errs, errors.New("windows must not be negative"))
	}
	if c.ParseRetries < 0 || c.ModelRetries < 0 {
		errs = append(errs, errors.New("retry counts must not be negative"))
	}
	if c.RepeatedErrorLimit < 1 {
		errs = append(errs, fmt.Errorf("repeated error limit must be at least 1, got %d", c.RepeatedErrorLimit))
	}
	if c.ModelTimeout <= 0 {
		errs = append(errs, fmt.Errorf("model timeout must be positive, got %s", c.ModelTimeout))
	}
	return errors.Join(errs...)
}
