package code

import (
	"fmt"
	"strings"
	"time"
)

// Default limits.
const (
	DefaultTimeout = 30 * time.Second
	MaxTimeout     = 300 * time.Second
)

// Config holds the configuration for a code executor.
type Config struct {
	// Engine is the pluggable code execution engine.
	// Required.
	Engine Engine

	// DefaultTimeout is the execution timeout when not specified in
	// ExecuteParams. Defaults to 30s.
	DefaultTimeout time.Duration

	// MaxTimeout caps any requested timeout. Defaults to 300s.
	MaxTimeout time.Duration

	// Journal records every execution when set.
	Journal Recorder

	// Logger is an optional logger for observability.
	Logger Logger
}

// Validate checks that all required fields are set and limits are sane.
// Returns ErrConfiguration describing every problem found.
func (c *Config) Validate() error {
	var problems []string

	if c.Engine == nil {
		problems = append(problems, "missing required fields: Engine")
	}
	if c.DefaultTimeout < 0 {
		problems = append(problems, "default timeout is negative")
	}
	if c.MaxTimeout < 0 {
		problems = append(problems, "max timeout is negative")
	}
	if c.DefaultTimeout > 0 && c.MaxTimeout > 0 && c.DefaultTimeout > c.MaxTimeout {
		problems = append(problems, fmt.Sprintf("default timeout %v exceeds max timeout %v",
			c.DefaultTimeout, c.MaxTimeout))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, ", "))
	}
	return nil
}

// applyDefaults sets default values for optional fields.
func (c *Config) applyDefaults() {
	if c.MaxTimeout == 0 {
		c.MaxTimeout = MaxTimeout
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.DefaultTimeout > c.MaxTimeout {
		c.DefaultTimeout = c.MaxTimeout
	}
}
