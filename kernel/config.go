package kernel

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionFilePlaceholder is replaced in Config.Command with the path of
// the generated connection file.
const ConnectionFilePlaceholder = "{connection_file}"

// Default configuration values.
const (
	DefaultIP              = "127.0.0.1"
	DefaultStartupTimeout  = 60 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// DefaultCommand launches an IPython kernel with the system python3.
func DefaultCommand() []string {
	return []string{"python3", "-m", "ipykernel_launcher", "-f", ConnectionFilePlaceholder}
}

// DefaultStartupCode preloads the scientific stack and enables inline plots.
func DefaultStartupCode() []string {
	return []string{
		"import numpy as np\nimport pandas as pd\nimport matplotlib.pyplot as plt",
		"%matplotlib inline",
	}
}

// Config holds the configuration for launching and supervising a kernel.
type Config struct {
	// Command is the argv used to launch the kernel. The literal
	// "{connection_file}" is replaced with the connection file path.
	// Defaults to DefaultCommand().
	Command []string

	// WorkDir is the working directory of the kernel process.
	// Empty means the server's working directory.
	WorkDir string

	// Env adds environment variables to the kernel process.
	Env map[string]string

	// IP is the address the kernel binds its sockets to.
	// Defaults to 127.0.0.1.
	IP string

	// StartupTimeout bounds process launch plus the kernel_info handshake.
	StartupTimeout time.Duration

	// ShutdownTimeout bounds a graceful shutdown before the process is killed.
	ShutdownTimeout time.Duration

	// StartupCode is executed silently after every (re)start.
	// A nil slice means DefaultStartupCode(); an empty slice disables it.
	StartupCode []string

	// Logger is an optional logger for lifecycle events.
	Logger Logger
}

// Validate checks that the configuration can launch a kernel.
// Returns ErrConfiguration describing every problem found.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Command) > 0 && strings.TrimSpace(c.Command[0]) == "" {
		problems = append(problems, "command executable is empty")
	}
	if len(c.Command) > 0 && !containsPlaceholder(c.Command) {
		problems = append(problems, "command must reference "+ConnectionFilePlaceholder)
	}
	if c.StartupTimeout < 0 {
		problems = append(problems, "startup timeout is negative")
	}
	if c.ShutdownTimeout < 0 {
		problems = append(problems, "shutdown timeout is negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, ", "))
	}
	return nil
}

// applyDefaults sets default values for optional fields.
func (c *Config) applyDefaults() {
	if len(c.Command) == 0 {
		c.Command = DefaultCommand()
	}
	if c.IP == "" {
		c.IP = DefaultIP
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.StartupCode == nil {
		c.StartupCode = DefaultStartupCode()
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
}

// argv returns the launch command with the connection file substituted.
func (c *Config) argv(connectionFile string) []string {
	out := make([]string, len(c.Command))
	for i, arg := range c.Command {
		out[i] = strings.ReplaceAll(arg, ConnectionFilePlaceholder, connectionFile)
	}
	return out
}

func containsPlaceholder(args []string) bool {
	for _, arg := range args {
		if strings.Contains(arg, ConnectionFilePlaceholder) {
			return true
		}
	}
	return false
}
