// Package config loads the server configuration.
//
// Values are layered, later layers winning: built-in defaults, an optional
// YAML file and KERNELMCP_ environment variables. Nested keys in variable
// names are separated by a double underscore, so
// KERNELMCP_EXECUTION__DEFAULT_TIMEOUT=45s sets execution.default_timeout.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/kernelmcp/code"
	"github.com/jonwraymond/kernelmcp/install"
	"github.com/jonwraymond/kernelmcp/journal"
	"github.com/jonwraymond/kernelmcp/kernel"
	"github.com/jonwraymond/kernelmcp/kernelengine"
)

// ErrConfiguration indicates an invalid configuration.
var ErrConfiguration = errors.New("configuration error")

// Config is the complete server configuration.
type Config struct {
	Kernel    KernelConfig    `koanf:"kernel"`
	Execution ExecutionConfig `koanf:"execution"`
	Install   InstallConfig   `koanf:"install"`
	Render    RenderConfig    `koanf:"render"`
	Journal   JournalConfig   `koanf:"journal"`
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
}

// KernelConfig configures the kernel process.
type KernelConfig struct {
	Command         []string          `koanf:"command"`
	WorkDir         string            `koanf:"work_dir"`
	Env             map[string]string `koanf:"env"`
	StartupTimeout  time.Duration     `koanf:"startup_timeout"`
	ShutdownTimeout time.Duration     `koanf:"shutdown_timeout"`
	StartupCode     []string          `koanf:"startup_code"`
}

// ExecutionConfig configures the execution bridge.
type ExecutionConfig struct {
	DefaultTimeout time.Duration `koanf:"default_timeout"`
	MaxTimeout     time.Duration `koanf:"max_timeout"`
	InterruptGrace time.Duration `koanf:"interrupt_grace"`
}

// InstallConfig configures the package installer.
type InstallConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// RenderConfig selects optional parts of a rendered execution result.
type RenderConfig struct {
	EchoCode bool `koanf:"echo_code"`
	HTML     bool `koanf:"html"`
}

// JournalConfig configures the execution history store.
type JournalConfig struct {
	Path string `koanf:"path"`
}

// LogConfig configures file logging.
type LogConfig struct {
	// File is the log file. Empty means <os temp>/kernelmcp/kernelmcp.log.
	File  string `koanf:"file"`
	Level string `koanf:"level"`
}

// ServerConfig names the server in the protocol handshake.
type ServerConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

var logLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
	"fatal": true,
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Kernel: KernelConfig{
			Command:         kernel.DefaultCommand(),
			Env:             map[string]string{},
			StartupTimeout:  kernel.DefaultStartupTimeout,
			ShutdownTimeout: kernel.DefaultShutdownTimeout,
			StartupCode:     kernel.DefaultStartupCode(),
		},
		Execution: ExecutionConfig{
			DefaultTimeout: code.DefaultTimeout,
			MaxTimeout:     code.MaxTimeout,
			InterruptGrace: kernelengine.DefaultInterruptGrace,
		},
		Install: InstallConfig{Timeout: install.DefaultTimeout},
		Render:  RenderConfig{EchoCode: true, HTML: true},
		Journal: JournalConfig{Path: journal.MemoryPath},
		Log:     LogConfig{Level: "info"},
		Server:  ServerConfig{Name: "PyKernel", Version: "0.1.0"},
	}
}

// Validate reports every invalid value, wrapped in ErrConfiguration.
func (c Config) Validate() error {
	var problems []string

	if len(c.Kernel.Command) == 0 || strings.TrimSpace(c.Kernel.Command[0]) == "" {
		problems = append(problems, "kernel.command is empty")
	}
	positive := []struct {
		key string
		d   time.Duration
	}{
		{"kernel.startup_timeout", c.Kernel.StartupTimeout},
		{"kernel.shutdown_timeout", c.Kernel.ShutdownTimeout},
		{"execution.default_timeout", c.Execution.DefaultTimeout},
		{"execution.max_timeout", c.Execution.MaxTimeout},
		{"execution.interrupt_grace", c.Execution.InterruptGrace},
		{"install.timeout", c.Install.Timeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive, got %v", p.key, p.d))
		}
	}
	if c.Execution.DefaultTimeout > c.Execution.MaxTimeout {
		problems = append(problems, fmt.Sprintf("execution.default_timeout %v exceeds execution.max_timeout %v",
			c.Execution.DefaultTimeout, c.Execution.MaxTimeout))
	}
	if c.Install.Timeout > c.Execution.MaxTimeout {
		problems = append(problems, fmt.Sprintf("install.timeout %v exceeds execution.max_timeout %v",
			c.Install.Timeout, c.Execution.MaxTimeout))
	}
	if !logLevels[strings.ToLower(c.Log.Level)] {
		problems = append(problems, fmt.Sprintf("log.level %q is not one of trace, debug, info, warn, error, fatal", c.Log.Level))
	}
	if c.Server.Name == "" {
		problems = append(problems, "server.name is empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, ", "))
	}
	return nil
}

// KernelManagerConfig returns the kernel supervisor settings.
func (c Config) KernelManagerConfig(logger kernel.Logger) kernel.Config {
	startup := c.Kernel.StartupCode
	if startup == nil {
		startup = []string{}
	}
	return kernel.Config{
		Command:         c.Kernel.Command,
		WorkDir:         c.Kernel.WorkDir,
		Env:             c.Kernel.Env,
		StartupTimeout:  c.Kernel.StartupTimeout,
		ShutdownTimeout: c.Kernel.ShutdownTimeout,
		StartupCode:     startup,
		Logger:          logger,
	}
}

// ExecutorConfig returns the execution bridge settings for engine.
func (c Config) ExecutorConfig(engine code.Engine, journal code.Recorder, logger code.Logger) code.Config {
	return code.Config{
		Engine:         engine,
		DefaultTimeout: c.Execution.DefaultTimeout,
		MaxTimeout:     c.Execution.MaxTimeout,
		Journal:        journal,
		Logger:         logger,
	}
}

// EngineConfig returns the kernel engine settings for session.
func (c Config) EngineConfig(session kernelengine.Session, logger code.Logger) kernelengine.Config {
	return kernelengine.Config{
		Session:        session,
		InterruptGrace: c.Execution.InterruptGrace,
		Logger:         logger,
	}
}

// InstallerConfig returns the package installer settings for executor.
func (c Config) InstallerConfig(executor code.Executor, logger code.Logger) install.Config {
	return install.Config{
		Executor: executor,
		Timeout:  c.Install.Timeout,
		Logger:   logger,
	}
}
