package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/HildaM/logs/slog"

	"github.com/jonwraymond/kernelmcp/config"
)

// logPath returns the configured log file or the default under the OS
// temp directory.
func logPath(cfg config.LogConfig) string {
	if cfg.File != "" {
		return cfg.File
	}
	return filepath.Join(os.TempDir(), "kernelmcp", "kernelmcp.log")
}

// initLogging sends all logs to a file. Stdout carries the protocol.
func initLogging(cfg config.LogConfig) error {
	path := logPath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	level := strings.ToLower(cfg.Level)
	if err := slog.InitFile(path, slog.WithLevel(level), slog.WithColor(false)); err != nil {
		return fmt.Errorf("init log file %s: %w", path, err)
	}
	return nil
}

// kernelLogger adapts slog to kernel.Logger.
type kernelLogger struct{}

func (kernelLogger) Debug(format string, args ...any) { slog.Debug("[kernel] "+format, args...) }
func (kernelLogger) Info(format string, args ...any)  { slog.Info("[kernel] "+format, args...) }
func (kernelLogger) Error(format string, args ...any) { slog.Error("[kernel] "+format, args...) }

// componentLogger adapts slog to code.Logger.
type componentLogger struct {
	prefix string
}

func logger(component string) componentLogger {
	return componentLogger{prefix: "[" + component + "] "}
}

func (l componentLogger) Logf(format string, args ...any) {
	slog.Info(l.prefix+format, args...)
}
