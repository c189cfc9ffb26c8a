// Command kernelmcp serves a persistent IPython kernel as MCP tools over
// STDIO.
//
// Usage:
//
//	kernelmcp [-config kernelmcp.yaml]
//
// Logs go to a file (log.file, default <os temp>/kernelmcp/kernelmcp.log)
// because stdout carries the protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HildaM/logs/slog"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/kernelmcp/code"
	"github.com/jonwraymond/kernelmcp/config"
	"github.com/jonwraymond/kernelmcp/install"
	"github.com/jonwraymond/kernelmcp/journal"
	"github.com/jonwraymond/kernelmcp/kernel"
	"github.com/jonwraymond/kernelmcp/kernelengine"
	"github.com/jonwraymond/kernelmcp/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if flag.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: kernelmcp [-config path]")
		os.Exit(2)
	}
	if err := run(*configPath, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "kernelmcp:", err)
		os.Exit(1)
	}
}

// runtimeDeps are the resources shutdown releases.
type runtimeDeps struct {
	manager *kernel.Manager
	journal *journal.Journal
	loader  *config.Loader
}

func run(configPath string, stderr io.Writer) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if err := initLogging(cfg.Log); err != nil {
		return err
	}
	slog.Info("starting %s %s, config=%q", cfg.Server.Name, cfg.Server.Version, configPath)

	deps, srv, executor, err := build(cfg, loader)
	if err != nil {
		slog.Error("startup failed: %v", err)
		return err
	}

	if err := loader.Watch(func(next config.Config, err error) {
		if err != nil {
			slog.Error("config reload rejected: %v", err)
			return
		}
		applyReload(next, executor, srv)
	}); err != nil {
		slog.Error("config watch disabled: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	err = srv.Run(ctx, &mcp.StdioTransport{})
	if err != nil && ctx.Err() == nil {
		slog.Error("server stopped: %v", err)
	}

	stop := watchSecondSignal(sigCh, stderr)
	defer stop()
	shutdown(deps, stderr)
	return nil
}

// build wires the kernel, the execution bridge and the server.
func build(cfg config.Config, loader *config.Loader) (*runtimeDeps, *server.Server, *code.DefaultExecutor, error) {
	kernelCfg := cfg.KernelManagerConfig(kernelLogger{})
	manager, err := kernel.NewManager(kernelCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	engine, err := kernelengine.New(cfg.EngineConfig(manager, logger("engine")))
	if err != nil {
		return nil, nil, nil, err
	}
	history, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	deps := &runtimeDeps{manager: manager, journal: history, loader: loader}

	executor, err := code.NewDefaultExecutor(cfg.ExecutorConfig(engine, &journal.Recorder{Journal: history}, logger("exec")))
	if err != nil {
		_ = history.Close()
		return nil, nil, nil, err
	}
	installer, err := install.New(cfg.InstallerConfig(executor, logger("install")))
	if err != nil {
		_ = history.Close()
		return nil, nil, nil, err
	}
	srv, err := server.New(server.Config{
		Executor:    executor,
		Kernel:      manager,
		Installer:   installer,
		History:     history,
		Name:        cfg.Server.Name,
		Version:     cfg.Server.Version,
		StartupCode: kernelCfg.StartupCode,
		Render:      renderOptions(cfg.Render),
		Logger:      logger("server"),
	})
	if err != nil {
		_ = history.Close()
		return nil, nil, nil, err
	}
	return deps, srv, executor, nil
}

// reloadable is the part of the running server a config reload can change.
type reloadable interface {
	SetRenderOptions(server.RenderOptions)
}

type timeoutSetter interface {
	SetDefaultTimeout(d time.Duration)
}

// applyReload applies settings that can change without a restart. The
// other settings take effect on the next start.
func applyReload(cfg config.Config, executor timeoutSetter, srv reloadable) {
	executor.SetDefaultTimeout(cfg.Execution.DefaultTimeout)
	srv.SetRenderOptions(renderOptions(cfg.Render))
	slog.Info("config reloaded: default_timeout=%v echo_code=%v html=%v",
		cfg.Execution.DefaultTimeout, cfg.Render.EchoCode, cfg.Render.HTML)
}

func renderOptions(r config.RenderConfig) server.RenderOptions {
	return server.RenderOptions{EchoCode: r.EchoCode, HTML: r.HTML}
}
