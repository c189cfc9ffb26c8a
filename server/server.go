// Package server exposes the kernel as MCP tools over STDIO.
//
// The server registers the tools defined by the catalog package, runs code
// through a code.Executor and renders every execution as ordered MCP
// content: kernel info, echoed code, images, output, errors and an HTML
// view.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/kernelmcp/catalog"
	"github.com/jonwraymond/kernelmcp/code"
	"github.com/jonwraymond/kernelmcp/journal"
	"github.com/jonwraymond/kernelmcp/kernel"
)

// ErrConfiguration indicates an invalid or incomplete configuration.
var ErrConfiguration = errors.New("configuration error")

// KernelManager is the kernel lifecycle surface the tools use.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Info must not block on a kernel that is starting.
// - Interrupt returns kernel.ErrNotRunning when no kernel is alive.
type KernelManager interface {
	Info() kernel.Info
	Restart(ctx context.Context) (kernel.Info, error)
	Interrupt(ctx context.Context) error
}

// Installer installs packages into the kernel.
type Installer interface {
	Install(ctx context.Context, spec string) (code.ExecuteResult, error)
}

// History lists recorded executions.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	CountByKernel(ctx context.Context, kernelID string) (int, error)
}

// Config configures a Server.
type Config struct {
	// Executor runs code. Required.
	Executor code.Executor

	// Kernel supervises the kernel process. Required.
	Kernel KernelManager

	// Installer installs packages. Required.
	Installer Installer

	// History backs execution_history. Optional; the tool reports the
	// history as disabled when nil.
	History History

	// Catalog defines the tools. Defaults to catalog.Default().
	Catalog *catalog.Catalog

	// Name and Version identify the server. Default to "PyKernel" and "0.1.0".
	Name    string
	Version string

	// StartupCode is what every new kernel runs first; the server
	// instructions list it. Nil means kernel.DefaultStartupCode().
	StartupCode []string

	// Render selects optional result content.
	Render RenderOptions

	// Logger is an optional logger.
	Logger code.Logger
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	var missing []string
	if c.Executor == nil {
		missing = append(missing, "Executor")
	}
	if c.Kernel == nil {
		missing = append(missing, "Kernel")
	}
	if c.Installer == nil {
		missing = append(missing, "Installer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Catalog == nil {
		c.Catalog = catalog.Default()
	}
	if c.StartupCode == nil {
		c.StartupCode = kernel.DefaultStartupCode()
	}
	if c.Name == "" {
		c.Name = "PyKernel"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

// Server is the MCP front end.
type Server struct {
	cfg    Config
	mcp    *mcp.Server
	render atomic.Pointer[RenderOptions]
}

// New creates a Server and registers its tools.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	s := &Server{cfg: cfg}
	s.SetRenderOptions(cfg.Render)
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: cfg.Name, Version: cfg.Version},
		&mcp.ServerOptions{Instructions: catalog.Instructions(cfg.StartupCode)},
	)
	if err := s.registerTools(); err != nil {
		return nil, err
	}
	return s, nil
}

// Run serves on t until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	s.logf("serving %s %s", s.cfg.Name, s.cfg.Version)
	return s.mcp.Run(ctx, t)
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// SetRenderOptions replaces the render options used by later calls.
func (s *Server) SetRenderOptions(opts RenderOptions) {
	s.render.Store(&opts)
}

// RenderOptions returns the current render options.
func (s *Server) RenderOptions() RenderOptions {
	return *s.render.Load()
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Logf(format, args...)
	}
}
