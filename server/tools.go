package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/kernelmcp/catalog"
	"github.com/jonwraymond/kernelmcp/code"
	"github.com/jonwraymond/kernelmcp/install"
	"github.com/jonwraymond/kernelmcp/kernel"
)

// History limits.
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// maxTimeoutSeconds keeps the duration conversion in range; the executor
// applies the real cap.
const maxTimeoutSeconds = 1e6

// ExecuteInput is the input of execute_python.
type ExecuteInput struct {
	Code           string  `json:"code" jsonschema:"Python code to execute"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty" jsonschema:"Execution timeout in seconds"`
}

// InstallInput is the input of install_package.
type InstallInput struct {
	Package string `json:"package" jsonschema:"Package specifier, e.g. requests or pandas>=2.0"`
}

// HistoryInput is the input of execution_history.
type HistoryInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Number of entries to return (default 10, max 100)"`
}

// NoInput is the input of tools that take no arguments.
type NoInput struct{}

func (s *Server) registerTools() error {
	tools := []struct {
		name string
		add  func(*mcp.Tool)
	}{
		{catalog.ExecutePython, func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, s.executePython) }},
		{catalog.InstallPackage, func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, s.installPackage) }},
		{catalog.RestartKernel, func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, s.restartKernel) }},
		{catalog.KernelStatus, func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, s.kernelStatus) }},
		{catalog.InterruptKernel, func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, s.interruptKernel) }},
		{catalog.ExecutionHistory, func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, s.executionHistory) }},
	}
	for _, tool := range tools {
		def, err := s.cfg.Catalog.MCPTool(tool.name)
		if err != nil {
			return fmt.Errorf("register %s: %w", tool.name, err)
		}
		tool.add(def)
	}
	return nil
}

func (s *Server) executePython(ctx context.Context, _ *mcp.CallToolRequest, in ExecuteInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Code) == "" {
		return errorResult("No code provided."), nil, nil
	}
	if in.TimeoutSeconds < 0 {
		return errorResult(fmt.Sprintf("timeout_seconds must not be negative, got %v.", in.TimeoutSeconds)), nil, nil
	}

	result, err := s.cfg.Executor.ExecuteCode(ctx, code.ExecuteParams{
		Code:         in.Code,
		Timeout:      time.Duration(math.Min(in.TimeoutSeconds, maxTimeoutSeconds) * float64(time.Second)),
		StoreHistory: true,
	})
	return s.executionResult(in.Code, result, err), nil, nil
}

func (s *Server) installPackage(ctx context.Context, _ *mcp.CallToolRequest, in InstallInput) (*mcp.CallToolResult, any, error) {
	tokens, err := install.ParseSpec(in.Package)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	result, err := s.cfg.Installer.Install(ctx, in.Package)
	if errors.Is(err, install.ErrInstallFailed) {
		// Already described by the result's notices.
		err = nil
	}
	return s.executionResult(install.Command(tokens), result, err), nil, nil
}

// executionResult renders an execution. Errors the result already
// describes are not repeated; anything else becomes a notice.
func (s *Server) executionResult(src string, result code.ExecuteResult, err error) *mcp.CallToolResult {
	if err != nil && !described(err) {
		s.logf("execution failed: %v", err)
		result.Notices = append(result.Notices, "Execution failed: "+err.Error())
		if result.Status == "" {
			result.Status = code.StatusError
		}
	}

	info := s.cfg.Kernel.Info()
	view := View{
		Code:     src,
		KernelID: result.KernelID,
		Result:   result,
	}
	if info.Running && (view.KernelID == "" || view.KernelID == info.ID) {
		view.KernelID = info.ID
		view.Uptime = info.Uptime
	}

	return &mcp.CallToolResult{
		Content: Render(view, s.RenderOptions()),
		IsError: result.Failed() || err != nil,
	}
}

func described(err error) bool {
	return errors.Is(err, code.ErrCodeExecution) ||
		errors.Is(err, code.ErrLimitExceeded) ||
		errors.Is(err, code.ErrKernelDied)
}

func (s *Server) restartKernel(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
	info, err := s.cfg.Kernel.Restart(ctx)
	if err != nil {
		s.logf("restart failed: %v", err)
		return errorResult("Kernel restart failed: " + err.Error()), nil, nil
	}
	s.logf("kernel restarted: %s", info.ID)
	return textResult("Kernel restarted. New ID: " + info.ID), nil, nil
}

func (s *Server) kernelStatus(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
	info := s.cfg.Kernel.Info()
	if !info.Running {
		return textResult(StatusText(info, -1)), nil, nil
	}
	executions := -1
	if s.cfg.History != nil {
		n, err := s.cfg.History.CountByKernel(ctx, info.ID)
		if err != nil {
			s.logf("count executions: %v", err)
		} else {
			executions = n
		}
	}
	return textResult(StatusText(info, executions)), nil, nil
}

func (s *Server) interruptKernel(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
	err := s.cfg.Kernel.Interrupt(ctx)
	switch {
	case errors.Is(err, kernel.ErrNotRunning):
		return textResult("No kernel running"), nil, nil
	case err != nil:
		return errorResult("Interrupt failed: " + err.Error()), nil, nil
	}
	info := s.cfg.Kernel.Info()
	return textResult(fmt.Sprintf("Interrupt sent to kernel %s.", kernel.ShortID(info.ID))), nil, nil
}

func (s *Server) executionHistory(ctx context.Context, _ *mcp.CallToolRequest, in HistoryInput) (*mcp.CallToolResult, any, error) {
	if s.cfg.History == nil {
		return textResult("Execution history is disabled."), nil, nil
	}
	limit := in.Limit
	switch {
	case limit < 0:
		return errorResult(fmt.Sprintf("limit must not be negative, got %d.", limit)), nil, nil
	case limit == 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	entries, err := s.cfg.History.Recent(ctx, limit)
	if err != nil {
		s.logf("history: %v", err)
		return errorResult("Could not read execution history: " + err.Error()), nil, nil
	}
	return textResult(HistoryText(entries)), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}, IsError: true}
}
