package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/kernelmcp/code"
	"github.com/jonwraymond/kernelmcp/journal"
	"github.com/jonwraymond/kernelmcp/kernel"
)

// mockExecutor implements code.Executor for testing.
type mockExecutor struct {
	mu     sync.Mutex
	result code.ExecuteResult
	err    error
	calls  []code.ExecuteParams
}

func (m *mockExecutor) ExecuteCode(_ context.Context, params code.ExecuteParams) (code.ExecuteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, params)
	return m.result, m.err
}

func (m *mockExecutor) lastCall() code.ExecuteParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return code.ExecuteParams{}
	}
	return m.calls[len(m.calls)-1]
}

// mockInstaller implements Installer for testing.
type mockInstaller struct {
	mu     sync.Mutex
	result code.ExecuteResult
	err    error
	specs  []string
}

func (m *mockInstaller) Install(_ context.Context, spec string) (code.ExecuteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs = append(m.specs, spec)
	return m.result, m.err
}

// mockKernel implements KernelManager for testing.
type mockKernel struct {
	mu           sync.Mutex
	info         kernel.Info
	restartErr   error
	interruptErr error
	restarts     int
	interrupts   int
}

func (m *mockKernel) Info() kernel.Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

func (m *mockKernel) Restart(context.Context) (kernel.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
	if m.restartErr != nil {
		return kernel.Info{}, m.restartErr
	}
	m.info = kernel.Info{Running: true, ID: fmt.Sprintf("restarted-kernel-%d", m.restarts), Restarts: m.restarts}
	return m.info, nil
}

func (m *mockKernel) Interrupt(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupts++
	return m.interruptErr
}

// mockHistory implements History for testing.
type mockHistory struct {
	entries []journal.Entry
	err     error
	limits  []int
}

func (m *mockHistory) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	m.limits = append(m.limits, limit)
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.entries) {
		return m.entries[:limit], nil
	}
	return m.entries, nil
}

func (m *mockHistory) CountByKernel(_ context.Context, kernelID string) (int, error) {
	n := 0
	for _, e := range m.entries {
		if e.KernelID == kernelID {
			n++
		}
	}
	return n, m.err
}

// mockLogger implements code.Logger for testing.
type mockLogger struct {
	mu   sync.Mutex
	logs []string
}

func (m *mockLogger) Logf(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, fmt.Sprintf(format, args...))
}

type fixture struct {
	executor  *mockExecutor
	installer *mockInstaller
	kernel    *mockKernel
	history   *mockHistory
	server    *Server
	session   *mcp.ClientSession
}

func runningKernel() kernel.Info {
	return kernel.Info{
		Running:        true,
		ID:             "0123456789abcdef",
		Uptime:         12340 * time.Millisecond,
		ExecutionState: "idle",
		Language:       "python",
	}
}

// newFixture starts a server with mock dependencies and connects a client
// over in-memory transports.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test adjust the server config before it starts.
func newFixtureWith(t *testing.T, adjust func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		executor:  &mockExecutor{},
		installer: &mockInstaller{},
		kernel:    &mockKernel{info: runningKernel()},
		history:   &mockHistory{},
	}
	cfg := Config{
		Executor:  f.executor,
		Kernel:    f.kernel,
		Installer: f.installer,
		History:   f.history,
		Render:    RenderOptions{EchoCode: true, HTML: true},
		Logger:    &mockLogger{},
	}
	if adjust != nil {
		adjust(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.server = srv

	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := srv.MCP().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	f.session = cs
	return f
}

func (f *fixture) call(t *testing.T, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	res, err := f.session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

// texts returns the text of every TextContent item.
func texts(content []mcp.Content) []string {
	var out []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			out = append(out, tc.Text)
		}
	}
	return out
}

// resources returns every embedded resource.
func resources(content []mcp.Content) []*mcp.ResourceContents {
	var out []*mcp.ResourceContents
	for _, c := range content {
		if er, ok := c.(*mcp.EmbeddedResource); ok {
			out = append(out, er.Resource)
		}
	}
	return out
}

func joined(content []mcp.Content) string {
	return strings.Join(texts(content), "\n")
}
