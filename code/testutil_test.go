package code

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// mockEngine implements Engine for testing.
type mockEngine struct {
	mu sync.Mutex

	// Configurable returns
	executeResult ExecuteResult
	executeErr    error

	// run, when set, replaces the configured returns.
	run func(ctx context.Context, params ExecuteParams) (ExecuteResult, error)

	// Call tracking
	executeCalls []executeCall
}

type executeCall struct {
	ctx    context.Context
	params ExecuteParams
}

func (m *mockEngine) Execute(ctx context.Context, params ExecuteParams) (ExecuteResult, error) {
	m.mu.Lock()
	m.executeCalls = append(m.executeCalls, executeCall{ctx, params})
	run := m.run
	result, err := m.executeResult, m.executeErr
	m.mu.Unlock()

	if run != nil {
		return run(ctx, params)
	}
	return result, err
}

func (m *mockEngine) calls() []executeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]executeCall(nil), m.executeCalls...)
}

// preparingEngine is a mockEngine that also implements Preparer.
type preparingEngine struct {
	mockEngine

	prepare      func(ctx context.Context) error
	prepareCalls int
}

func (p *preparingEngine) Prepare(ctx context.Context) error {
	p.mu.Lock()
	p.prepareCalls++
	fn := p.prepare
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return nil
}

// mockRecorder implements Recorder for testing.
type mockRecorder struct {
	mu      sync.Mutex
	err     error
	params  []ExecuteParams
	results []ExecuteResult
}

func (r *mockRecorder) Record(_ context.Context, params ExecuteParams, result ExecuteResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = append(r.params, params)
	r.results = append(r.results, result)
	return r.err
}

// mockLogger implements Logger for testing.
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *mockLogger) Logf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

func (l *mockLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func newTestExecutor(t *testing.T, cfg Config) *DefaultExecutor {
	t.Helper()
	exec, err := NewDefaultExecutor(cfg)
	if err != nil {
		t.Fatalf("NewDefaultExecutor: %v", err)
	}
	return exec
}
