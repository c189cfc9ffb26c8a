package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/kernelmcp/catalog"
	"github.com/jonwraymond/kernelmcp/code"
	"github.com/jonwraymond/kernelmcp/install"
	"github.com/jonwraymond/kernelmcp/journal"
	"github.com/jonwraymond/kernelmcp/kernel"
)

func TestNew_Config(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	for _, field := range []string{"Executor", "Kernel", "Installer"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should name %s: %v", field, err)
		}
	}
}

func TestListTools(t *testing.T) {
	f := newFixture(t)
	res, err := f.session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	byName := map[string]bool{}
	for _, tool := range res.Tools {
		byName[tool.Name] = true
		if tool.Description == "" {
			t.Errorf("%s has no description", tool.Name)
		}
		if tool.InputSchema == nil {
			t.Errorf("%s has no input schema", tool.Name)
		}
	}
	for _, name := range []string{
		catalog.ExecutePython, catalog.InstallPackage, catalog.RestartKernel,
		catalog.KernelStatus, catalog.InterruptKernel, catalog.ExecutionHistory,
	} {
		if !byName[name] {
			t.Errorf("tool %s not listed", name)
		}
	}
}

func TestListTools_SchemaMatchesCatalog(t *testing.T) {
	f := newFixture(t)
	res, err := f.session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	cat := catalog.Default()
	for _, tool := range res.Tools {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			t.Fatalf("%s: marshal schema: %v", tool.Name, err)
		}
		var schema struct {
			Properties map[string]json.RawMessage `json:"properties"`
			Required   []string                   `json:"required"`
		}
		if err := json.Unmarshal(raw, &schema); err != nil {
			t.Fatalf("%s: decode schema: %v", tool.Name, err)
		}
		var served []string
		for p := range schema.Properties {
			served = append(served, p)
		}
		sort.Strings(served)
		sort.Strings(schema.Required)

		props, required, err := cat.InputSchemaProperties(tool.Name)
		if err != nil {
			t.Fatalf("%s: %v", tool.Name, err)
		}
		if strings.Join(served, ",") != strings.Join(props, ",") {
			t.Errorf("%s: served properties %v, catalog %v", tool.Name, served, props)
		}
		if strings.Join(schema.Required, ",") != strings.Join(required, ",") {
			t.Errorf("%s: served required %v, catalog %v", tool.Name, schema.Required, required)
		}
	}
}

func TestListTools_DescriptionsCarryDocs(t *testing.T) {
	f := newFixture(t)
	res, err := f.session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	for _, tool := range res.Tools {
		if tool.Name != catalog.InstallPackage {
			continue
		}
		if !strings.Contains(tool.Description, "Shell metacharacters are rejected.") ||
			!strings.Contains(tool.Description, `{"package":"requests"}`) {
			t.Errorf("install_package description lacks notes or examples: %q", tool.Description)
		}
		return
	}
	t.Fatal("install_package not listed")
}

func TestInstructions_FollowStartupCode(t *testing.T) {
	tests := []struct {
		name    string
		startup []string
		want    string
		notWant string
	}{
		{name: "default", startup: nil, want: "import pandas as pd"},
		{name: "custom", startup: []string{"import polars as pl"}, want: "import polars as pl", notWant: "pandas"},
		{name: "none", startup: []string{}, want: "nothing imported", notWant: "pandas"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureWith(t, func(c *Config) { c.StartupCode = tt.startup })
			got := f.session.InitializeResult().Instructions
			if !strings.Contains(got, tt.want) {
				t.Errorf("instructions missing %q: %q", tt.want, got)
			}
			if tt.notWant != "" && strings.Contains(got, tt.notWant) {
				t.Errorf("instructions should not mention %q: %q", tt.notWant, got)
			}
		})
	}
}

func TestExecutePython_Success(t *testing.T) {
	f := newFixture(t)
	f.executor.result = code.ExecuteResult{
		KernelID: "0123456789abcdef",
		Status:   code.StatusOK,
		Outputs:  []code.Output{stdout("42\n")},
	}

	res := f.call(t, catalog.ExecutePython, map[string]any{"code": "print(42)", "timeout_seconds": 2.5})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", joined(res.Content))
	}
	got := texts(res.Content)
	if got[0] != "**Kernel Info:** ID: `01234567...` | Uptime: `12.3s`" {
		t.Errorf("kernel info = %q", got[0])
	}
	if !strings.Contains(joined(res.Content), "**Output:**\n```\n42\n```") {
		t.Errorf("output missing:\n%s", joined(res.Content))
	}
	if len(resources(res.Content)) != 1 {
		t.Error("HTML resource missing")
	}

	call := f.executor.lastCall()
	if call.Code != "print(42)" || call.Timeout != 2500*time.Millisecond || !call.StoreHistory {
		t.Errorf("params = %+v", call)
	}
}

func TestExecutePython_DefaultTimeout(t *testing.T) {
	f := newFixture(t)
	f.call(t, catalog.ExecutePython, map[string]any{"code": "x = 1"})
	if got := f.executor.lastCall().Timeout; got != 0 {
		t.Errorf("Timeout = %v, want 0 so the executor default applies", got)
	}
}

func TestExecutePython_Failures(t *testing.T) {
	tests := []struct {
		name   string
		result code.ExecuteResult
		err    error
		want   string
	}{
		{
			name: "exception",
			result: code.ExecuteResult{KernelID: "0123456789abcdef", Status: code.StatusError,
				Error: &code.ExecutionError{Name: "NameError", Value: "name 'y' is not defined"}},
			err:  &code.CodeError{Name: "NameError", Value: "name 'y' is not defined"},
			want: "NameError: name 'y' is not defined",
		},
		{
			name: "timeout",
			result: code.ExecuteResult{KernelID: "0123456789abcdef", Status: code.StatusTimeout, TimedOut: true,
				Notices: []string{code.TimeoutNotice(time.Second)}},
			err:  fmt.Errorf("%w: timeout after 1s", code.ErrLimitExceeded),
			want: "Execution timed out after 1 seconds",
		},
		{
			name: "kernel died",
			result: code.ExecuteResult{KernelID: "0123456789abcdef", Status: code.StatusAborted,
				Notices: []string{"Kernel died during execution. It will be restarted on the next call."}},
			err:  fmt.Errorf("%w: kernel is dead", code.ErrKernelDied),
			want: "Kernel died during execution",
		},
		{
			name: "start failure",
			err:  fmt.Errorf("%w: python3 not found", kernel.ErrStartup),
			want: "Execution failed: kernel startup failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.executor.result = tt.result
			f.executor.err = tt.err

			res := f.call(t, catalog.ExecutePython, map[string]any{"code": "y"})
			if !res.IsError {
				t.Error("IsError should be set")
			}
			text := joined(res.Content)
			if !strings.Contains(text, "**Errors:**") || !strings.Contains(text, tt.want) {
				t.Errorf("errors block missing %q:\n%s", tt.want, text)
			}
			if strings.Count(text, tt.want) != 1 {
				t.Errorf("%q should appear once:\n%s", tt.want, text)
			}
		})
	}
}

func TestExecutePython_InvalidInput(t *testing.T) {
	f := newFixture(t)

	for _, args := range []map[string]any{
		{"code": "   "},
		{"code": "x", "timeout_seconds": -1},
	} {
		res := f.call(t, catalog.ExecutePython, args)
		if !res.IsError {
			t.Errorf("args %v should fail", args)
		}
	}
	if len(f.executor.calls) != 0 {
		t.Error("invalid input must not reach the executor")
	}
}

func TestExecutePython_RenderOptions(t *testing.T) {
	f := newFixture(t)
	f.server.SetRenderOptions(RenderOptions{})
	f.executor.result = code.ExecuteResult{KernelID: "0123456789abcdef", Status: code.StatusOK}

	res := f.call(t, catalog.ExecutePython, map[string]any{"code": "x = 1"})
	if strings.Contains(joined(res.Content), "**Executed:**") || len(resources(res.Content)) != 0 {
		t.Errorf("render options ignored:\n%s", joined(res.Content))
	}
	if f.server.RenderOptions() != (RenderOptions{}) {
		t.Error("RenderOptions not updated")
	}
}

func TestExecutePython_RestartedKernelID(t *testing.T) {
	f := newFixture(t)
	f.executor.result = code.ExecuteResult{KernelID: "ffffffff-old", Status: code.StatusAborted}

	res := f.call(t, catalog.ExecutePython, map[string]any{"code": "x"})
	if got := texts(res.Content)[0]; got != "**Kernel Info:** ID: `ffffffff...` | Uptime: `0.0s`" {
		t.Errorf("kernel info should name the kernel that ran the code, got %q", got)
	}
}

func TestInstallPackage(t *testing.T) {
	f := newFixture(t)
	f.installer.result = code.ExecuteResult{
		KernelID: "0123456789abcdef",
		Status:   code.StatusOK,
		Outputs:  []code.Output{stdout("Successfully installed requests-2.32.0\n")},
	}

	res := f.call(t, catalog.InstallPackage, map[string]any{"package": "requests"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", joined(res.Content))
	}
	text := joined(res.Content)
	if !strings.Contains(text, "```python\n%pip install 'requests'\n```") {
		t.Errorf("pip command not echoed:\n%s", text)
	}
	if !strings.Contains(text, "Successfully installed") {
		t.Errorf("pip output missing:\n%s", text)
	}
	if len(f.installer.specs) != 1 || f.installer.specs[0] != "requests" {
		t.Errorf("specs = %v", f.installer.specs)
	}
}

func TestInstallPackage_Invalid(t *testing.T) {
	f := newFixture(t)
	res := f.call(t, catalog.InstallPackage, map[string]any{"package": "requests; rm -rf /"})
	if !res.IsError || !strings.Contains(joined(res.Content), "invalid package specifier") {
		t.Errorf("result = %s", joined(res.Content))
	}
	if len(f.installer.specs) != 0 {
		t.Error("installer must not be called")
	}
}

func TestInstallPackage_PipFailure(t *testing.T) {
	f := newFixture(t)
	f.installer.result = code.ExecuteResult{
		KernelID: "0123456789abcdef",
		Status:   code.StatusError,
		Outputs:  []code.Output{{Kind: code.OutputStream, Name: "stderr", Text: "ERROR: No matching distribution found for nopenope\n"}},
		Notices:  []string{"pip reported an error: ERROR: No matching distribution found for nopenope"},
	}
	f.installer.err = fmt.Errorf("%w: ERROR: No matching distribution", install.ErrInstallFailed)

	res := f.call(t, catalog.InstallPackage, map[string]any{"package": "nopenope"})
	if !res.IsError {
		t.Error("IsError should be set")
	}
	if strings.Contains(joined(res.Content), "Execution failed") {
		t.Error("pip failure is already described by the notices")
	}
}

func TestRestartKernel(t *testing.T) {
	f := newFixture(t)
	res := f.call(t, catalog.RestartKernel, nil)
	if res.IsError || joined(res.Content) != "Kernel restarted. New ID: restarted-kernel-1" {
		t.Errorf("result = %q", joined(res.Content))
	}

	f.kernel.restartErr = errors.New("boom")
	res = f.call(t, catalog.RestartKernel, nil)
	if !res.IsError || !strings.Contains(joined(res.Content), "boom") {
		t.Errorf("result = %q", joined(res.Content))
	}
}

func TestKernelStatus(t *testing.T) {
	f := newFixture(t)
	f.history.entries = []journal.Entry{{KernelID: "0123456789abcdef"}, {KernelID: "other"}}

	res := f.call(t, catalog.KernelStatus, nil)
	text := joined(res.Content)
	for _, want := range []string{"ID: 0123456789abcdef", "State: Idle", "Recorded Executions: 1", "Language: Python"} {
		if !strings.Contains(text, want) {
			t.Errorf("status missing %q:\n%s", want, text)
		}
	}

	f.kernel.info = kernel.Info{}
	if got := joined(f.call(t, catalog.KernelStatus, nil).Content); got != "No kernel running" {
		t.Errorf("status = %q", got)
	}
}

func TestInterruptKernel(t *testing.T) {
	f := newFixture(t)
	res := f.call(t, catalog.InterruptKernel, nil)
	if res.IsError || joined(res.Content) != "Interrupt sent to kernel 01234567." {
		t.Errorf("result = %q", joined(res.Content))
	}

	f.kernel.interruptErr = kernel.ErrNotRunning
	if got := joined(f.call(t, catalog.InterruptKernel, nil).Content); got != "No kernel running" {
		t.Errorf("result = %q", got)
	}

	f.kernel.interruptErr = errors.New("signal failed")
	if res := f.call(t, catalog.InterruptKernel, nil); !res.IsError {
		t.Error("IsError should be set")
	}
}

func TestExecutionHistory(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 150; i++ {
		f.history.entries = append(f.history.entries, journal.Entry{
			KernelID: "0123456789abcdef", Kind: code.KindExecute, Status: code.StatusOK, Code: fmt.Sprintf("x = %d", i),
		})
	}

	tests := []struct {
		name      string
		args      map[string]any
		wantLimit int
	}{
		{"default", nil, DefaultHistoryLimit},
		{"explicit", map[string]any{"limit": 3}, 3},
		{"capped", map[string]any{"limit": 500}, MaxHistoryLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.call(t, catalog.ExecutionHistory, tt.args)
			if res.IsError {
				t.Fatalf("unexpected error: %s", joined(res.Content))
			}
			if got := f.history.limits[len(f.history.limits)-1]; got != tt.wantLimit {
				t.Errorf("limit = %d, want %d", got, tt.wantLimit)
			}
			if !strings.Contains(joined(res.Content), fmt.Sprintf("Recent executions (%d, newest first)", tt.wantLimit)) {
				t.Errorf("unexpected text:\n%s", joined(res.Content))
			}
		})
	}

	if res := f.call(t, catalog.ExecutionHistory, map[string]any{"limit": -1}); !res.IsError {
		t.Error("negative limit should fail")
	}

	f.history.err = errors.New("disk gone")
	if res := f.call(t, catalog.ExecutionHistory, nil); !res.IsError {
		t.Error("history error should fail")
	}
}

func TestExecutionHistory_Disabled(t *testing.T) {
	srv, err := New(Config{Executor: &mockExecutor{}, Kernel: &mockKernel{}, Installer: &mockInstaller{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, _, err := srv.executionHistory(context.Background(), nil, HistoryInput{})
	if err != nil || joined(res.Content) != "Execution history is disabled." {
		t.Errorf("result = %v, %v", res, err)
	}
}
