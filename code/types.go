package code

import (
	"strings"
	"time"
)

// Execution kinds recorded in the journal.
const (
	KindExecute = "execute"
	KindInstall = "install"
)

// Execution statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusAborted = "aborted"
	StatusTimeout = "timeout"
)

// OutputKind classifies an output chunk.
type OutputKind string

// Output kinds.
const (
	OutputStream  OutputKind = "stream"
	OutputResult  OutputKind = "result"
	OutputDisplay OutputKind = "display"
)

// ExecuteParams specifies the parameters for executing a code snippet.
type ExecuteParams struct {
	// Code is the Python source to execute.
	Code string `json:"code"`

	// Timeout specifies the maximum duration for execution.
	// If zero, the executor's default timeout is used. Values above the
	// executor's maximum are capped.
	Timeout time.Duration `json:"timeout"`

	// Silent suppresses broadcast output.
	Silent bool `json:"silent,omitempty"`

	// StoreHistory records the code in the kernel's input history.
	StoreHistory bool `json:"storeHistory,omitempty"`

	// Kind labels the execution for the journal. Defaults to KindExecute.
	Kind string `json:"kind,omitempty"`
}

// Output is one ordered chunk of textual output.
type Output struct {
	Kind OutputKind `json:"kind"`

	// Name is "stdout" or "stderr" for streams.
	Name string `json:"name,omitempty"`

	Text string `json:"text"`
}

// Image is a rich image output, e.g. a matplotlib figure.
type Image struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Extension returns the file extension for the image MIME type.
func (i Image) Extension() string {
	switch i.MIMEType {
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/svg+xml":
		return "svg"
	default:
		return "png"
	}
}

// ExecutionError is an exception raised by the executed code.
type ExecutionError struct {
	Name      string   `json:"name"`
	Value     string   `json:"value"`
	Traceback []string `json:"traceback,omitempty"`
}

// ExecuteResult contains the outcome of executing a code snippet.
type ExecuteResult struct {
	// KernelID identifies the kernel that ran the code.
	KernelID string `json:"kernelId,omitempty"`

	// ExecutionCount is the kernel's execution counter for this request.
	ExecutionCount int `json:"executionCount,omitempty"`

	// Status is one of StatusOK, StatusError, StatusAborted, StatusTimeout.
	Status string `json:"status"`

	// Outputs holds stream, result and display text in arrival order.
	Outputs []Output `json:"outputs,omitempty"`

	// Images holds image outputs in arrival order.
	Images []Image `json:"images,omitempty"`

	// Error is set when the code raised an exception.
	Error *ExecutionError `json:"error,omitempty"`

	// Notices are bridge-level messages such as the timeout notice.
	Notices []string `json:"notices,omitempty"`

	// TimedOut reports whether the execution hit its timeout.
	TimedOut bool `json:"timedOut,omitempty"`

	// DurationMs is the total execution time in milliseconds.
	DurationMs int64 `json:"durationMs"`
}

// Stdout returns everything written to stdout.
func (r ExecuteResult) Stdout() string {
	return r.stream("stdout")
}

// Stderr returns everything written to stderr.
func (r ExecuteResult) Stderr() string {
	return r.stream("stderr")
}

func (r ExecuteResult) stream(name string) string {
	var b strings.Builder
	for _, o := range r.Outputs {
		if o.Kind == OutputStream && o.Name == name {
			b.WriteString(o.Text)
		}
	}
	return b.String()
}

// OutputText joins every output chunk, one chunk per line.
func (r ExecuteResult) OutputText() string {
	var b strings.Builder
	for _, o := range r.Outputs {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
		b.WriteString(o.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ErrorText returns the traceback followed by any notices.
func (r ExecuteResult) ErrorText() string {
	var lines []string
	if r.Error != nil {
		if len(r.Error.Traceback) > 0 {
			lines = append(lines, r.Error.Traceback...)
		} else {
			lines = append(lines, r.Error.Name+": "+r.Error.Value)
		}
	}
	lines = append(lines, r.Notices...)
	return strings.Join(lines, "\n")
}

// Failed reports whether the execution raised, timed out or was aborted.
func (r ExecuteResult) Failed() bool {
	return r.Error != nil || r.TimedOut || r.Status == StatusError ||
		r.Status == StatusAborted || r.Status == StatusTimeout
}

// Empty reports whether the execution produced nothing to show.
func (r ExecuteResult) Empty() bool {
	return len(r.Outputs) == 0 && len(r.Images) == 0 && r.Error == nil && len(r.Notices) == 0
}
