package code

import "context"

// Engine is the pluggable code execution engine. Implementations run the
// snippet in a persistent interpreter and fold its output into an
// ExecuteResult.
//
// The Engine should:
//   - Return partial output collected before a cancellation or deadline
//   - Report a kernel exception in ExecuteResult.Error, not as an error
//   - Wrap a kernel that exits mid-execution with ErrKernelDied
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return ctx.Err() when canceled.
// - Ownership: params are read-only; returned ExecuteResult is caller-owned.
type Engine interface {
	// Execute runs a code snippet and returns everything it produced.
	Execute(ctx context.Context, params ExecuteParams) (ExecuteResult, error)
}

// Recorder persists a summary of every execution.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: failures are logged by the executor and never fail an execution.
type Recorder interface {
	Record(ctx context.Context, params ExecuteParams, result ExecuteResult) error
}

// Preparer is implemented by engines that need warm-up before running code,
// such as starting an interpreter. The executor calls Prepare before the
// execution timeout starts, so a cold start does not consume it.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: ctx carries the caller's cancellation, not the execution timeout.
type Preparer interface {
	Prepare(ctx context.Context) error
}
