// Package code is the execution bridge between tool calls and a persistent
// Python kernel.
//
// # Architecture
//
// The package defines two main interfaces:
//
//   - [Engine]: runs a snippet in a persistent interpreter and returns
//     everything it produced. The kernelengine package implements it over a
//     Jupyter kernel.
//
//   - [Executor]: the main entry point. It applies timeout defaults and caps,
//     runs executions one at a time in arrival order, classifies failures and
//     records each execution in an optional [Recorder].
//
// # Output Collection
//
// [Collector] folds the kernel's iopub messages into an [ExecuteResult]:
// stream text, execute_result and display_data (images preferred over
// text/plain), exceptions with ANSI-stripped tracebacks, and clear_output.
//
// # Execution Limits
//
// The timeout is applied via context deadline. On expiry the result is marked
// TimedOut, carries the notice "Execution timed out after N seconds", and the
// returned error wraps [ErrLimitExceeded]. Partial output is kept.
//
// # Errors
//
// An exception raised by the code is returned both in [ExecuteResult].Error
// and as a [CodeError] matching [ErrCodeExecution]. A kernel that exits
// mid-execution yields [ErrKernelDied].
package code
