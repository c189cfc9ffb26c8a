package code

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// Executor is the main entry point for executing code snippets.
// It applies defaults and limits, serializes access to the kernel and
// records results.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Ordering: executions run one at a time in arrival order.
// - Context: must honor cancellation/deadlines; the execution timeout is wrapped with ErrLimitExceeded.
// - Errors: configuration failures return ErrConfiguration; kernel exceptions return CodeError.
// - Ownership: params are read-only; returned ExecuteResult is caller-owned.
type Executor interface {
	// ExecuteCode runs a code snippet with the given parameters.
	ExecuteCode(ctx context.Context, params ExecuteParams) (ExecuteResult, error)
}

// DefaultExecutor is the standard implementation of Executor.
type DefaultExecutor struct {
	cfg            Config
	turn           chan struct{}
	defaultTimeout atomic.Int64
}

// NewDefaultExecutor creates a new DefaultExecutor with the given configuration.
// Returns ErrConfiguration if any required field is missing.
func NewDefaultExecutor(cfg Config) (*DefaultExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	e := &DefaultExecutor{cfg: cfg, turn: make(chan struct{}, 1)}
	e.defaultTimeout.Store(int64(cfg.DefaultTimeout))
	return e, nil
}

// DefaultTimeout returns the timeout applied when params carry none.
func (e *DefaultExecutor) DefaultTimeout() time.Duration {
	return time.Duration(e.defaultTimeout.Load())
}

// SetDefaultTimeout replaces the default timeout, capped at the maximum.
// Non-positive values are ignored.
func (e *DefaultExecutor) SetDefaultTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	if d > e.cfg.MaxTimeout {
		d = e.cfg.MaxTimeout
	}
	e.defaultTimeout.Store(int64(d))
	e.logf("default timeout set to %v", d)
}

// ExecuteCode runs a code snippet with the given parameters.
func (e *DefaultExecutor) ExecuteCode(ctx context.Context, params ExecuteParams) (ExecuteResult, error) {
	if params.Kind == "" {
		params.Kind = KindExecute
	}
	if params.Timeout <= 0 {
		params.Timeout = e.DefaultTimeout()
	}
	if params.Timeout > e.cfg.MaxTimeout {
		params.Timeout = e.cfg.MaxTimeout
	}

	// Goroutines blocked on a channel send are released in FIFO order.
	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		return ExecuteResult{}, ctx.Err()
	}
	defer func() { <-e.turn }()

	start := time.Now()
	var result ExecuteResult
	err := e.prepare(ctx)
	if err == nil {
		runCtx, cancel := context.WithTimeout(ctx, params.Timeout)
		result, err = e.cfg.Engine.Execute(runCtx, params)
		cancel()
	}
	result.DurationMs = time.Since(start).Milliseconds()

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		result.TimedOut = true
		result.Status = StatusTimeout
		result.Notices = append(result.Notices, TimeoutNotice(params.Timeout))
		err = fmt.Errorf("%w: timeout after %v", ErrLimitExceeded, params.Timeout)
	case err != nil && errors.Is(err, ErrKernelDied):
		result.Status = StatusAborted
		result.Notices = append(result.Notices, "Kernel died during execution. It will be restarted on the next call.")
	case err == nil && result.Error != nil:
		if result.Status == "" {
			result.Status = StatusError
		}
		err = newCodeError(result.Error)
	case err == nil && result.Status == "":
		result.Status = StatusOK
	}

	e.logf("%s on kernel %.8s: status=%s outputs=%d images=%d in %dms",
		params.Kind, result.KernelID, result.Status, len(result.Outputs), len(result.Images), result.DurationMs)
	e.record(ctx, params, result)

	return result, err
}

// prepare warms the engine up when it supports it.
func (e *DefaultExecutor) prepare(ctx context.Context) error {
	p, ok := e.cfg.Engine.(Preparer)
	if !ok {
		return nil
	}
	if err := p.Prepare(ctx); err != nil {
		e.logf("engine not ready: %v", err)
		return err
	}
	return nil
}

func (e *DefaultExecutor) record(ctx context.Context, params ExecuteParams, result ExecuteResult) {
	if e.cfg.Journal == nil {
		return
	}
	if err := e.cfg.Journal.Record(context.WithoutCancel(ctx), params, result); err != nil {
		e.logf("journal record failed: %v", err)
	}
}

func (e *DefaultExecutor) logf(format string, args ...any) {
	if e.cfg.Logger != nil {
		e.cfg.Logger.Logf(format, args...)
	}
}

// TimeoutNotice is the message appended to a result that hit its timeout.
func TimeoutNotice(d time.Duration) string {
	return "Execution timed out after " + strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + " seconds"
}
