// Package kernelengine provides an adapter that implements code.Engine
// using a Jupyter kernel session for execution.
package kernelengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/kernelmcp/code"
	"github.com/jonwraymond/kernelmcp/kernel"
)

// DefaultInterruptGrace is how long an interrupted execution may take to
// go idle before the kernel is restarted.
const DefaultInterruptGrace = 5 * time.Second

// ErrSessionUnavailable is returned by New when no session is configured.
var ErrSessionUnavailable = errors.New("kernel session unavailable")

// Session is the subset of kernel.Manager the engine needs.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Run returns an Execution the caller must Close.
// - Restart kills any in-flight execution.
// - Ensure bounds a cold start by its own startup timeout.
type Session interface {
	Ensure(ctx context.Context) (*kernel.Kernel, error)
	Run(ctx context.Context, code string, opts kernel.ExecuteOptions) (*kernel.Execution, error)
	Interrupt(ctx context.Context) error
	Restart(ctx context.Context) (kernel.Info, error)
}

// Config configures an Engine.
type Config struct {
	// Session runs code on the kernel. Required.
	Session Session

	// InterruptGrace bounds the wait after an interrupt. Defaults to 5s.
	InterruptGrace time.Duration

	// Logger is an optional logger.
	Logger code.Logger
}

// Engine implements code.Engine over a kernel session.
type Engine struct {
	session Session
	grace   time.Duration
	logger  code.Logger
}

// New creates a new Engine with the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Session == nil {
		return nil, ErrSessionUnavailable
	}
	grace := cfg.InterruptGrace
	if grace <= 0 {
		grace = DefaultInterruptGrace
	}
	return &Engine{session: cfg.Session, grace: grace, logger: cfg.Logger}, nil
}

// Prepare implements code.Preparer by making sure a kernel is running and
// its startup code has run.
func (e *Engine) Prepare(ctx context.Context) error {
	_, err := e.session.Ensure(ctx)
	return mapError(err)
}

// Execute implements code.Engine. On ctx expiry it interrupts the kernel,
// keeps whatever output arrives within the grace period and returns
// ctx.Err() with the partial result.
func (e *Engine) Execute(ctx context.Context, params code.ExecuteParams) (code.ExecuteResult, error) {
	exec, err := e.session.Run(ctx, params.Code, kernel.ExecuteOptions{
		Silent:       params.Silent,
		StoreHistory: params.StoreHistory,
	})
	if err != nil {
		return code.ExecuteResult{}, mapError(err)
	}
	defer exec.Close()

	c := code.NewCollector(exec.KernelID)
	err = e.collect(ctx, exec, c)
	if err != nil && ctx.Err() != nil {
		e.stop(exec, c)
		return c.Result(), ctx.Err()
	}
	return c.Result(), mapError(err)
}

// collect feeds the collector until the kernel is idle and has replied.
func (e *Engine) collect(ctx context.Context, exec *kernel.Execution, c *code.Collector) error {
	for !c.Done() {
		select {
		case msg := <-exec.IOPub:
			e.add(c, msg)
		case msg := <-exec.Reply:
			var reply kernel.ExecuteReply
			if err := msg.DecodeContent(&reply); err != nil {
				return err
			}
			c.SetReply(reply.Status, reply.ExecutionCount, reply.EName, reply.EValue, reply.Traceback)
		case <-exec.Dead:
			e.drain(exec, c)
			return kernel.ErrDead
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// drain folds messages already queued when the kernel went away.
func (e *Engine) drain(exec *kernel.Execution, c *code.Collector) {
	for {
		select {
		case msg := <-exec.IOPub:
			e.add(c, msg)
		default:
			return
		}
	}
}

func (e *Engine) add(c *code.Collector, msg *kernel.Message) {
	if err := c.Add(msg.MsgType(), msg.Content); err != nil {
		e.logf("dropping %s: %v", msg.MsgType(), err)
	}
}

// stop interrupts the execution and waits for it to settle. A kernel that
// does not go idle within the grace period is restarted.
func (e *Engine) stop(exec *kernel.Execution, c *code.Collector) {
	ctx, cancel := context.WithTimeout(context.Background(), e.grace)
	defer cancel()

	if err := e.session.Interrupt(ctx); err != nil {
		e.logf("interrupt failed: %v", err)
	}
	err := e.collect(ctx, exec, c)
	if err == nil || errors.Is(err, kernel.ErrDead) {
		return
	}

	e.logf("kernel %.8s still busy %v after interrupt, restarting", exec.KernelID, e.grace)
	info, rerr := e.session.Restart(context.Background())
	if rerr != nil {
		e.logf("restart after timeout failed: %v", rerr)
		c.Notice("Kernel did not respond to the interrupt and could not be restarted: " + rerr.Error())
		return
	}
	c.Notice(fmt.Sprintf("Kernel did not respond to the interrupt and was restarted (new ID: %s). All state was lost.",
		kernel.ShortID(info.ID)))
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Logf(format, args...)
	}
}

// mapError converts kernel errors to code errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kernel.ErrDead) {
		return fmt.Errorf("%w: %v", code.ErrKernelDied, err)
	}
	return err
}
