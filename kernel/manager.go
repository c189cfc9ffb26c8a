package kernel

import (
	"context"
	"sync"
	"time"
)

// Info is a point-in-time view of the managed kernel.
type Info struct {
	Running               bool
	ID                    string
	PID                   int
	StartedAt             time.Time
	Uptime                time.Duration
	Restarts              int
	ExecutionState        string
	ExecutionCount        int
	Language              string
	LanguageVersion       string
	Implementation        string
	ImplementationVersion string
}

// Manager owns at most one kernel at a time and restarts it on demand.
//
// Contract:
// - Concurrency: safe for concurrent use. Lifecycle changes are serialized;
//   Info and Current never wait on a kernel that is starting.
// - Lazy start: the first Ensure or Run launches the kernel.
// - Recovery: a kernel found dead is replaced on the next Ensure.
type Manager struct {
	cfg   Config
	start func(context.Context, Config) (*Kernel, error)

	lifecycle sync.Mutex

	mu       sync.RWMutex
	kernel   *Kernel
	restarts int
}

// NewManager validates cfg and returns a Manager with no kernel running.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Manager{cfg: cfg, start: Start}, nil
}

// Ensure returns the running kernel, starting one if none is alive. The
// start is not bound to ctx; it is limited by StartupTimeout.
func (m *Manager) Ensure(ctx context.Context) (*Kernel, error) {
	if k := m.Current(); k != nil {
		return k, nil
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	k := m.kernel
	m.mu.RUnlock()
	if k != nil && k.Alive() {
		return k, nil
	}
	if k != nil {
		m.cfg.Logger.Info("kernel %s is dead, starting a replacement", ShortID(k.ID()))
		_ = k.Shutdown(context.WithoutCancel(ctx))
		m.mu.Lock()
		m.kernel = nil
		m.restarts++
		m.mu.Unlock()
	}
	return m.launch(ctx)
}

// launch starts a kernel and runs the startup code. Caller holds lifecycle.
// Both are bounded by StartupTimeout, not by the caller's deadline.
func (m *Manager) launch(ctx context.Context) (*Kernel, error) {
	ctx = context.WithoutCancel(ctx)
	k, err := m.start(ctx, m.cfg)
	if err != nil {
		m.cfg.Logger.Error("kernel start failed: %v", err)
		return nil, err
	}
	m.runStartupCode(ctx, k)

	m.mu.Lock()
	m.kernel = k
	m.mu.Unlock()
	return k, nil
}

// runStartupCode executes each configured snippet. Failures are logged and
// do not prevent the kernel from being used.
func (m *Manager) runStartupCode(ctx context.Context, k *Kernel) {
	for _, code := range m.cfg.StartupCode {
		sctx, cancel := context.WithTimeout(ctx, m.cfg.StartupTimeout)
		err := k.RunSilently(sctx, code)
		cancel()
		if err != nil {
			m.cfg.Logger.Error("kernel %s: startup code failed: %v", ShortID(k.ID()), err)
		}
	}
}

// Run executes code on the running kernel, starting one if needed.
func (m *Manager) Run(ctx context.Context, code string, opts ExecuteOptions) (*Execution, error) {
	k, err := m.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	return k.Execute(ctx, code, opts)
}

// Interrupt interrupts the running kernel.
// Returns ErrNotRunning when no live kernel exists.
func (m *Manager) Interrupt(ctx context.Context) error {
	k := m.Current()
	if k == nil {
		return ErrNotRunning
	}
	return k.Interrupt(ctx)
}

// Restart shuts down the current kernel, if any, and starts a new one.
// Every execution in flight on the old kernel observes Dead.
func (m *Manager) Restart(ctx context.Context) (Info, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	old := m.kernel
	m.kernel = nil
	if old != nil {
		m.restarts++
	}
	m.mu.Unlock()

	if old != nil {
		m.cfg.Logger.Info("restarting kernel %s", ShortID(old.ID()))
		_ = old.Shutdown(ctx)
	}
	if _, err := m.launch(ctx); err != nil {
		return m.Info(), err
	}
	return m.Info(), nil
}

// Shutdown stops the current kernel. Safe to call when none is running.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	k := m.kernel
	m.kernel = nil
	m.mu.Unlock()

	if k == nil {
		return nil
	}
	return k.Shutdown(ctx)
}

// Current returns the live kernel, or nil.
func (m *Manager) Current() *Kernel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.kernel == nil || !m.kernel.Alive() {
		return nil
	}
	return m.kernel
}

// Info describes the current kernel. Running is false when none is alive.
func (m *Manager) Info() Info {
	m.mu.RLock()
	k := m.kernel
	restarts := m.restarts
	m.mu.RUnlock()

	var info Info
	if k != nil {
		info = k.Info()
	}
	info.Restarts = restarts
	return info
}
