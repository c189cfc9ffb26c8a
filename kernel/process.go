package kernel

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// processOutputLimit caps the kernel's captured stdout/stderr.
const processOutputLimit = 64 * 1024

// processWaitDelay bounds how long reaping waits for the output pipes after
// the kernel exits. Children the kernel spawned may hold them open.
const processWaitDelay = 500 * time.Millisecond

// process supervises the kernel child process.
type process struct {
	cmd       *exec.Cmd
	startTime time.Time
	done      chan struct{}
	killOnce  sync.Once

	mu       sync.Mutex
	output   bytes.Buffer
	exitCode int
	waitErr  error
}

type processOutputWriter struct {
	proc *process
}

// startProcess launches argv. The process is not bound to a context:
// it lives until Kill or Shutdown.
func startProcess(argv []string, dir string, env map[string]string) (*process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrConfiguration)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = processWaitDelay
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	proc := &process{
		cmd:       cmd,
		startTime: time.Now(),
		done:      make(chan struct{}),
		exitCode:  -1,
	}
	out := &processOutputWriter{proc: proc}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}
	go proc.wait()
	return proc, nil
}

func (p *process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitCode = p.cmd.ProcessState.ExitCode()
	p.waitErr = err
	p.mu.Unlock()
	close(p.done)
}

// PID returns the operating system process id.
func (p *process) PID() int {
	return p.cmd.Process.Pid
}

// Exited reports whether the process has terminated.
func (p *process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code, or -1 while running.
func (p *process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Output returns the tail of the captured stdout/stderr.
func (p *process) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output.String()
}

// Signal delivers sig to the process.
func (p *process) Signal(sig os.Signal) error {
	if p.Exited() {
		return ErrDead
	}
	return p.cmd.Process.Signal(sig)
}

// Kill terminates the process group, including children the kernel left
// behind, and waits for the kernel to be reaped.
func (p *process) Kill() {
	p.killOnce.Do(func() {
		if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !p.Exited() {
			_ = p.cmd.Process.Kill()
		}
	})
	<-p.done
}

// WaitExit waits for the process to exit on its own until ctx is done.
func (p *process) WaitExit(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *processOutputWriter) Write(p []byte) (int, error) {
	w.proc.mu.Lock()
	defer w.proc.mu.Unlock()
	capBuffer(&w.proc.output, p, processOutputLimit)
	return len(p), nil
}

// capBuffer appends input to output, keeping only the last limit bytes.
func capBuffer(output *bytes.Buffer, input []byte, limit int) {
	if len(input) >= limit {
		output.Reset()
		output.Write(input[len(input)-limit:])
		return
	}
	if output.Len()+len(input) <= limit {
		output.Write(input)
		return
	}
	snapshot := output.Bytes()
	trim := output.Len() + len(input) - limit
	tail := append([]byte(nil), snapshot[trim:]...)
	output.Reset()
	output.Write(tail)
	output.Write(input)
}
