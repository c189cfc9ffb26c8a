package kernel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
)

const (
	// watcherBuffer is the per-execution iopub queue depth.
	watcherBuffer = 256

	// readyAttempt is how long one kernel_info round may take before it is
	// re-sent.
	readyAttempt = time.Second

	// portPollInterval paces the wait for the shell port to open.
	portPollInterval = 50 * time.Millisecond
)

// ExecuteOptions controls an execute_request.
type ExecuteOptions struct {
	// Silent suppresses broadcast output and does not increment the
	// execution counter.
	Silent bool

	// StoreHistory records the code in the kernel's input history.
	StoreHistory bool
}

// Execution is the handle for one in-flight execute_request.
//
// Contract:
// - IOPub delivers every iopub message parented to MsgID, in order.
// - Reply delivers the execute_reply at most once.
// - Dead is closed when the kernel exits or is shut down; neither channel is
//   closed, so consumers must also select on Dead.
// - Close must be called once the caller stops reading.
type Execution struct {
	MsgID    string
	KernelID string
	IOPub    <-chan *Message
	Reply    <-chan *Message
	Dead     <-chan struct{}

	close func()
}

// Close stops routing messages to this execution.
func (e *Execution) Close() {
	if e.close != nil {
		e.close()
	}
}

type watcher struct {
	iopub chan *Message
	done  chan struct{}
	once  sync.Once
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

// Kernel is a running Jupyter kernel and the client sockets connected to it.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: blocking operations honor cancellation and deadlines.
// - Errors: operations on a dead kernel return ErrDead.
type Kernel struct {
	id              string
	startedAt       time.Time
	conn            ConnectionInfo
	connFile        string
	proc            *process
	session         string
	signer          signer
	logger          Logger
	shutdownTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	shell   zmq4.Socket
	control zmq4.Socket
	iopub   zmq4.Socket
	hb      zmq4.Socket
	sendMu  sync.Mutex
	hbMu    sync.Mutex

	mu        sync.Mutex
	state     string
	info      KernelInfo
	execCount int
	replies   map[string]chan *Message
	watchers  map[string]*watcher

	dead      chan struct{}
	deadOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Start launches a kernel process as configured and waits until it answers
// kernel_info_request on both shell and iopub.
func Start(ctx context.Context, cfg Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	conn, err := NewConnectionInfo(cfg.IP)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}
	connFile, err := conn.WriteFile("")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}

	argv := cfg.argv(connFile)
	proc, err := startProcess(argv, cfg.WorkDir, cfg.Env)
	if err != nil {
		_ = os.Remove(connFile)
		return nil, err
	}

	k := newKernel(conn, cfg)
	k.proc = proc
	k.connFile = connFile
	cfg.Logger.Info("kernel %s: launched pid %d: %s", ShortID(k.id), proc.PID(), strings.Join(argv, " "))

	go func() {
		<-proc.done
		if k.ctx.Err() == nil {
			cfg.Logger.Error("kernel %s: process exited with code %d", ShortID(k.id), proc.ExitCode())
		}
		k.markDead()
	}()

	if err := k.handshake(ctx, cfg.StartupTimeout); err != nil {
		k.teardown()
		out := strings.TrimSpace(proc.Output())
		if out != "" {
			return nil, fmt.Errorf("%w: %v\nkernel output:\n%s", ErrStartup, err, out)
		}
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}
	cfg.Logger.Info("kernel %s: ready (%s %s)", ShortID(k.id), k.info.Implementation, k.info.ImplementationVersion)
	return k, nil
}

// attach connects to a kernel that is already listening on conn.
// The returned Kernel does not own a process.
func attach(ctx context.Context, conn ConnectionInfo, cfg Config) (*Kernel, error) {
	cfg.applyDefaults()
	k := newKernel(conn, cfg)
	if err := k.handshake(ctx, cfg.StartupTimeout); err != nil {
		k.teardown()
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}
	return k, nil
}

func newKernel(conn ConnectionInfo, cfg Config) *Kernel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Kernel{
		id:              uuid.NewString(),
		startedAt:       time.Now(),
		conn:            conn,
		session:         uuid.NewString(),
		signer:          signer{key: []byte(conn.Key)},
		logger:          cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
		ctx:             ctx,
		cancel:          cancel,
		state:           StateStarting,
		replies:         make(map[string]chan *Message),
		watchers:        make(map[string]*watcher),
		dead:            make(chan struct{}),
	}
}

func (k *Kernel) handshake(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if k.proc != nil {
		if err := k.waitPort(ctx, k.conn.ShellPort); err != nil {
			return err
		}
	}
	if err := k.connect(); err != nil {
		return err
	}
	return k.waitReady(ctx)
}

// waitPort blocks until the kernel accepts TCP connections on port.
func (k *Kernel) waitPort(ctx context.Context, port int) error {
	addr := net.JoinHostPort(k.conn.IP, fmt.Sprint(port))
	for {
		c, err := net.DialTimeout("tcp", addr, portPollInterval)
		if err == nil {
			_ = c.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", addr, ctx.Err())
		case <-k.dead:
			return ErrDead
		case <-time.After(portPollInterval):
		}
	}
}

func (k *Kernel) connect() error {
	k.shell = zmq4.NewDealer(k.ctx)
	k.control = zmq4.NewDealer(k.ctx)
	k.iopub = zmq4.NewSub(k.ctx)
	k.hb = zmq4.NewReq(k.ctx)

	dials := []struct {
		name string
		sock zmq4.Socket
		port int
	}{
		{"shell", k.shell, k.conn.ShellPort},
		{"control", k.control, k.conn.ControlPort},
		{"iopub", k.iopub, k.conn.IOPubPort},
		{"hb", k.hb, k.conn.HBPort},
	}
	for _, d := range dials {
		if err := d.sock.Dial(k.conn.Endpoint(d.port)); err != nil {
			return fmt.Errorf("dial %s: %w", d.name, err)
		}
	}
	if err := k.iopub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return fmt.Errorf("subscribe iopub: %w", err)
	}

	k.wg.Add(3)
	go k.readLoop("shell", k.shell, k.dispatchReply)
	go k.readLoop("control", k.control, k.dispatchReply)
	go k.readLoop("iopub", k.iopub, k.dispatchIOPub)
	return nil
}

// waitReady polls kernel_info_request until the reply arrives on shell and
// at least one message parented to it arrives on iopub. The iopub check
// guards against the subscriber joining after the first broadcasts.
func (k *Kernel) waitReady(ctx context.Context) error {
	for {
		req, err := newMessage(k.session, MsgKernelInfoRequest, struct{}{})
		if err != nil {
			return err
		}
		id := req.Header.MsgID
		w := k.watch(id)
		reply := k.expectReply(id)

		ready, err := k.readyRound(ctx, req, w, reply)
		k.unwatch(id)
		k.dropReply(id)
		if err != nil || ready {
			return err
		}
		k.logger.Debug("kernel %s: kernel_info round timed out, retrying", ShortID(k.id))
	}
}

func (k *Kernel) readyRound(ctx context.Context, req *Message, w *watcher, reply <-chan *Message) (bool, error) {
	if err := k.send(k.shell, req); err != nil {
		return false, err
	}
	timer := time.NewTimer(readyAttempt)
	defer timer.Stop()

	var gotReply, gotIOPub bool
	for !gotReply || !gotIOPub {
		select {
		case msg := <-reply:
			var info KernelInfo
			if err := msg.DecodeContent(&info); err != nil {
				return false, err
			}
			k.mu.Lock()
			k.info = info
			k.mu.Unlock()
			gotReply = true
		case <-w.iopub:
			gotIOPub = true
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		case <-k.dead:
			return false, ErrDead
		}
	}
	return true, nil
}

func (k *Kernel) readLoop(name string, sock zmq4.Socket, dispatch func(*Message)) {
	defer k.wg.Done()
	for {
		raw, err := sock.Recv()
		if err != nil {
			if k.ctx.Err() == nil {
				k.logger.Error("kernel %s: %s recv: %v", ShortID(k.id), name, err)
				k.markDead()
			}
			return
		}
		msg, err := k.signer.decode(raw.Frames)
		if err != nil {
			k.logger.Error("kernel %s: %s: dropping message: %v", ShortID(k.id), name, err)
			continue
		}
		dispatch(msg)
	}
}

func (k *Kernel) dispatchReply(msg *Message) {
	k.mu.Lock()
	if msg.MsgType() == MsgExecuteReply {
		var reply ExecuteReply
		if err := msg.DecodeContent(&reply); err == nil && reply.ExecutionCount > 0 {
			k.execCount = reply.ExecutionCount
		}
	}
	ch, ok := k.replies[msg.ParentID()]
	if ok {
		delete(k.replies, msg.ParentID())
	}
	k.mu.Unlock()

	if !ok {
		k.logger.Debug("kernel %s: unrouted %s for %s", ShortID(k.id), msg.MsgType(), msg.ParentID())
		return
	}
	ch <- msg
}

func (k *Kernel) dispatchIOPub(msg *Message) {
	k.mu.Lock()
	if msg.MsgType() == MsgStatus {
		var st StatusContent
		if err := msg.DecodeContent(&st); err == nil && st.ExecutionState != "" {
			k.state = st.ExecutionState
		}
	}
	w := k.watchers[msg.ParentID()]
	k.mu.Unlock()

	if w == nil {
		return
	}
	select {
	case w.iopub <- msg:
	case <-w.done:
	case <-k.dead:
	}
}

func (k *Kernel) watch(msgID string) *watcher {
	w := &watcher{
		iopub: make(chan *Message, watcherBuffer),
		done:  make(chan struct{}),
	}
	k.mu.Lock()
	k.watchers[msgID] = w
	k.mu.Unlock()
	return w
}

func (k *Kernel) unwatch(msgID string) {
	k.mu.Lock()
	w := k.watchers[msgID]
	delete(k.watchers, msgID)
	k.mu.Unlock()
	if w != nil {
		w.stop()
	}
}

// expectReply registers a single-slot reply channel so dispatch never blocks.
func (k *Kernel) expectReply(msgID string) chan *Message {
	ch := make(chan *Message, 1)
	k.mu.Lock()
	k.replies[msgID] = ch
	k.mu.Unlock()
	return ch
}

func (k *Kernel) dropReply(msgID string) {
	k.mu.Lock()
	delete(k.replies, msgID)
	k.mu.Unlock()
}

func (k *Kernel) send(sock zmq4.Socket, msg *Message) error {
	frames, err := k.signer.encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.MsgType(), err)
	}
	k.sendMu.Lock()
	defer k.sendMu.Unlock()
	if err := sock.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		return fmt.Errorf("send %s: %w", msg.MsgType(), err)
	}
	return nil
}

// request sends a message and waits for the reply parented to it.
func (k *Kernel) request(ctx context.Context, sock zmq4.Socket, msgType string, content any) (*Message, error) {
	req, err := newMessage(k.session, msgType, content)
	if err != nil {
		return nil, err
	}
	id := req.Header.MsgID
	reply := k.expectReply(id)
	defer k.dropReply(id)

	if err := k.send(sock, req); err != nil {
		return nil, err
	}
	select {
	case msg := <-reply:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-k.dead:
		return nil, ErrDead
	}
}

// Execute sends an execute_request and returns a handle that receives every
// message parented to it.
func (k *Kernel) Execute(ctx context.Context, code string, opts ExecuteOptions) (*Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !k.Alive() {
		return nil, ErrDead
	}
	req, err := newMessage(k.session, MsgExecuteRequest, ExecuteRequest{
		Code:            code,
		Silent:          opts.Silent,
		StoreHistory:    opts.StoreHistory,
		UserExpressions: map[string]any{},
		AllowStdin:      false,
		StopOnError:     true,
	})
	if err != nil {
		return nil, err
	}
	id := req.Header.MsgID
	w := k.watch(id)
	reply := k.expectReply(id)
	release := func() {
		k.unwatch(id)
		k.dropReply(id)
	}
	if err := k.send(k.shell, req); err != nil {
		release()
		return nil, err
	}
	return &Execution{
		MsgID:    id,
		KernelID: k.id,
		IOPub:    w.iopub,
		Reply:    reply,
		Dead:     k.dead,
		close:    release,
	}, nil
}

// RunSilently executes code without broadcasting output and waits for the
// reply. A kernel-side exception is returned as an error.
func (k *Kernel) RunSilently(ctx context.Context, code string) error {
	exec, err := k.Execute(ctx, code, ExecuteOptions{Silent: true})
	if err != nil {
		return err
	}
	defer exec.Close()

	for {
		select {
		case <-exec.IOPub:
		case msg := <-exec.Reply:
			var reply ExecuteReply
			if err := msg.DecodeContent(&reply); err != nil {
				return err
			}
			if reply.Status != "ok" {
				return fmt.Errorf("%s: %s", reply.EName, reply.EValue)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-exec.Dead:
			return ErrDead
		}
	}
}

// Interrupt interrupts the running execution. A kernel launched by Start is
// sent SIGINT; an attached kernel gets an interrupt_request on control.
func (k *Kernel) Interrupt(ctx context.Context) error {
	if !k.Alive() {
		return ErrDead
	}
	if k.proc != nil {
		k.logger.Info("kernel %s: sending SIGINT", ShortID(k.id))
		return k.proc.Signal(os.Interrupt)
	}
	k.logger.Info("kernel %s: sending interrupt_request", ShortID(k.id))
	_, err := k.request(ctx, k.control, MsgInterruptRequest, struct{}{})
	return err
}

// Ping performs one heartbeat round-trip.
func (k *Kernel) Ping(ctx context.Context) error {
	if !k.Alive() {
		return ErrDead
	}
	errc := make(chan error, 1)
	go func() {
		k.hbMu.Lock()
		defer k.hbMu.Unlock()
		if err := k.hb.Send(zmq4.NewMsg([]byte("ping"))); err != nil {
			errc <- err
			return
		}
		_, err := k.hb.Recv()
		errc <- err
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-k.dead:
		return ErrDead
	}
}

// Shutdown asks the kernel to exit, kills the process if it has not exited
// within the shutdown timeout, and releases every resource. Idempotent.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.closeOnce.Do(func() {
		if k.Alive() {
			sctx, cancel := context.WithTimeout(ctx, k.shutdownTimeout)
			_, reqErr := k.request(sctx, k.control, MsgShutdownRequest, map[string]any{"restart": false})
			if reqErr != nil && !errors.Is(reqErr, ErrDead) {
				k.logger.Debug("kernel %s: shutdown_request: %v", ShortID(k.id), reqErr)
			}
			if k.proc != nil {
				if waitErr := k.proc.WaitExit(sctx); waitErr != nil {
					k.logger.Info("kernel %s: did not exit in %s, killing", ShortID(k.id), k.shutdownTimeout)
				}
			}
			cancel()
		}
		k.teardown()
		k.logger.Info("kernel %s: shut down", ShortID(k.id))
	})
	return nil
}

// teardown closes sockets, reaps the process and removes the connection file.
func (k *Kernel) teardown() {
	k.cancel()
	k.markDead()
	for _, sock := range []zmq4.Socket{k.shell, k.control, k.iopub, k.hb} {
		if sock != nil {
			_ = sock.Close()
		}
	}
	if k.proc != nil {
		k.proc.Kill()
	}
	if k.connFile != "" {
		_ = os.Remove(k.connFile)
	}

	done := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		k.logger.Debug("kernel %s: readers still draining after teardown", ShortID(k.id))
	}
}

func (k *Kernel) markDead() {
	k.deadOnce.Do(func() {
		k.mu.Lock()
		k.state = StateDead
		k.mu.Unlock()
		close(k.dead)
	})
}

// ID returns the kernel's unique id, new on every start.
func (k *Kernel) ID() string { return k.id }

// StartedAt returns when this kernel was started.
func (k *Kernel) StartedAt() time.Time { return k.startedAt }

// Uptime returns the time since start.
func (k *Kernel) Uptime() time.Duration { return time.Since(k.startedAt) }

// Dead is closed once the kernel exits or is shut down.
func (k *Kernel) Dead() <-chan struct{} { return k.dead }

// Alive reports whether the kernel is still usable.
func (k *Kernel) Alive() bool {
	select {
	case <-k.dead:
		return false
	default:
		return true
	}
}

// State returns the last execution state seen on iopub.
func (k *Kernel) State() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Info returns a snapshot of the kernel's status.
func (k *Kernel) Info() Info {
	k.mu.Lock()
	defer k.mu.Unlock()
	info := Info{
		Running:               k.Alive(),
		ID:                    k.id,
		StartedAt:             k.startedAt,
		Uptime:                time.Since(k.startedAt),
		ExecutionState:        k.state,
		ExecutionCount:        k.execCount,
		Language:              k.info.LanguageInfo.Name,
		LanguageVersion:       k.info.LanguageInfo.Version,
		Implementation:        k.info.Implementation,
		ImplementationVersion: k.info.ImplementationVersion,
	}
	if k.proc != nil {
		info.PID = k.proc.PID()
	}
	return info
}

// ShortID returns the first eight characters of a kernel id.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
