package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
)

// fakeKernel speaks enough of the Jupyter protocol to exercise the client.
// Shell and control are ROUTER sockets, iopub is PUB and heartbeat is REP,
// mirroring a real kernel.
type fakeKernel struct {
	t      *testing.T
	conn   ConnectionInfo
	signer signer

	ctx    context.Context
	cancel context.CancelFunc

	shell   zmq4.Socket
	control zmq4.Socket
	iopub   zmq4.Socket
	hb      zmq4.Socket

	sendMu sync.Mutex

	// onExecute handles execute_request. Defaults to okExecute.
	onExecute func(fk *fakeKernel, req *Message, code string)

	mu         sync.Mutex
	executed   []ExecuteRequest
	interrupts int
	shutdowns  int
	count      int
}

func newFakeKernel(t *testing.T) *fakeKernel {
	t.Helper()
	conn, err := NewConnectionInfo(DefaultIP)
	if err != nil {
		t.Fatalf("NewConnectionInfo: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	fk := &fakeKernel{
		t:       t,
		conn:    conn,
		signer:  signer{key: []byte(conn.Key)},
		ctx:     ctx,
		cancel:  cancel,
		shell:   zmq4.NewRouter(ctx),
		control: zmq4.NewRouter(ctx),
		iopub:   zmq4.NewPub(ctx),
		hb:      zmq4.NewRep(ctx),
	}
	fk.onExecute = okExecute

	listens := []struct {
		sock zmq4.Socket
		port int
	}{
		{fk.shell, conn.ShellPort},
		{fk.control, conn.ControlPort},
		{fk.iopub, conn.IOPubPort},
		{fk.hb, conn.HBPort},
	}
	for _, l := range listens {
		if err := l.sock.Listen(conn.Endpoint(l.port)); err != nil {
			cancel()
			t.Fatalf("listen %s: %v", conn.Endpoint(l.port), err)
		}
	}

	go fk.serve(fk.shell, fk.handleShell)
	go fk.serve(fk.control, fk.handleControl)
	go fk.echo()

	t.Cleanup(fk.close)
	return fk
}

func (fk *fakeKernel) close() {
	fk.cancel()
	for _, s := range []zmq4.Socket{fk.shell, fk.control, fk.iopub, fk.hb} {
		_ = s.Close()
	}
}

// attach connects a client Kernel to the fake and registers its shutdown.
func (fk *fakeKernel) attach(t *testing.T) *Kernel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	k, err := attach(ctx, fk.conn, Config{StartupTimeout: 10 * time.Second, ShutdownTimeout: time.Second})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	t.Cleanup(func() { _ = k.Shutdown(context.Background()) })
	return k
}

func (fk *fakeKernel) serve(sock zmq4.Socket, handle func(*Message)) {
	for {
		raw, err := sock.Recv()
		if err != nil {
			return
		}
		msg, err := fk.signer.decode(raw.Frames)
		if err != nil {
			continue
		}
		handle(msg)
	}
}

func (fk *fakeKernel) echo() {
	for {
		msg, err := fk.hb.Recv()
		if err != nil {
			return
		}
		if err := fk.hb.Send(msg); err != nil {
			return
		}
	}
}

func (fk *fakeKernel) handleShell(req *Message) {
	switch req.MsgType() {
	case MsgKernelInfoRequest:
		fk.publish(req, MsgStatus, StatusContent{ExecutionState: StateBusy})
		fk.reply(fk.shell, req, MsgKernelInfoReply, map[string]any{
			"status":                 "ok",
			"protocol_version":       protocolVersion,
			"implementation":         "fake",
			"implementation_version": "1.0",
			"language_info":          map[string]any{"name": "python", "version": "3.12.0"},
		})
		fk.publish(req, MsgStatus, StatusContent{ExecutionState: StateIdle})
	case MsgExecuteRequest:
		var content ExecuteRequest
		if err := req.DecodeContent(&content); err != nil {
			fk.t.Errorf("fake kernel: decode execute_request: %v", err)
			return
		}
		fk.mu.Lock()
		fk.executed = append(fk.executed, content)
		handle := fk.onExecute
		fk.mu.Unlock()
		go handle(fk, req, content.Code)
	}
}

func (fk *fakeKernel) handleControl(req *Message) {
	switch req.MsgType() {
	case MsgInterruptRequest:
		fk.mu.Lock()
		fk.interrupts++
		fk.mu.Unlock()
		fk.reply(fk.control, req, MsgInterruptReply, map[string]any{"status": "ok"})
	case MsgShutdownRequest:
		fk.mu.Lock()
		fk.shutdowns++
		fk.mu.Unlock()
		fk.reply(fk.control, req, MsgShutdownReply, map[string]any{"status": "ok", "restart": false})
	}
}

func (fk *fakeKernel) message(req *Message, msgType string, content any) *Message {
	msg, err := newMessage("fake-session", msgType, content)
	if err != nil {
		fk.t.Errorf("fake kernel: %v", err)
		msg = &Message{}
	}
	msg.ParentHeader = req.Header
	return msg
}

func (fk *fakeKernel) reply(sock zmq4.Socket, req *Message, msgType string, content any) {
	msg := fk.message(req, msgType, content)
	msg.Identities = req.Identities
	fk.send(sock, msg)
}

func (fk *fakeKernel) publish(req *Message, msgType string, content any) {
	fk.send(fk.iopub, fk.message(req, msgType, content))
}

func (fk *fakeKernel) send(sock zmq4.Socket, msg *Message) {
	frames, err := fk.signer.encode(msg)
	if err != nil {
		fk.t.Errorf("fake kernel: encode: %v", err)
		return
	}
	fk.sendMu.Lock()
	defer fk.sendMu.Unlock()
	_ = sock.SendMulti(zmq4.NewMsgFrom(frames...))
}

func (fk *fakeKernel) setExecute(fn func(fk *fakeKernel, req *Message, code string)) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.onExecute = fn
}

func (fk *fakeKernel) nextCount() int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.count++
	return fk.count
}

func (fk *fakeKernel) executeRequests() []ExecuteRequest {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return append([]ExecuteRequest(nil), fk.executed...)
}

func (fk *fakeKernel) interruptCount() int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.interrupts
}

func (fk *fakeKernel) shutdownCount() int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.shutdowns
}

// okExecute echoes the code to stdout and replies ok.
func okExecute(fk *fakeKernel, req *Message, code string) {
	n := fk.nextCount()
	fk.publish(req, MsgStatus, StatusContent{ExecutionState: StateBusy})
	fk.publish(req, MsgExecuteInput, map[string]any{"code": code, "execution_count": n})
	fk.publish(req, MsgStream, map[string]any{"name": "stdout", "text": code})
	fk.reply(fk.shell, req, MsgExecuteReply, ExecuteReply{Status: "ok", ExecutionCount: n})
	fk.publish(req, MsgStatus, StatusContent{ExecutionState: StateIdle})
}

// failExecute raises a NameError.
func failExecute(fk *fakeKernel, req *Message, _ string) {
	n := fk.nextCount()
	tb := []string{"Traceback (most recent call last)", "NameError: name 'x' is not defined"}
	fk.publish(req, MsgStatus, StatusContent{ExecutionState: StateBusy})
	fk.publish(req, MsgError, map[string]any{"ename": "NameError", "evalue": "name 'x' is not defined", "traceback": tb})
	fk.reply(fk.shell, req, MsgExecuteReply, ExecuteReply{Status: "error", ExecutionCount: n, EName: "NameError", EValue: "name 'x' is not defined", Traceback: tb})
	fk.publish(req, MsgStatus, StatusContent{ExecutionState: StateIdle})
}

// hangExecute goes busy and never finishes.
func hangExecute(fk *fakeKernel, req *Message, _ string) {
	fk.publish(req, MsgStatus, StatusContent{ExecutionState: StateBusy})
}

// collect reads an execution until idle, returning every iopub message and
// the reply.
func collect(t *testing.T, exec *Execution) ([]*Message, *Message) {
	t.Helper()
	var msgs []*Message
	var reply *Message
	timeout := time.After(5 * time.Second)
	idle := false
	for !idle || reply == nil {
		select {
		case msg := <-exec.IOPub:
			msgs = append(msgs, msg)
			if msg.MsgType() == MsgStatus {
				var st StatusContent
				_ = msg.DecodeContent(&st)
				idle = st.ExecutionState == StateIdle
			}
		case reply = <-exec.Reply:
		case <-exec.Dead:
			t.Fatal("kernel died during execution")
		case <-timeout:
			t.Fatalf("timed out collecting execution (idle=%v reply=%v)", idle, reply != nil)
		}
	}
	return msgs, reply
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Debug(format string, args ...any) { l.add(format) }
func (l *recordingLogger) Info(format string, args ...any)  { l.add(format) }
func (l *recordingLogger) Error(format string, args ...any) { l.add(format) }

func (l *recordingLogger) add(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, format)
}
