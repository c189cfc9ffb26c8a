package kernel

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	delimiter       = "<IDS|MSG>"
	protocolVersion = "5.3"
	dateLayout      = "2006-01-02T15:04:05.000000Z"
)

// Message types used by the client.
const (
	MsgKernelInfoRequest = "kernel_info_request"
	MsgKernelInfoReply   = "kernel_info_reply"
	MsgExecuteRequest    = "execute_request"
	MsgExecuteReply      = "execute_reply"
	MsgInterruptRequest  = "interrupt_request"
	MsgInterruptReply    = "interrupt_reply"
	MsgShutdownRequest   = "shutdown_request"
	MsgShutdownReply     = "shutdown_reply"

	MsgStatus        = "status"
	MsgStream        = "stream"
	MsgExecuteInput  = "execute_input"
	MsgExecuteResult = "execute_result"
	MsgDisplayData   = "display_data"
	MsgUpdateDisplay = "update_display_data"
	MsgError         = "error"
	MsgClearOutput   = "clear_output"
)

// Execution states reported on iopub status messages.
const (
	StateStarting = "starting"
	StateIdle     = "idle"
	StateBusy     = "busy"
	StateDead     = "dead"
)

// Header is a Jupyter message header.
type Header struct {
	MsgID    string `json:"msg_id"`
	Session  string `json:"session"`
	Username string `json:"username"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// Message is one decoded Jupyter wire message.
type Message struct {
	Identities   [][]byte
	Header       Header
	ParentHeader Header
	Metadata     map[string]any
	Content      json.RawMessage
	Buffers      [][]byte
}

// MsgType returns the header message type.
func (m *Message) MsgType() string {
	return m.Header.MsgType
}

// ParentID returns the msg_id of the request this message answers.
func (m *Message) ParentID() string {
	return m.ParentHeader.MsgID
}

// DecodeContent unmarshals the content frame into v.
func (m *Message) DecodeContent(v any) error {
	if len(m.Content) == 0 {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("%w: %s content: %v", ErrInvalidMessage, m.MsgType(), err)
	}
	return nil
}

// newMessage builds a request message for the given session.
func newMessage(session, msgType string, content any) (*Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode %s content: %w", msgType, err)
	}
	return &Message{
		Header: Header{
			MsgID:    uuid.NewString(),
			Session:  session,
			Username: "kernelmcp",
			Date:     time.Now().UTC().Format(dateLayout),
			MsgType:  msgType,
			Version:  protocolVersion,
		},
		Content: raw,
	}, nil
}

// signer computes and checks message signatures.
// An empty key disables signing, as the protocol allows.
type signer struct {
	key []byte
}

func (s signer) sign(parts ...[]byte) []byte {
	if len(s.key) == 0 {
		return nil
	}
	mac := hmac.New(sha256.New, s.key)
	for _, p := range parts {
		mac.Write(p)
	}
	sum := mac.Sum(nil)
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out
}

func (s signer) verify(signature []byte, parts ...[]byte) bool {
	if len(s.key) == 0 {
		return true
	}
	return hmac.Equal(signature, s.sign(parts...))
}

// encode serializes a message into wire frames.
func (s signer) encode(m *Message) ([][]byte, error) {
	header, err := json.Marshal(m.Header)
	if err != nil {
		return nil, err
	}
	parent := []byte("{}")
	if m.ParentHeader.MsgID != "" {
		if parent, err = json.Marshal(m.ParentHeader); err != nil {
			return nil, err
		}
	}
	metadata := []byte("{}")
	if len(m.Metadata) > 0 {
		if metadata, err = json.Marshal(m.Metadata); err != nil {
			return nil, err
		}
	}
	content := []byte(m.Content)
	if len(content) == 0 {
		content = []byte("{}")
	}

	frames := make([][]byte, 0, len(m.Identities)+6+len(m.Buffers))
	frames = append(frames, m.Identities...)
	frames = append(frames,
		[]byte(delimiter),
		s.sign(header, parent, metadata, content),
		header, parent, metadata, content,
	)
	frames = append(frames, m.Buffers...)
	return frames, nil
}

// decode parses wire frames, verifying the signature.
func (s signer) decode(frames [][]byte) (*Message, error) {
	idx := -1
	for i, f := range frames {
		if bytes.Equal(f, []byte(delimiter)) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing delimiter", ErrInvalidMessage)
	}
	if len(frames) < idx+6 {
		return nil, fmt.Errorf("%w: got %d frames after delimiter, want at least 5",
			ErrInvalidMessage, len(frames)-idx-1)
	}

	sig := frames[idx+1]
	header, parent, metadata, content := frames[idx+2], frames[idx+3], frames[idx+4], frames[idx+5]
	if !s.verify(sig, header, parent, metadata, content) {
		return nil, ErrInvalidSignature
	}

	m := &Message{
		Identities: frames[:idx],
		Content:    json.RawMessage(content),
		Buffers:    frames[idx+6:],
	}
	if err := json.Unmarshal(header, &m.Header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidMessage, err)
	}
	if err := json.Unmarshal(parent, &m.ParentHeader); err != nil {
		return nil, fmt.Errorf("%w: parent header: %v", ErrInvalidMessage, err)
	}
	if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidMessage, err)
	}
	return m, nil
}

// StatusContent is the content of an iopub status message.
type StatusContent struct {
	ExecutionState string `json:"execution_state"`
}

// KernelInfo is the useful subset of a kernel_info_reply.
type KernelInfo struct {
	Status                string `json:"status"`
	ProtocolVersion       string `json:"protocol_version"`
	Implementation        string `json:"implementation"`
	ImplementationVersion string `json:"implementation_version"`
	LanguageInfo          struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"language_info"`
	Banner string `json:"banner"`
}

// ExecuteRequest is the content of an execute_request.
type ExecuteRequest struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

// ExecuteReply is the content of an execute_reply.
type ExecuteReply struct {
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count"`
	EName          string   `json:"ename,omitempty"`
	EValue         string   `json:"evalue,omitempty"`
	Traceback      []string `json:"traceback,omitempty"`
}
