package code

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// imageTypes lists the rich MIME types returned as images, in preference
// order.
var imageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/svg+xml"}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// StripANSI removes terminal color escape sequences.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// Collector folds the iopub messages of one execution into an ExecuteResult.
// It is not safe for concurrent use.
type Collector struct {
	result       ExecuteResult
	pendingClear bool
	idle         bool
	replied      bool
}

// NewCollector returns an empty collector for the given kernel.
func NewCollector(kernelID string) *Collector {
	return &Collector{result: ExecuteResult{KernelID: kernelID}}
}

type streamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type richContent struct {
	Data           map[string]json.RawMessage `json:"data"`
	ExecutionCount int                        `json:"execution_count"`
}

type errorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

type clearContent struct {
	Wait bool `json:"wait"`
}

type statusContent struct {
	ExecutionState string `json:"execution_state"`
}

// Add folds one iopub message. Unknown message types are ignored.
func (c *Collector) Add(msgType string, content []byte) error {
	switch msgType {
	case "stream":
		var s streamContent
		if err := json.Unmarshal(content, &s); err != nil {
			return fmt.Errorf("decode stream: %w", err)
		}
		c.applyPendingClear()
		c.addStream(s.Name, s.Text)
	case "execute_result", "display_data":
		var r richContent
		if err := json.Unmarshal(content, &r); err != nil {
			return fmt.Errorf("decode %s: %w", msgType, err)
		}
		c.applyPendingClear()
		if r.ExecutionCount > 0 {
			c.result.ExecutionCount = r.ExecutionCount
		}
		kind := OutputDisplay
		if msgType == "execute_result" {
			kind = OutputResult
		}
		if err := c.addRich(kind, r.Data); err != nil {
			return fmt.Errorf("decode %s: %w", msgType, err)
		}
	case "error":
		var e errorContent
		if err := json.Unmarshal(content, &e); err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
		c.setError(e.EName, e.EValue, e.Traceback)
	case "clear_output":
		var cl clearContent
		if err := json.Unmarshal(content, &cl); err != nil {
			return fmt.Errorf("decode clear_output: %w", err)
		}
		if cl.Wait {
			c.pendingClear = true
		} else {
			c.clear()
		}
	case "status":
		var st statusContent
		if err := json.Unmarshal(content, &st); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		if st.ExecutionState == "idle" {
			c.idle = true
		}
	}
	return nil
}

// SetReply records the execute_reply. A failed reply whose exception was
// not broadcast on iopub still produces an ExecutionError.
func (c *Collector) SetReply(status string, executionCount int, ename, evalue string, traceback []string) {
	c.replied = true
	if executionCount > 0 {
		c.result.ExecutionCount = executionCount
	}
	c.result.Status = status
	if status == StatusError && c.result.Error == nil && ename != "" {
		c.setError(ename, evalue, traceback)
	}
}

// Idle reports whether the kernel reported idle for this execution.
func (c *Collector) Idle() bool { return c.idle }

// Replied reports whether SetReply was called.
func (c *Collector) Replied() bool { return c.replied }

// Done reports whether both the idle status and the reply arrived.
func (c *Collector) Done() bool { return c.idle && c.replied }

// Result returns a copy of the collected result.
func (c *Collector) Result() ExecuteResult {
	r := c.result
	r.Outputs = append([]Output(nil), c.result.Outputs...)
	r.Images = append([]Image(nil), c.result.Images...)
	r.Notices = append([]string(nil), c.result.Notices...)
	return r
}

// Notice appends a bridge-level notice.
func (c *Collector) Notice(msg string) {
	c.result.Notices = append(c.result.Notices, msg)
}

func (c *Collector) addStream(name, text string) {
	if text == "" {
		return
	}
	text = StripANSI(text)
	if n := len(c.result.Outputs); n > 0 {
		last := &c.result.Outputs[n-1]
		if last.Kind == OutputStream && last.Name == name {
			last.Text += text
			return
		}
	}
	c.result.Outputs = append(c.result.Outputs, Output{Kind: OutputStream, Name: name, Text: text})
}

func (c *Collector) addRich(kind OutputKind, data map[string]json.RawMessage) error {
	for _, mime := range imageTypes {
		raw, ok := data[mime]
		if !ok {
			continue
		}
		img, err := decodeImage(mime, raw)
		if err != nil {
			return err
		}
		c.result.Images = append(c.result.Images, img)
		return nil
	}
	raw, ok := data["text/plain"]
	if !ok {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return fmt.Errorf("text/plain: %w", err)
	}
	if text != "" {
		c.result.Outputs = append(c.result.Outputs, Output{Kind: kind, Text: StripANSI(text)})
	}
	return nil
}

// decodeImage decodes a rich image value. Binary types arrive as base64,
// SVG as plain text.
func decodeImage(mime string, raw json.RawMessage) (Image, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Image{}, fmt.Errorf("%s: %w", mime, err)
	}
	if mime == "image/svg+xml" {
		return Image{MIMEType: mime, Data: []byte(s)}, nil
	}
	s = strings.Join(strings.Fields(s), "")
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Image{}, fmt.Errorf("%s: %w", mime, err)
	}
	return Image{MIMEType: mime, Data: data}, nil
}

func (c *Collector) setError(name, value string, traceback []string) {
	tb := make([]string, 0, len(traceback))
	for _, line := range traceback {
		tb = append(tb, StripANSI(line))
	}
	c.result.Error = &ExecutionError{Name: name, Value: value, Traceback: tb}
	c.result.Status = StatusError
}

func (c *Collector) applyPendingClear() {
	if c.pendingClear {
		c.clear()
	}
}

func (c *Collector) clear() {
	c.pendingClear = false
	c.result.Outputs = nil
	c.result.Images = nil
}
