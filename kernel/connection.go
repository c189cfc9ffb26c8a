package kernel

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ConnectionInfo is the content of a Jupyter connection file.
type ConnectionInfo struct {
	ShellPort       int    `json:"shell_port"`
	IOPubPort       int    `json:"iopub_port"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	HBPort          int    `json:"hb_port"`
	IP              string `json:"ip"`
	Key             string `json:"key"`
	Transport       string `json:"transport"`
	SignatureScheme string `json:"signature_scheme"`
	KernelName      string `json:"kernel_name"`
}

// NewConnectionInfo allocates five free TCP ports on ip and generates a
// fresh signing key.
func NewConnectionInfo(ip string) (ConnectionInfo, error) {
	ports, err := freePorts(ip, 5)
	if err != nil {
		return ConnectionInfo{}, err
	}
	return ConnectionInfo{
		ShellPort:       ports[0],
		IOPubPort:       ports[1],
		StdinPort:       ports[2],
		ControlPort:     ports[3],
		HBPort:          ports[4],
		IP:              ip,
		Key:             uuid.NewString(),
		Transport:       "tcp",
		SignatureScheme: "hmac-sha256",
	}, nil
}

// Endpoint returns the ZeroMQ endpoint for a port, e.g. tcp://127.0.0.1:5555.
func (c ConnectionInfo) Endpoint(port int) string {
	return fmt.Sprintf("%s://%s", c.Transport, net.JoinHostPort(c.IP, fmt.Sprint(port)))
}

// WriteFile writes the connection info to a new file in dir with mode 0600
// and returns its path.
func (c ConnectionInfo) WriteFile(dir string) (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "kernel-*.json")
	if err != nil {
		return "", fmt.Errorf("create connection file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write connection file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close connection file: %w", err)
	}
	return filepath.Clean(path), nil
}

// ReadConnectionFile parses an existing connection file.
func ReadConnectionFile(path string) (ConnectionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("read connection file %q: %w", path, err)
	}
	var c ConnectionInfo
	if err := json.Unmarshal(data, &c); err != nil {
		return ConnectionInfo{}, fmt.Errorf("parse connection file %q: %w", path, err)
	}
	if c.Transport == "" {
		c.Transport = "tcp"
	}
	return c, nil
}

// freePorts holds n listeners open at once so the kernel never receives the
// same port twice, then releases them.
func freePorts(ip string, n int) ([]int, error) {
	listeners := make([]net.Listener, 0, n)
	defer func() {
		for _, l := range listeners {
			_ = l.Close()
		}
	}()

	ports := make([]int, 0, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
		if err != nil {
			return nil, fmt.Errorf("allocate port: %w", err)
		}
		listeners = append(listeners, l)
		ports = append(ports, l.Addr().(*net.TCPAddr).Port)
	}
	return ports, nil
}
