package kernel

import "errors"

// Sentinel errors for kernel operations.
var (
	// ErrConfiguration indicates an invalid kernel configuration.
	ErrConfiguration = errors.New("kernel configuration error")

	// ErrStartup indicates the kernel process failed to start or never
	// became ready.
	ErrStartup = errors.New("kernel startup failed")

	// ErrNotRunning is returned by operations that need a live kernel.
	ErrNotRunning = errors.New("kernel not running")

	// ErrDead indicates the kernel process exited or was shut down.
	ErrDead = errors.New("kernel died")

	// ErrInvalidMessage indicates a malformed wire message.
	ErrInvalidMessage = errors.New("invalid kernel message")

	// ErrInvalidSignature indicates a wire message whose HMAC did not match.
	ErrInvalidSignature = errors.New("invalid message signature")
)
