package code

import (
	"errors"
	"fmt"
)

// Sentinel errors for error classification.
var (
	// ErrCodeExecution indicates the executed code raised an exception.
	ErrCodeExecution = errors.New("code execution error")

	// ErrConfiguration indicates an invalid or incomplete configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrLimitExceeded indicates that an execution limit was reached,
	// such as the timeout.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrKernelDied indicates the kernel exited or was restarted while the
	// execution was in flight.
	ErrKernelDied = errors.New("kernel died")
)

// CodeError represents an exception raised by the executed code.
type CodeError struct {
	// Name is the exception class, e.g. "NameError".
	Name string

	// Value is the exception message.
	Value string

	// Traceback holds the formatted traceback lines with ANSI codes removed.
	Traceback []string

	// Err is the underlying error, if any.
	Err error
}

// Error returns "Name: Value".
func (e *CodeError) Error() string {
	if e.Value == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Value)
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *CodeError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target.
// CodeError matches ErrCodeExecution to allow sentinel-style error checking.
func (e *CodeError) Is(target error) bool {
	return target == ErrCodeExecution
}

func newCodeError(e *ExecutionError) *CodeError {
	return &CodeError{Name: e.Name, Value: e.Value, Traceback: e.Traceback}
}
