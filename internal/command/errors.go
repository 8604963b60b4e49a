package command

import (
	"errors"
	"fmt"
)

// Sentinel errors for the scheduler.
var (
	// ErrSchedulerStopped is returned when scheduling after Shutdown.
	ErrSchedulerStopped = errors.New("scheduler stopped")

	// ErrAlreadyRunning is returned when Run is called on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrNilCommand is returned when scheduling a nil command or a command
	// without a body.
	ErrNilCommand = errors.New("command is nil")

	// ErrCommandPanicked wraps a recovered command panic.
	ErrCommandPanicked = errors.New("command panicked")

	// ErrUnknownPolicy is returned for unrecognized policy names and values.
	ErrUnknownPolicy = errors.New("unknown duplicate policy")
)

// ExecutionError describes a failed command execution. It is logged by the
// worker and never affects other tasks.
type ExecutionError struct {
	// Key identifies the command.
	Key Key
	// Payloads is the number of payload fragments the command carried.
	Payloads int
	// Err is the command's error.
	Err error
	// Stack is set when the command panicked.
	Stack []byte
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
