package engine

import (
	"errors"
	"fmt"
)

// Engine errors.
var (
	// ErrAlreadyRunning is returned by Run when the engine is running.
	ErrAlreadyRunning = errors.New("engine already running")

	// ErrShutdown is returned when using an engine after Shutdown.
	ErrShutdown = errors.New("engine shut down")

	// ErrNotDirectory is returned when a source root is not a directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrNameCollision is returned when two source files map to the same
	// unit name, such as a/b.go and a/b.txt.
	ErrNameCollision = errors.New("unit name collision")
)

// InitError reports a component that failed to start.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
