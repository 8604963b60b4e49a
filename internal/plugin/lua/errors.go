package lua

import (
	"errors"
	"fmt"
)

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNotFunction is returned when calling a value that is not a function.
	ErrNotFunction = errors.New("lua value is not a function")

	// ErrUnknownCommand is returned when scheduling a command name the script
	// never registered with hotswap.command.
	ErrUnknownCommand = errors.New("unknown script command")

	// ErrInvalidManifest is returned for a malformed plugin.toml.
	ErrInvalidManifest = errors.New("invalid plugin manifest")
)

// ScriptError is an error raised by Lua code.
type ScriptError struct {
	Script string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("lua %s: %v", e.Script, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}
