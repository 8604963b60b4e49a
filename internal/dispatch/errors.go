package dispatch

import (
	"errors"
	"fmt"
)

// ErrHookPanicked wraps a recovered hook panic.
var ErrHookPanicked = errors.New("hook panicked")

// TransformBuildError is returned when a load hook fails. The unit must not
// be finalized.
type TransformBuildError struct {
	// Unit is the name of the unit being defined.
	Unit string
	// Hook identifies the failing hook as "plugin/hook". Empty when the
	// chain was cancelled before a hook ran.
	Hook string
	// Err is the hook's error.
	Err error
}

// Error implements the error interface.
func (e *TransformBuildError) Error() string {
	if e.Hook == "" {
		return fmt.Sprintf("transform of %s aborted: %v", e.Unit, e.Err)
	}
	return fmt.Sprintf("transform of %s failed in hook %s: %v", e.Unit, e.Hook, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransformBuildError) Unwrap() error {
	return e.Err
}

// HookInvocationError describes a failed redefine hook. It is logged, never
// propagated as a failure of the redefinition.
type HookInvocationError struct {
	// Unit is the name of the redefined unit.
	Unit string
	// Hook identifies the failing hook as "plugin/hook".
	Hook string
	// Err is the hook's error.
	Err error
	// Stack is set when the hook panicked.
	Stack []byte
}

// Error implements the error interface.
func (e *HookInvocationError) Error() string {
	return fmt.Sprintf("hook %s failed for %s: %v", e.Hook, e.Unit, e.Err)
}

// Unwrap returns the underlying error.
func (e *HookInvocationError) Unwrap() error {
	return e.Err
}
