package scope

import "errors"

// Scope errors.
var (
	// ErrNotConfigured is returned when no scope in the ancestor chain has a configuration.
	ErrNotConfigured = errors.New("scope is not configured")

	// ErrParentChanged is returned when re-registering a scope with a different parent.
	ErrParentChanged = errors.New("scope parent is immutable")

	// ErrCycle is returned when an ancestor walk revisits a scope.
	ErrCycle = errors.New("scope ancestor cycle detected")

	// ErrNilScope is returned when a nil scope is passed.
	ErrNilScope = errors.New("scope is nil")

	// ErrForeignScope is returned when a scope belongs to another manager.
	ErrForeignScope = errors.New("scope belongs to a different manager")
)
