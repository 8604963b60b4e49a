package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrPluginNotRegistered is returned for an unknown descriptor name.
	ErrPluginNotRegistered = errors.New("plugin not registered")

	// ErrPluginNotInitialized is returned when no instance of a known
	// descriptor is reachable from a scope.
	ErrPluginNotInitialized = errors.New("plugin not initialized")

	// ErrAlreadyRegistered is returned when registering a duplicate name.
	ErrAlreadyRegistered = errors.New("plugin already registered")

	// ErrInvalidDescriptor is returned for a descriptor without a name or
	// without anything to build.
	ErrInvalidDescriptor = errors.New("invalid plugin descriptor")

	// ErrUnknownInstance is returned by OwningScope for an instance that is
	// not in the registry.
	ErrUnknownInstance = errors.New("unknown plugin instance")

	// ErrBinderClosed is returned when a plugin uses its Binder after Init
	// has returned.
	ErrBinderClosed = errors.New("binder used after init")

	// ErrNoScheduler is returned by Binder.Schedule when the manager has no
	// command scheduler.
	ErrNoScheduler = errors.New("no command scheduler configured")

	// ErrNoWatchService is returned by Binder.Watch when the manager has no
	// resource watch service.
	ErrNoWatchService = errors.New("no watch service configured")

	// ErrInitPanicked wraps a recovered panic from Init.
	ErrInitPanicked = errors.New("plugin init panicked")
)

// InitError is returned when a plugin's Init fails. The instance is
// discarded.
type InitError struct {
	// Plugin is the descriptor name.
	Plugin string
	// Scope is the scope the instance was being bound to.
	Scope string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *InitError) Error() string {
	return fmt.Sprintf("plugin %s init in scope %s failed: %v", e.Plugin, e.Scope, e.Err)
}

// Unwrap returns the underlying error.
func (e *InitError) Unwrap() error {
	return e.Err
}
