package redefine

import "errors"

// Sentinel errors for the redefinition service.
var (
	// ErrUnitNotFound is returned when redefining a unit that was never
	// defined in the scope.
	ErrUnitNotFound = errors.New("unit not found")

	// ErrSelfPatch is returned when patching a scope onto itself.
	ErrSelfPatch = errors.New("scope cannot be patched onto itself")

	// ErrEmptyBatch is returned by Redefine for an empty batch.
	ErrEmptyBatch = errors.New("empty redefinition batch")
)
