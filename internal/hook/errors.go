package hook

import "errors"

// Hook errors.
var (
	// ErrNoKinds is returned when a hook declares no event kinds.
	ErrNoKinds = errors.New("hook declares no event kinds")

	// ErrNoHandler is returned when a hook has no handler.
	ErrNoHandler = errors.New("hook has no handler")

	// ErrConflictingGates is returned when a hook sets mutually exclusive gates.
	ErrConflictingGates = errors.New("hook gates are mutually exclusive")

	// ErrInvalidPattern is returned when a hook pattern does not compile.
	ErrInvalidPattern = errors.New("invalid hook pattern")
)
