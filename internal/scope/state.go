package scope

// State represents the lifecycle state of a scope.
type State int32

// Scope states. Transitions only move forward.
const (
	// StateUninitialized - Scope is known but has not been prepared.
	StateUninitialized State = iota

	// StateInitializing - Scope is being bridged.
	StateInitializing

	// StateReady - Scope is usable. Terminal.
	StateReady
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}
