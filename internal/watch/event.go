package watch

import (
	"time"

	"github.com/dshills/hotswap/internal/scope"
)

// Op is the kind of resource change.
type Op uint8

const (
	// OpCreate indicates a resource was created.
	OpCreate Op = iota + 1
	// OpModify indicates a resource was written to.
	OpModify
	// OpDelete indicates a resource was removed or renamed away.
	OpDelete
)

// String returns the operation name.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Event is a resource change delivered to a listener.
type Event struct {
	// Scope is the scope the listener was registered for.
	Scope *scope.Scope

	// Locator is the locator the listener was registered with.
	Locator string

	// Path is the absolute path of the changed resource.
	Path string

	// Op is the change.
	Op Op

	// Timestamp is when the change was observed.
	Timestamp time.Time
}

// Listener receives resource events.
type Listener func(ev Event)

// Service is the resource watch collaborator.
type Service interface {
	// AddWatchRoot starts watching locator on behalf of s.
	AddWatchRoot(s *scope.Scope, locator string) error

	// AddListener registers l for changes under locator on behalf of s.
	AddListener(s *scope.Scope, locator string, l Listener) error
}
