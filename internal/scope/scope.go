package scope

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/hotswap/internal/config"
)

// maxDepth bounds ancestor walks.
const maxDepth = 1024

// ID uniquely identifies a scope.
type ID string

// Scope is an isolated loading namespace.
type Scope struct {
	id     ID
	name   string
	parent *Scope
	owner  *Manager

	state atomic.Int32
	cfg   atomic.Pointer[config.Configuration]
}

func newScope(owner *Manager, name string, parent *Scope) *Scope {
	return &Scope{
		id:     ID(uuid.NewString()),
		name:   name,
		parent: parent,
		owner:  owner,
	}
}

// ID returns the scope's unique identifier.
func (s *Scope) ID() ID {
	return s.id
}

// Name returns the scope's name.
func (s *Scope) Name() string {
	return s.name
}

// Parent returns the parent scope, or nil for the root.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// IsRoot reports whether the scope has no parent.
func (s *Scope) IsRoot() bool {
	return s.parent == nil
}

// State returns the current lifecycle state.
func (s *Scope) State() State {
	return State(s.state.Load())
}

// IsReady reports whether the scope reached READY.
func (s *Scope) IsReady() bool {
	return s.State() == StateReady
}

// Configuration returns the configuration owned by this scope itself,
// ignoring ancestors. It may be nil.
func (s *Scope) Configuration() *config.Configuration {
	return s.cfg.Load()
}

// Chain returns the scope followed by each ancestor, nearest first.
func (s *Scope) Chain() ([]*Scope, error) {
	var chain []*Scope
	seen := make(map[*Scope]struct{})
	for cur := s; cur != nil; cur = cur.parent {
		if _, dup := seen[cur]; dup || len(chain) >= maxDepth {
			return nil, fmt.Errorf("scope %q: %w", s.name, ErrCycle)
		}
		seen[cur] = struct{}{}
		chain = append(chain, cur)
	}
	return chain, nil
}

// IsAncestorOf reports whether s is other or one of other's ancestors.
func (s *Scope) IsAncestorOf(other *Scope) bool {
	depth := 0
	for cur := other; cur != nil && depth < maxDepth; cur = cur.parent {
		if cur == s {
			return true
		}
		depth++
	}
	return false
}

// String returns the scope name.
func (s *Scope) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.name
}

// advance moves the state forward from one state to the next.
func (s *Scope) advance(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}
