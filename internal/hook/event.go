package hook

import (
	"context"

	"github.com/dshills/hotswap/internal/scope"
	"github.com/dshills/hotswap/internal/unit"
)

// LoadEvent carries the mutable representation of a unit about to be
// defined. Hooks run in order and each sees the previous hook's changes.
type LoadEvent struct {
	// Scope is the scope defining the unit. May be nil.
	Scope *scope.Scope

	// Unit is the working copy hooks may modify.
	Unit *unit.Unit

	// Previous is the committed version being replaced, or nil on first load.
	Previous *unit.Unit
}

// IsRedefinition reports whether the load replaces an existing unit.
func (e *LoadEvent) IsRedefinition() bool {
	return e.Previous != nil
}

// RedefineEvent carries the previous and new, already committed,
// representations of a unit.
type RedefineEvent struct {
	// Scope is the scope owning the unit. May be nil.
	Scope *scope.Scope

	// Old is the representation before the swap.
	Old *unit.Unit

	// New is the representation now live.
	New *unit.Unit
}

// Name returns the redefined unit's name.
func (e *RedefineEvent) Name() string {
	if e.New != nil {
		return e.New.Name
	}
	if e.Old != nil {
		return e.Old.Name
	}
	return ""
}

// Handler receives lifecycle events for the kinds it was registered for.
type Handler interface {
	// OnLoad may alter ev.Unit. A returned error aborts the definition.
	OnLoad(ctx context.Context, ev *LoadEvent) error

	// OnRedefine reacts to a committed redefinition. Errors are logged only.
	OnRedefine(ctx context.Context, ev *RedefineEvent) error
}

// LoadFunc adapts a function to a load-only Handler.
type LoadFunc func(ctx context.Context, ev *LoadEvent) error

// OnLoad calls f.
func (f LoadFunc) OnLoad(ctx context.Context, ev *LoadEvent) error {
	return f(ctx, ev)
}

// OnRedefine does nothing.
func (f LoadFunc) OnRedefine(context.Context, *RedefineEvent) error {
	return nil
}

// RedefineFunc adapts a function to a redefine-only Handler.
type RedefineFunc func(ctx context.Context, ev *RedefineEvent) error

// OnLoad does nothing.
func (f RedefineFunc) OnLoad(context.Context, *LoadEvent) error {
	return nil
}

// OnRedefine calls f.
func (f RedefineFunc) OnRedefine(ctx context.Context, ev *RedefineEvent) error {
	return f(ctx, ev)
}
