package plugin

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/hotswap/internal/hook"
	"github.com/dshills/hotswap/internal/scope"
)

// Plugin is the contract every plugin implementation satisfies.
type Plugin interface {
	// Init binds the instance. Hooks and watches must be declared through
	// b before Init returns; b is unusable afterwards.
	Init(ctx context.Context, b *Binder) error
}

// InitFunc adapts a function to Plugin.
type InitFunc func(ctx context.Context, b *Binder) error

// Init calls f.
func (f InitFunc) Init(ctx context.Context, b *Binder) error {
	return f(ctx, b)
}

// Factory builds a fresh plugin implementation for one instance.
type Factory func() Plugin

// Descriptor identifies a plugin type and the hooks it declares.
type Descriptor struct {
	// Name is the unique plugin name.
	Name string

	// Description is a short human-readable summary.
	Description string

	// Hooks are registered for every instance, before any hooks bound in
	// Init.
	Hooks []hook.Spec

	// Factory builds the implementation. May be nil when Hooks alone
	// describe the plugin.
	Factory Factory
}

func (d *Descriptor) validate() error {
	if d == nil || d.Name == "" {
		return ErrInvalidDescriptor
	}
	if d.Factory == nil && len(d.Hooks) == 0 {
		return ErrInvalidDescriptor
	}
	return nil
}

// Instance is one plugin bound to the scope that owns it.
type Instance struct {
	id      string
	desc    *Descriptor
	scope   *scope.Scope
	impl    Plugin
	created time.Time
}

func newInstance(desc *Descriptor, s *scope.Scope) *Instance {
	inst := &Instance{
		id:      uuid.NewString(),
		desc:    desc,
		scope:   s,
		created: time.Now(),
	}
	if desc.Factory != nil {
		inst.impl = desc.Factory()
	}
	return inst
}

// ID returns the unique instance ID.
func (i *Instance) ID() string { return i.id }

// Name returns the descriptor name.
func (i *Instance) Name() string { return i.desc.Name }

// Scope returns the scope the instance is bound to.
func (i *Instance) Scope() *scope.Scope { return i.scope }

// Descriptor returns the instance's descriptor.
func (i *Instance) Descriptor() *Descriptor { return i.desc }

// Plugin returns the implementation, or nil for hook-only descriptors.
func (i *Instance) Plugin() Plugin { return i.impl }

// Created returns when the instance was built.
func (i *Instance) Created() time.Time { return i.created }

// String returns "name@scope".
func (i *Instance) String() string {
	return i.desc.Name + "@" + i.scope.Name()
}
