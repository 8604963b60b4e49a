package plugin

import (
	"sync"

	"github.com/dshills/hotswap/internal/scope"
)

type registryKey struct {
	desc  *Descriptor
	scope *scope.Scope
}

// Registry holds plugin instances keyed by (descriptor, scope).
type Registry struct {
	mu        sync.RWMutex
	instances map[registryKey]*Instance
	order     []*Instance
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[registryKey]*Instance),
	}
}

// Lookup returns the instance bound exactly to s.
func (r *Registry) Lookup(desc *Descriptor, s *scope.Scope) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[registryKey{desc, s}]
	return inst, ok
}

// Find returns the first instance of desc along chain, nearest scope first.
func (r *Registry) Find(desc *Descriptor, chain []*scope.Scope) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(desc, chain)
}

func (r *Registry) findLocked(desc *Descriptor, chain []*scope.Scope) (*Instance, bool) {
	for _, s := range chain {
		if inst, ok := r.instances[registryKey{desc, s}]; ok {
			return inst, true
		}
	}
	return nil, false
}

// commit adds inst unless an instance of its descriptor is already
// reachable through chain, in which case that one is returned. publish runs
// under the registry lock before the instance becomes visible.
func (r *Registry) commit(inst *Instance, chain []*scope.Scope, publish func()) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.findLocked(inst.desc, chain); ok {
		return existing, false
	}
	if publish != nil {
		publish()
	}
	r.instances[registryKey{inst.desc, inst.scope}] = inst
	r.order = append(r.order, inst)
	return inst, true
}

// OwningScope returns the scope inst is registered under. It scans every
// instance; registries stay small.
func (r *Registry) OwningScope(inst *Instance) (*scope.Scope, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for key, candidate := range r.instances {
		if candidate == inst {
			return key.scope, true
		}
	}
	return nil, false
}

// Instances returns all instances in creation order.
func (r *Registry) Instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instance, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
