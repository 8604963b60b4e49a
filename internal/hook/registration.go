package hook

import (
	"regexp"

	"github.com/dshills/hotswap/internal/scope"
	"github.com/dshills/hotswap/internal/unit"
)

// Owner is the plugin instance a registration belongs to.
type Owner interface {
	// ID uniquely identifies the instance.
	ID() string
	// Name returns the plugin name.
	Name() string
	// Scope returns the scope the instance is bound to.
	Scope() *scope.Scope
}

// Spec declares a hook before it is bound to an owner.
type Spec struct {
	// Name identifies the hook in logs. Defaults to the pattern.
	Name string

	// Pattern is a regular expression that must match the whole unit name.
	Pattern string

	// Kinds are the event kinds the hook receives.
	Kinds KindSet

	// Gates restrict when the hook fires.
	Gates Gate

	// Handler receives matching events.
	Handler Handler
}

// Registration is a compiled hook bound to its owning plugin instance.
type Registration struct {
	name    string
	pattern *regexp.Regexp
	kinds   KindSet
	gates   Gate
	handler Handler
	owner   Owner
}

// Name returns the hook name.
func (r *Registration) Name() string {
	return r.name
}

// Pattern returns the source of the hook's pattern.
func (r *Registration) Pattern() string {
	return r.pattern.String()
}

// Kinds returns the declared event kinds.
func (r *Registration) Kinds() KindSet {
	return r.kinds
}

// Gates returns the declared gates.
func (r *Registration) Gates() Gate {
	return r.gates
}

// Handler returns the hook handler.
func (r *Registration) Handler() Handler {
	return r.handler
}

// Owner returns the owning plugin instance. May be nil.
func (r *Registration) Owner() Owner {
	return r.owner
}

// String returns "plugin/hook", or just the hook name when unowned.
func (r *Registration) String() string {
	if r.owner == nil {
		return r.name
	}
	return r.owner.Name() + "/" + r.name
}

// Matches reports whether the registration applies to an event.
// redefinition is only meaningful for KindLoad.
func (r *Registration) Matches(kind Kind, s *scope.Scope, u *unit.Unit, redefinition bool) bool {
	if !r.kinds.Has(kind) || u == nil {
		return false
	}

	if kind == KindLoad {
		if r.gates.Has(GateFirstLoadOnly) && redefinition {
			return false
		}
		if r.gates.Has(GateRedefinitionOnly) && !redefinition {
			return false
		}
	}
	if r.gates.Has(GateSkipAnonymous) && unit.IsAnonymous(u.Name) {
		return false
	}
	if r.gates.Has(GateSkipSynthetic) && u.Synthetic {
		return false
	}

	if s != nil && r.owner != nil {
		if owned := r.owner.Scope(); owned != nil && !owned.IsAncestorOf(s) {
			return false
		}
	}

	return r.pattern.MatchString(u.Name)
}
