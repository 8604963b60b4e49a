package hook

import (
	"fmt"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/hotswap/internal/scope"
	"github.com/dshills/hotswap/internal/unit"
)

// DefaultPatternCacheSize is the number of compiled patterns kept.
const DefaultPatternCacheSize = 512

// Table holds hook registrations in registration order.
// It is safe for concurrent use.
type Table struct {
	mu   sync.RWMutex
	regs []*Registration

	patterns *lru.Cache[string, *regexp.Regexp]
}

// NewTable creates an empty table.
func NewTable() *Table {
	cache, err := lru.New[string, *regexp.Regexp](DefaultPatternCacheSize)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &Table{patterns: cache}
}

// Compile validates a spec and binds it to owner. The result is not visible
// to Match until passed to Add.
func (t *Table) Compile(spec Spec, owner Owner) (*Registration, error) {
	if spec.Kinds == 0 {
		return nil, fmt.Errorf("hook %q: %w", spec.Name, ErrNoKinds)
	}
	if spec.Handler == nil {
		return nil, fmt.Errorf("hook %q: %w", spec.Name, ErrNoHandler)
	}
	if spec.Gates.Has(GateFirstLoadOnly) && spec.Gates.Has(GateRedefinitionOnly) {
		return nil, fmt.Errorf("hook %q: %w", spec.Name, ErrConflictingGates)
	}

	re, err := t.compile(spec.Pattern)
	if err != nil {
		return nil, fmt.Errorf("hook %q: %w: %v", spec.Name, ErrInvalidPattern, err)
	}

	name := spec.Name
	if name == "" {
		name = spec.Pattern
	}

	return &Registration{
		name:    name,
		pattern: re,
		kinds:   spec.Kinds,
		gates:   spec.Gates,
		handler: spec.Handler,
		owner:   owner,
	}, nil
}

// compile anchors and compiles a pattern, reusing cached results.
func (t *Table) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := t.patterns.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, err
	}
	t.patterns.Add(pattern, re)
	return re, nil
}

// Add makes registrations visible, preserving their order.
func (t *Table) Add(regs ...*Registration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.regs = append(t.regs, regs...)
}

// RemoveOwner removes every registration of owner and returns the count.
func (t *Table) RemoveOwner(owner Owner) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.regs[:0]
	removed := 0
	for _, r := range t.regs {
		if r.owner == owner {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(t.regs); i++ {
		t.regs[i] = nil
	}
	t.regs = kept
	return removed
}

// Match returns registrations matching an event, in registration order.
func (t *Table) Match(kind Kind, s *scope.Scope, u *unit.Unit, redefinition bool) []*Registration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Registration
	for _, r := range t.regs {
		if r.Matches(kind, s, u, redefinition) {
			out = append(out, r)
		}
	}
	return out
}

// Owned returns the registrations of owner, in registration order.
func (t *Table) Owned(owner Owner) []*Registration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Registration
	for _, r := range t.regs {
		if r.owner == owner {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of registrations.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.regs)
}
