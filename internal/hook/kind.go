package hook

import "strings"

// Kind is a code lifecycle event kind.
type Kind uint8

const (
	// KindLoad is emitted before a unit representation is finalized.
	// Hooks may rewrite the unit.
	KindLoad Kind = 1 << iota

	// KindRedefine is emitted after a new representation was committed.
	// Hooks only propagate side effects.
	KindRedefine
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindRedefine:
		return "redefine"
	default:
		return "unknown"
	}
}

// KindSet is a set of event kinds.
type KindSet uint8

// Kinds builds a KindSet.
func Kinds(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= KindSet(k)
	}
	return s
}

// Has reports whether k is in the set.
func (s KindSet) Has(k Kind) bool {
	return s&KindSet(k) != 0
}

// String lists the kinds in the set.
func (s KindSet) String() string {
	var parts []string
	for _, k := range []Kind{KindLoad, KindRedefine} {
		if s.Has(k) {
			parts = append(parts, k.String())
		}
	}
	return strings.Join(parts, "|")
}

// Gate restricts when a matching hook fires.
type Gate uint8

const (
	// GateFirstLoadOnly fires load hooks only when the unit is defined for
	// the first time, not when it is being redefined.
	GateFirstLoadOnly Gate = 1 << iota

	// GateRedefinitionOnly fires load hooks only when an existing unit is
	// being redefined.
	GateRedefinitionOnly

	// GateSkipAnonymous skips anonymous units (names containing '$' + digit).
	GateSkipAnonymous

	// GateSkipSynthetic skips units marked synthetic.
	GateSkipSynthetic
)

// Has reports whether g includes flag.
func (g Gate) Has(flag Gate) bool {
	return g&flag == flag
}
