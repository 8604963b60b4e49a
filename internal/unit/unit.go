// Package unit defines the code unit value carried by load and redefine events.
//
// A Unit is a single named, independently loadable piece of code. Names are
// fully qualified and dot separated (e.g. "pkg.svc.Foo"); nested or anonymous
// units use '$' (e.g. "pkg.svc.Foo$1").
package unit

import "strings"

// Unit is one named code unit and its current representation.
type Unit struct {
	// Name is the fully qualified unit identifier.
	Name string

	// Body is the unit's representation. Load hooks may rewrite it.
	Body []byte

	// Synthetic marks units generated by tooling rather than written by hand.
	Synthetic bool

	// Version increases by one each time the unit is committed.
	Version int

	// Attrs holds free-form annotations hooks may read or set.
	Attrs map[string]string
}

// New creates a unit with the given name and body.
func New(name string, body []byte) *Unit {
	return &Unit{
		Name: name,
		Body: body,
	}
}

// Clone returns a deep copy of the unit.
func (u *Unit) Clone() *Unit {
	if u == nil {
		return nil
	}

	c := &Unit{
		Name:      u.Name,
		Synthetic: u.Synthetic,
		Version:   u.Version,
	}
	if u.Body != nil {
		c.Body = make([]byte, len(u.Body))
		copy(c.Body, u.Body)
	}
	if u.Attrs != nil {
		c.Attrs = make(map[string]string, len(u.Attrs))
		for k, v := range u.Attrs {
			c.Attrs[k] = v
		}
	}
	return c
}

// SetAttr sets an annotation, allocating the map on first use.
func (u *Unit) SetAttr(key, value string) {
	if u.Attrs == nil {
		u.Attrs = make(map[string]string)
	}
	u.Attrs[key] = value
}

// Package returns the part of the name before the last '.'.
func (u *Unit) Package() string {
	return PackageOf(u.Name)
}

// PackageOf returns the part of name before the last '.', or "" if there is none.
func PackageOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}

// IsAnonymous reports whether name denotes an anonymous unit, i.e. contains
// a '$' immediately followed by a digit.
func IsAnonymous(name string) bool {
	for i := 0; i+1 < len(name); i++ {
		if name[i] == '$' && name[i+1] >= '0' && name[i+1] <= '9' {
			return true
		}
	}
	return false
}
