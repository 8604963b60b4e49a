package command

import (
	"context"
	"strings"
)

// Key is the identity of a command. Two commands are equal when their keys
// are equal; payload never takes part in equality. Include the scope so that
// commands from unrelated scopes never merge.
type Key struct {
	// Scope identifies the scope the command works on. May be empty.
	Scope string
	// Name identifies the kind of work.
	Name string
	// Target identifies what the work applies to, such as a unit or a
	// resource locator. May be empty.
	Target string
}

// String returns "scope:name:target", omitting empty parts.
func (k Key) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{k.Scope, k.Name, k.Target} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ":")
}

// Func is a command body. It receives every payload fragment accumulated
// for the command, in scheduling order.
type Func func(ctx context.Context, key Key, payloads []any) error

// Command is a deferred unit of work.
//
// A Command is owned by the scheduler once scheduled; callers must not
// reuse it.
type Command struct {
	key      Key
	payloads []any
	run      Func
}

// New creates a command with one payload fragment. A nil payload adds no
// fragment.
func New(key Key, payload any, fn Func) *Command {
	c := &Command{key: key, run: fn}
	if payload != nil {
		c.payloads = append(c.payloads, payload)
	}
	return c
}

// Key returns the command identity.
func (c *Command) Key() Key {
	return c.key
}

// Payloads returns a copy of the accumulated payload fragments.
func (c *Command) Payloads() []any {
	out := make([]any, len(c.payloads))
	copy(out, c.payloads)
	return out
}

// merge appends the payload fragments of other.
func (c *Command) merge(other *Command) {
	c.payloads = append(c.payloads, other.payloads...)
}

// Execute runs the command body.
func (c *Command) Execute(ctx context.Context) error {
	return c.run(ctx, c.key, c.Payloads())
}
