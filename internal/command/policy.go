package command

import (
	"fmt"
	"strings"
)

// Policy decides what happens when a command is scheduled while an equal
// command is pending.
type Policy uint8

const (
	// PolicyMerge appends the payload to the pending command and resets its
	// due time to now + delay.
	PolicyMerge Policy = iota

	// PolicySkip keeps the pending command and its due time; the new
	// payload is discarded.
	PolicySkip

	// PolicyEnqueueSeparately inserts an independent task regardless of
	// equality.
	PolicyEnqueueSeparately
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyMerge:
		return "merge"
	case PolicySkip:
		return "skip"
	case PolicyEnqueueSeparately:
		return "enqueue_separately"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the defined policies.
func (p Policy) Valid() bool {
	return p <= PolicyEnqueueSeparately
}

// ParsePolicy parses a policy name. The empty string is PolicyMerge.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "merge":
		return PolicyMerge, nil
	case "skip":
		return PolicySkip, nil
	case "enqueue", "enqueue_separately", "separate":
		return PolicyEnqueueSeparately, nil
	default:
		return PolicyMerge, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}
