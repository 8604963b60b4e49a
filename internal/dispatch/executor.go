package dispatch

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Result represents the outcome of one hook execution.
type Result struct {
	// Err is the error returned by the hook, or ErrHookPanicked.
	Err error

	// Panicked is true if the hook panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// Duration is how long the hook took to execute.
	Duration time.Duration
}

// IsSuccess returns true if the hook completed without error or panic.
func (r Result) IsSuccess() bool {
	return r.Err == nil && !r.Panicked
}

// execute runs fn, recovering panics and capturing timing.
func execute(fn func() error) (result Result) {
	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			result.Panicked = true
			result.PanicValue = r
			result.PanicStack = debug.Stack()
			result.Err = fmt.Errorf("%w: %v", ErrHookPanicked, r)
		}
	}()

	result.Err = fn()
	return result
}
