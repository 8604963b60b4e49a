package unit

import "errors"

// ErrNilUnit is returned when an operation requires a unit and got nil.
var ErrNilUnit = errors.New("unit is nil")
