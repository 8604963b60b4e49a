package watch

import "errors"

// Common errors returned by watch operations.
var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrPathNotExist  = errors.New("path does not exist")
	ErrNilListener   = errors.New("listener is nil")
	ErrEmptyLocator  = errors.New("locator is empty")
)
