// Package watch provides the resource watch service used by plugins to
// observe files and directories.
//
// A plugin declares interest in a locator (a file or directory path) for the
// scope it is bound to. The service watches the locator recursively and
// delivers CREATE, MODIFY and DELETE events to every listener registered for
// a locator that contains the changed path.
//
// FSService is the fsnotify-backed implementation. Listeners run on the
// service's event goroutine, one at a time; a panicking listener is
// recovered and logged without affecting other listeners.
package watch
