// Package scope manages the tree of isolated loading namespaces.
//
// Every Scope has an optional, immutable parent; the root scope has none.
// Scopes move through a one-way lifecycle:
//
//	UNINITIALIZED ──► INITIALIZING ──► READY
//
// While INITIALIZING, the Manager asks its Patcher to bridge plugin-defining
// units into the scope. Initializing a scope first initializes each of its
// ancestors, oldest first.
//
// Configuration is resolved nearest-ancestor-wins: LookupConfiguration walks
// from a scope towards the root and returns the first Configuration found.
//
// Init listeners registered with OnReady are replayed for every scope that is
// already READY and then called once for each scope that becomes READY later.
package scope
