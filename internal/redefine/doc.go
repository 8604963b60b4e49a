// Package redefine is an in-memory code redefinition service.
//
// The service stores committed units per scope and drives the dispatcher:
// every definition runs load hooks before the unit is committed, and every
// replacement of an already committed unit runs redefine hooks afterwards.
// Batch redefinitions are all-or-nothing: every unit is transformed first,
// and nothing is committed unless all transforms succeed.
//
// The service also implements scope.Patcher. A scope patch makes units with
// a name prefix, as committed in a target scope, visible from another scope.
package redefine
