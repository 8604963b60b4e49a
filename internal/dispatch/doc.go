// Package dispatch matches code lifecycle events against the hook table and
// invokes the matching hooks on the calling goroutine.
//
// Two execution modes exist:
//
//   - Load: hooks run in registration order on a working copy of the unit,
//     each seeing the previous hook's changes. The first failing hook stops
//     the chain and the caller receives a *TransformBuildError; the caller's
//     unit is left untouched and must not be finalized.
//   - Redefine: the swap already happened. Every matching hook runs; a
//     failing hook is logged as a *HookInvocationError and the next hook
//     still runs.
//
// Panics inside hooks are recovered and treated as failures. No timeout is
// imposed on hooks. Load honours cancellation of ctx between hooks; Redefine
// runs its whole chain regardless.
package dispatch
