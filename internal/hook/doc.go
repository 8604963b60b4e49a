// Package hook defines hook registrations and the ordered table the
// dispatcher matches lifecycle events against.
//
// A registration matches an event when the event kind is in its KindSet, the
// unit name fully matches its regular expression, its Gate flags are
// satisfied, and (when both are known) the event scope is the owner's scope
// or one of its descendants.
//
// Handlers are registered explicitly through the Handler interface, or the
// LoadFunc and RedefineFunc adapters:
//
//	spec := hook.Spec{
//		Name:    "reset-cache",
//		Pattern: `pkg\.svc\..*`,
//		Kinds:   hook.Kinds(hook.KindRedefine),
//		Handler: hook.RedefineFunc(func(ctx context.Context, ev *hook.RedefineEvent) error {
//			return nil
//		}),
//	}
package hook
