// Package plugin manages plugin descriptors and their per-scope instances.
//
// A Descriptor names a plugin type and knows how to build it. Instances are
// created by Manager.Instantiate for a scope. Lookups walk the scope's
// ancestor chain, so a descendant scope reuses an instance that already
// exists in one of its ancestors instead of creating its own. Two sibling
// scopes each get their own instance.
//
// Instantiation runs the plugin's Init with a Binder. Hooks and resource
// watches declared through the Binder are buffered and only become visible
// once Init returns successfully; a failed Init leaves nothing behind.
//
// # Writing a plugin
//
//	type reinit struct{}
//
//	func (reinit) Init(ctx context.Context, b *plugin.Binder) error {
//	    return b.OnRedefine(`pkg\.svc\..*`, func(ctx context.Context, ev *hook.RedefineEvent) error {
//	        return b.Schedule(command.New(command.Key{Scope: b.Scope().Name(), Name: "reinit"},
//	            ev.Name(), reinitialize), 0, command.PolicyMerge)
//	    })
//	}
//
//	mgr.Register(&plugin.Descriptor{Name: "reinit", Factory: func() plugin.Plugin { return reinit{} }})
//	inst, err := mgr.Instantiate(ctx, "reinit", appScope)
package plugin
