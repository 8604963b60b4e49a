// Package engine wires the hotswap components into one explicit context
// object.
//
// An Engine owns the scope tree, the hook table and dispatcher, the unit
// store, the command scheduler, the resource watcher and the plugin
// manager. Callers build one with New, start the scheduler with Run and
// stop everything with Shutdown:
//
//	eng, err := engine.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer eng.Shutdown(context.Background())
//
//	if err := eng.LoadPlugins(ctx, dir); err != nil {
//	    return err
//	}
//	return eng.Run(ctx)
//
// WatchSources keeps the unit store in sync with a directory of source
// files. Every file becomes a unit named after its path relative to the
// directory, with separators replaced by dots and the extension dropped.
// File changes are debounced through the scheduler with the merge policy,
// so a burst of writes to one file produces one redefinition.
package engine
