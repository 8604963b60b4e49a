// Package lua runs scripted plugins on gopher-lua.
//
// A script is a plugin whose Init executes Lua source in a sandboxed state.
// The source talks to the host through the preloaded hotswap module:
//
//	local hs = require("hotswap")
//
//	hs.on_load([[app\.handlers\..*]], function(unit)
//	    return unit.body .. "\n-- traced"
//	end)
//
//	hs.command("reindex", function(payloads)
//	    hs.log("reindex " .. #payloads)
//	end)
//
//	hs.on_redefine(".*", function(old, new)
//	    hs.schedule("reindex", 200, new.name)
//	end)
//
// Patterns are Go regular expressions matched against the whole unit name.
//
// A load hook returns nil to keep the unit, a string to replace the body,
// or a table with body and attrs fields. Raising an error with error() or
// returning false and a message fails the hook.
//
// Every call into a state holds the state's lock and runs under the
// configured execution timeout.
//
// # Discovery
//
// Discover turns a directory into descriptors. Each *.lua file is a plugin
// named after the file. Each subdirectory holding a plugin.toml manifest is
// a plugin whose entry point is the manifest's main file (init.lua by
// default).
package lua
