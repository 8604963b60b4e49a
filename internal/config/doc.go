// Package config provides per-scope configuration for the hotswap engine.
//
// A Configuration is a stack of layers with higher priority layers overriding
// lower ones:
//
//	┌─────────────────────────────┐
//	│  4. Overrides (API/CLI)     │  ← Highest priority
//	├─────────────────────────────┤
//	│  3. Environment Variables   │  ← HOTSWAP_*
//	├─────────────────────────────┤
//	│  2. Configuration File      │  ← hotswap.toml / hotswap.yaml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Scopes own zero or one Configuration. Resolution across the scope tree
// (nearest ancestor wins) is done by the scope package; this package only
// merges layers within a single Configuration.
//
// Values are addressed by dot-separated paths such as "scheduler.delay".
package config
