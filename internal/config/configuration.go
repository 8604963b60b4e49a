package config

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Configuration holds the layered key/value settings owned by one scope.
// It is safe for concurrent use.
type Configuration struct {
	name string

	mu     sync.RWMutex
	layers []*Layer       // sorted by priority (ascending)
	merged map[string]any // cached merged result
	dirty  bool
}

// New creates a configuration from the given layers.
func New(name string, layers ...*Layer) *Configuration {
	c := &Configuration{
		name:  name,
		dirty: true,
	}
	for _, l := range layers {
		if l != nil {
			c.layers = append(c.layers, l)
		}
	}
	c.sortLayers()
	return c
}

// FromMap creates a configuration with a single override layer.
func FromMap(name string, data map[string]any) *Configuration {
	return New(name, NewLayer(name, SourceOverride, cloneMap(data)))
}

// Name returns the configuration name.
func (c *Configuration) Name() string {
	return c.name
}

// AddLayer adds a layer. Layers are kept sorted by priority.
func (c *Configuration) AddLayer(layer *Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.layers = append(c.layers, layer)
	c.sortLayers()
	c.dirty = true
}

// Layers returns a copy of the layer list, lowest priority first.
func (c *Configuration) Layers() []*Layer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Layer, len(c.layers))
	copy(out, c.layers)
	return out
}

// Set stores a value in the override layer, creating it if needed.
func (c *Configuration) Set(path string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var override *Layer
	for _, l := range c.layers {
		if l.Source == SourceOverride {
			override = l
			break
		}
	}
	if override == nil {
		override = NewLayer("override", SourceOverride, nil)
		c.layers = append(c.layers, override)
		c.sortLayers()
	}

	setByPath(override.Data, path, value)
	c.dirty = true
}

// Get returns the effective value for a path.
func (c *Configuration) Get(path string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return getByPath(c.mergedData(), path)
}

// Has reports whether the path resolves to a value.
func (c *Configuration) Has(path string) bool {
	_, ok := c.Get(path)
	return ok
}

// Which returns the name of the highest priority layer providing path.
func (c *Configuration) Which(path string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.layers) - 1; i >= 0; i-- {
		if _, ok := getByPath(c.layers[i].Data, path); ok {
			return c.layers[i].Name
		}
	}
	return ""
}

// Merged returns a deep copy of all layers merged together.
func (c *Configuration) Merged() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneMap(c.mergedData())
}

// String returns the value at path as a string, or def if unset.
func (c *Configuration) String(path, def string) string {
	v, ok := c.Get(path)
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns the value at path as a bool, or def if unset or not a bool.
func (c *Configuration) Bool(path string, def bool) bool {
	v, ok := c.Get(path)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}

// Int returns the value at path as an int, or def if unset or not numeric.
func (c *Configuration) Int(path string, def int) int {
	v, ok := c.Get(path)
	if !ok {
		return def
	}
	if n, ok := toInt64(v); ok {
		return int(n)
	}
	return def
}

// Duration returns the value at path as a duration. Strings are parsed with
// time.ParseDuration; bare numbers are milliseconds.
func (c *Configuration) Duration(path string, def time.Duration) time.Duration {
	v, ok := c.Get(path)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
		return def
	}
	if n, ok := toInt64(v); ok {
		return time.Duration(n) * time.Millisecond
	}
	return def
}

// StringSlice returns the value at path as a string slice. A single string
// yields a one-element slice.
func (c *Configuration) StringSlice(path string) []string {
	v, ok := c.Get(path)
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case string:
		return []string{s}
	case []string:
		out := make([]string, len(s))
		copy(out, s)
		return out
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// mergedData refreshes the merged cache if dirty. Must be called with mu held.
func (c *Configuration) mergedData() map[string]any {
	if c.dirty || c.merged == nil {
		result := make(map[string]any)
		for _, l := range c.layers {
			result = deepMerge(result, l.Data)
		}
		c.merged = result
		c.dirty = false
	}
	return c.merged
}

func (c *Configuration) sortLayers() {
	sort.SliceStable(c.layers, func(i, j int) bool {
		return c.layers[i].Priority < c.layers[j].Priority
	})
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	}
	return 0, false
}
