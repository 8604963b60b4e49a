package config

// Source indicates where a configuration layer came from.
type Source uint8

const (
	// SourceDefaults represents built-in default configuration.
	SourceDefaults Source = iota
	// SourceFile represents a TOML or YAML configuration file.
	SourceFile
	// SourceEnv represents environment variables.
	SourceEnv
	// SourceOverride represents programmatic or command-line overrides.
	SourceOverride
)

// Standard priority levels for configuration layers.
// Higher values override lower values during merging.
const (
	PriorityDefaults = 0
	PriorityFile     = 100
	PriorityEnv      = 500
	PriorityOverride = 1000
)

// String returns a human-readable name for the source.
func (s Source) String() string {
	switch s {
	case SourceDefaults:
		return "defaults"
	case SourceFile:
		return "file"
	case SourceEnv:
		return "environment"
	case SourceOverride:
		return "override"
	default:
		return "unknown"
	}
}

// DefaultPriority returns the default priority for a given source.
func DefaultPriority(source Source) int {
	switch source {
	case SourceFile:
		return PriorityFile
	case SourceEnv:
		return PriorityEnv
	case SourceOverride:
		return PriorityOverride
	default:
		return PriorityDefaults
	}
}

// Layer is a single named set of values with a merge priority.
type Layer struct {
	// Name identifies the layer (e.g. "defaults", "/etc/hotswap.toml").
	Name string

	// Priority determines merge order (higher overrides lower).
	Priority int

	// Source indicates where this layer was loaded from.
	Source Source

	// Data holds the values as a nested map.
	Data map[string]any
}

// NewLayer creates a layer with the source's default priority.
func NewLayer(name string, source Source, data map[string]any) *Layer {
	if data == nil {
		data = make(map[string]any)
	}
	return &Layer{
		Name:     name,
		Priority: DefaultPriority(source),
		Source:   source,
		Data:     data,
	}
}

// Clone creates a deep copy of the layer.
func (l *Layer) Clone() *Layer {
	return &Layer{
		Name:     l.Name,
		Priority: l.Priority,
		Source:   l.Source,
		Data:     cloneMap(l.Data),
	}
}
