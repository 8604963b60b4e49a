package config

import (
	"os"
	"time"
)

// Setting paths understood by the engine.
const (
	KeyLogLevel         = "log.level"
	KeyLogFormat        = "log.format"
	KeySchedulerDelay   = "scheduler.delay"
	KeySchedulerPoll    = "scheduler.poll"
	KeyPluginPrefix     = "plugins.prefix"
	KeyPluginDir        = "plugins.dir"
	KeyWatchRoots       = "watch.roots"
	KeyWatchIgnore      = "watch.ignore"
	KeyWatchHidden      = "watch.ignore_hidden"
	KeyMetricsNamespace = "metrics.namespace"
)

// Settings are the engine-level values decoded from the root configuration.
type Settings struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// LogFormat is "json" or "console".
	LogFormat string

	// SchedulerDelay is the default command delay.
	SchedulerDelay time.Duration
	// SchedulerPoll bounds how long the idle worker sleeps between sweeps.
	SchedulerPoll time.Duration

	// PluginPrefix is the unit name prefix bridged into new scopes.
	PluginPrefix string
	// PluginDir holds scripted plugins.
	PluginDir string

	// WatchRoots are resource directories watched for the root scope.
	WatchRoots []string
	// WatchIgnore are gitignore-style patterns excluded from watching.
	WatchIgnore []string
	// WatchIgnoreHidden skips dot files.
	WatchIgnoreHidden bool

	// MetricsNamespace prefixes every metric name.
	MetricsNamespace string
}

// DefaultSettings returns the built-in engine settings.
func DefaultSettings() Settings {
	return Settings{
		LogLevel:          "info",
		LogFormat:         "json",
		SchedulerDelay:    100 * time.Millisecond,
		SchedulerPoll:     time.Second,
		PluginPrefix:      "hotswap.plugin",
		WatchIgnoreHidden: true,
		MetricsNamespace:  "hotswap",
	}
}

// DefaultsLayer returns the defaults as a configuration layer.
func DefaultsLayer() *Layer {
	d := DefaultSettings()
	data := make(map[string]any)
	setByPath(data, KeyLogLevel, d.LogLevel)
	setByPath(data, KeyLogFormat, d.LogFormat)
	setByPath(data, KeySchedulerDelay, d.SchedulerDelay.String())
	setByPath(data, KeySchedulerPoll, d.SchedulerPoll.String())
	setByPath(data, KeyPluginPrefix, d.PluginPrefix)
	setByPath(data, KeyWatchHidden, d.WatchIgnoreHidden)
	setByPath(data, KeyMetricsNamespace, d.MetricsNamespace)
	return NewLayer("defaults", SourceDefaults, data)
}

// Load builds the root configuration from defaults, an optional file and the
// process environment.
func Load(path string) (*Configuration, error) {
	layers := []*Layer{DefaultsLayer()}
	if path != "" {
		fileLayer, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		layers = append(layers, fileLayer)
	}
	layers = append(layers, LoadEnv(EnvPrefix, os.Environ()))
	return New("root", layers...), nil
}

// Decode reads Settings from a configuration, falling back to defaults.
func Decode(c *Configuration) Settings {
	d := DefaultSettings()
	if c == nil {
		return d
	}
	return Settings{
		LogLevel:          c.String(KeyLogLevel, d.LogLevel),
		LogFormat:         c.String(KeyLogFormat, d.LogFormat),
		SchedulerDelay:    c.Duration(KeySchedulerDelay, d.SchedulerDelay),
		SchedulerPoll:     c.Duration(KeySchedulerPoll, d.SchedulerPoll),
		PluginPrefix:      c.String(KeyPluginPrefix, d.PluginPrefix),
		PluginDir:         c.String(KeyPluginDir, d.PluginDir),
		WatchRoots:        c.StringSlice(KeyWatchRoots),
		WatchIgnore:       c.StringSlice(KeyWatchIgnore),
		WatchIgnoreHidden: c.Bool(KeyWatchHidden, d.WatchIgnoreHidden),
		MetricsNamespace:  c.String(KeyMetricsNamespace, d.MetricsNamespace),
	}
}
