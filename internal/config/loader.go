package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "HOTSWAP_"

// LoadFile reads a TOML or YAML file into a file layer. The format is chosen
// by extension (.toml, .yaml, .yml).
func LoadFile(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var values map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		values, err = ParseTOML(path, data)
	case ".yaml", ".yml":
		values, err = ParseYAML(path, data)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}

	return NewLayer(path, SourceFile, values), nil
}

// ParseTOML decodes TOML data into a nested map.
func ParseTOML(source string, data []byte) (map[string]any, error) {
	var values map[string]any
	if err := toml.Unmarshal(data, &values); err != nil {
		return nil, &ParseError{Path: source, Format: "toml", Err: err}
	}
	if values == nil {
		values = make(map[string]any)
	}
	return values, nil
}

// ParseYAML decodes YAML data into a nested map.
func ParseYAML(source string, data []byte) (map[string]any, error) {
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, &ParseError{Path: source, Format: "yaml", Err: err}
	}
	if values == nil {
		values = make(map[string]any)
	}
	return normalizeYAML(values).(map[string]any), nil
}

// normalizeYAML converts map[any]any nodes produced for non-string keys.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalizeYAML(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = normalizeYAML(item)
		}
		return t
	default:
		return v
	}
}

// LoadEnv builds an environment layer from variables with the given prefix.
// HOTSWAP_SCHEDULER__DELAY=250ms maps to "scheduler.delay"; a double
// underscore separates path segments and single underscores are kept.
func LoadEnv(prefix string, environ []string) *Layer {
	values := make(map[string]any)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		path := envToPath(strings.TrimPrefix(name, prefix))
		if path == "" {
			continue
		}
		setByPath(values, path, parseEnvValue(value))
	}
	return NewLayer("environment", SourceEnv, values)
}

func envToPath(name string) string {
	parts := strings.Split(name, "__")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return ""
		}
		out = append(out, strings.ToLower(p))
	}
	return strings.Join(out, ".")
}

// parseEnvValue converts booleans, integers and comma lists; everything
// else stays a string.
func parseEnvValue(s string) any {
	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return s
}
