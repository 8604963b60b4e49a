package lua

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/hotswap/internal/plugin"
)

// ManifestFile is the manifest name inside a plugin directory.
const ManifestFile = "plugin.toml"

// DefaultMain is the entry point used when a manifest names none.
const DefaultMain = "init.lua"

var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// Manifest describes a directory plugin.
type Manifest struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Main        string `toml:"main"`
	// Timeout bounds each call into the script, e.g. "2s".
	Timeout string `toml:"timeout"`

	dir string
}

// LoadManifest reads and validates the manifest in dir.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, dir, err)
	}
	m.dir = dir
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	if m.Main == "" {
		m.Main = DefaultMain
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest fields.
func (m *Manifest) Validate() error {
	if !validName.MatchString(m.Name) {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidManifest, m.Name)
	}
	if filepath.IsAbs(m.Main) || strings.HasPrefix(filepath.Clean(m.Main), "..") {
		return fmt.Errorf("%w: main %q must stay inside the plugin directory", ErrInvalidManifest, m.Main)
	}
	if m.Timeout != "" {
		if _, err := time.ParseDuration(m.Timeout); err != nil {
			return fmt.Errorf("%w: timeout: %v", ErrInvalidManifest, err)
		}
	}
	return nil
}

// MainPath returns the absolute path of the entry point.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.dir, m.Main)
}

// Descriptor builds the plugin descriptor for the manifest.
func (m *Manifest) Descriptor(opts ...Option) *plugin.Descriptor {
	if m.Timeout != "" {
		d, _ := time.ParseDuration(m.Timeout)
		opts = append(opts, WithTimeout(d))
	}
	opts = append(opts, WithDescription(m.Description))
	return NewDescriptor(Source{Name: m.Name, Path: m.MainPath()}, opts...)
}

// Discover returns a descriptor for each plugin in dir, sorted by name.
// A broken plugin does not hide the others; its error is joined into the
// returned error.
func Discover(dir string, opts ...Option) ([]*plugin.Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var (
		descs []*plugin.Descriptor
		errs  []error
		seen  = make(map[string]string)
	)
	add := func(d *plugin.Descriptor, from string) {
		if prev, ok := seen[d.Name]; ok {
			errs = append(errs, fmt.Errorf("plugin %q in %s: already defined in %s", d.Name, from, prev))
			return
		}
		seen[d.Name] = from
		descs = append(descs, d)
	}

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}

		if e.IsDir() {
			if _, err := os.Stat(filepath.Join(path, ManifestFile)); err != nil {
				continue
			}
			m, err := LoadManifest(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			add(m.Descriptor(opts...), path)
			continue
		}

		if filepath.Ext(e.Name()) != ".lua" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".lua")
		if !validName.MatchString(name) {
			errs = append(errs, fmt.Errorf("%w: invalid name %q", ErrInvalidManifest, name))
			continue
		}
		add(NewDescriptor(Source{Name: name, Path: path}, opts...), path)
	}

	sort.Slice(descs, func(i, j int) bool {
		return descs[i].Name < descs[j].Name
	})
	return descs, errors.Join(errs...)
}
