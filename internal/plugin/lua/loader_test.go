package lua

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "single.lua"), `require("hotswap").log("single")`)
	writeFile(t, filepath.Join(dir, "README.md"), "not a plugin")
	writeFile(t, filepath.Join(dir, ".hidden.lua"), "ignored")
	writeFile(t, filepath.Join(dir, "bundle", ManifestFile), `
name = "bundled"
description = "A directory plugin"
main = "main.lua"
timeout = "2s"
`)
	writeFile(t, filepath.Join(dir, "bundle", "main.lua"), `require("hotswap").log("bundled")`)
	writeFile(t, filepath.Join(dir, "plain-dir", "init.lua"), "no manifest, not a plugin")

	descs, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "bundled", descs[0].Name)
	assert.Equal(t, "A directory plugin", descs[0].Description)
	assert.Equal(t, "single", descs[1].Name)

	h := newHarness(t)
	for _, d := range descs {
		require.NoError(t, h.plugins.Register(d))
	}
	_, err = h.plugins.InstantiateAll(context.Background(), h.app)
	require.NoError(t, err)
	assert.Equal(t, 1, h.logs.FilterMessage("bundled").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("single").Len())
}

func TestDiscover_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "good.lua"), "")
	writeFile(t, filepath.Join(dir, "bad", ManifestFile), `name = [`)
	writeFile(t, filepath.Join(dir, "escape", ManifestFile), `main = "../outside.lua"`)
	writeFile(t, filepath.Join(dir, "dup", ManifestFile), `name = "good"`)

	descs, err := Discover(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidManifest)
	assert.Contains(t, err.Error(), "already defined")
	require.Len(t, descs, 1)

	_, err = Discover(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestManifest_Defaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tracer")
	writeFile(t, filepath.Join(dir, ManifestFile), `description = "traces"`)

	m, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "tracer", m.Name)
	assert.Equal(t, DefaultMain, m.Main)
	assert.Equal(t, filepath.Join(dir, DefaultMain), m.MainPath())
}

func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		m       Manifest
		wantErr bool
	}{
		{"valid", Manifest{Name: "ok", Main: "init.lua"}, false},
		{"bad name", Manifest{Name: "1bad", Main: "init.lua"}, true},
		{"absolute main", Manifest{Name: "ok", Main: "/etc/init.lua"}, true},
		{"bad timeout", Manifest{Name: "ok", Main: "init.lua", Timeout: "soon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidManifest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
