package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/hotswap/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "hotswap dev (commit: unknown, built: unknown)\n", out)
}

func TestLoadConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hotswap.toml")
	writeFile(t, path, `
[log]
level = "warn"

[watch]
roots = ["./src"]
`)

	cfg, err := loadConfig(runOptions{
		configPath: path,
		watchDirs:  []string{"./lib"},
		pluginDir:  "./plugins",
		verbose:    true,
	})
	require.NoError(t, err)

	s := config.Decode(cfg)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "./plugins", s.PluginDir)
	assert.Equal(t, []string{"./src", "./lib"}, s.WatchRoots)
	assert.Equal(t, "override", cfg.Which(config.KeyLogLevel))
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(runOptions{configPath: filepath.Join(t.TempDir(), "missing.toml")})
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	plugins := filepath.Join(dir, "plugins")
	writeFile(t, filepath.Join(src, "handlers", "user.txt"), "user")
	writeFile(t, filepath.Join(src, "handlers", "order.txt"), "order")
	writeFile(t, filepath.Join(plugins, "tracer.lua"), `
local hs = require("hotswap")
hs.on_load(".*", function(u) return u.body .. "+traced" end)
`)
	t.Setenv("HOTSWAP_LOG__LEVEL", "error")

	out, err := execute(t, "run", "--once", "--watch", src, "--plugins", plugins)
	require.NoError(t, err)
	assert.Equal(t, "2 units in scope root, 0 commands run\n", out)
}

func TestRunOnce_BadPlugin(t *testing.T) {
	dir := t.TempDir()
	plugins := filepath.Join(dir, "plugins")
	writeFile(t, filepath.Join(plugins, "broken.lua"), `this is not lua`)
	t.Setenv("HOTSWAP_LOG__LEVEL", "error")

	_, err := execute(t, "run", "--once", "--plugins", plugins)
	assert.Error(t, err)
}

func TestRun_RejectsArgs(t *testing.T) {
	_, err := execute(t, "run", "extra")
	assert.Error(t, err)
}
