package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  env: dev\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.App.HTTPAddr)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "combined", cfg.Engine.DefaultMode)
	assert.Equal(t, "data/engineroom.db", cfg.Store.RunDBPath)
}

func TestLoad_IncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "app:\n  log_level: debug\n  http_addr: \":9000\"\n")
	main := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\napp:\n  http_addr: \":9100\"\n")

	cfg, err := Load(main)
	require.NoError(t, err)
	// The including file wins; untouched keys come from the include.
	assert.Equal(t, ":9100", cfg.App.HTTPAddr)
	assert.Equal(t, "debug", cfg.App.LogLevel)
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	a := filepath.Join(dir, "a.yaml")
	writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoad_Validation(t *testing.T) {
	dir := t.TempDir()

	t.Run("bad log level", func(t *testing.T) {
		path := writeFile(t, dir, "bad_level.yaml", "app:\n  log_level: chatty\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("bad default mode", func(t *testing.T) {
		path := writeFile(t, dir, "bad_mode.yaml", "engine:\n  default_mode: yolo\n")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestReadRuleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rules.yaml", `
version: "2026-q3"
trend_threshold_pct: 3
rule1:
  group1_2:
    trend_down: 0.09
    trend_flat_up: 0.14
`)
	cfg, err := ReadRuleFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2026-q3", cfg.Version)
	assert.InDelta(t, 3, cfg.TrendThresholdPct, 1e-9)
	assert.InDelta(t, 0.09, cfg.Rule1["group1_2"].TrendDown, 1e-9)
	// Groups the file does not name keep their stock values.
	assert.InDelta(t, 0.16, cfg.Rule1["group3_4"].TrendFlatUp, 1e-9)
	assert.InDelta(t, 0.13, cfg.Rule2["group3_4"].TrendDown, 1e-9)
}

func TestReadRuleFile_UnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rules.yaml", "verison: oops\n")
	_, err := ReadRuleFile(path)
	assert.Error(t, err)
}

func TestRuleRegistry_MissingFileFallsBack(t *testing.T) {
	r, err := NewRuleRegistry(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)
	cfg := r.Current()
	assert.Equal(t, "default", cfg.Version)
}

func TestRuleRegistry_UpdateIsIsolated(t *testing.T) {
	r, err := NewRuleRegistry("", false)
	require.NoError(t, err)

	snapshot := r.Current()
	next := r.Current()
	next.Rule1["group1_2"] = snapshot.Rule1["group1_2"]
	next.Version = "v2"
	r.Update(next)

	// The snapshot taken before the update is untouched.
	assert.Equal(t, "default", snapshot.Version)
	assert.Equal(t, "v2", r.Current().Version)
}
