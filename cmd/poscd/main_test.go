package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanConfigPathFindsSeparateArg(t *testing.T) {
	require.Equal(t, "foo.yaml", scanConfigPath([]string{"--datadir", "/tmp", "--config", "foo.yaml"}))
}

func TestScanConfigPathFindsEqualsForm(t *testing.T) {
	require.Equal(t, "foo.yaml", scanConfigPath([]string{"--config=foo.yaml"}))
}

func TestScanConfigPathAbsentReturnsEmpty(t *testing.T) {
	require.Equal(t, "", scanConfigPath([]string{"--datadir", "/tmp"}))
}

func TestParseFlagsLoadsYAMLThenAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "poscd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("vdf_target_seconds: 4\n"), 0o600))

	cfg, resolvedPath, exit, code := parseFlags([]string{
		"--config", cfgPath,
		"--datadir", filepath.Join(dir, "data"),
		"--vdf-target-seconds", "9",
	})
	require.False(t, exit)
	require.Equal(t, 0, code)
	require.Equal(t, cfgPath, resolvedPath)
	require.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
	require.Equal(t, 9.0, cfg.VDFTargetSeconds)
}

func TestParseFlagsVersionExitsCleanly(t *testing.T) {
	_, _, exit, code := parseFlags([]string{"--version"})
	require.True(t, exit)
	require.Equal(t, 0, code)
}
