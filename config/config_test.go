package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poscd.yaml")
	content := "data_dir: " + dir + "\nvdf_target_seconds: 8\npeers:\n  - id: p1\n    address: 127.0.0.1:9000\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, dir, cfg.DataDir)
	require.Equal(t, 8.0, cfg.VDFTargetSeconds)
	require.Len(t, cfg.Peers, 1)
	require.Equal(t, "p1", cfg.Peers[0].ID)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadVDFMemory(t *testing.T) {
	cfg := config.Default()
	cfg.VDFMemoryBytes = 100
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsIncompletePeer(t *testing.T) {
	cfg := config.Default()
	cfg.Peers = []config.PeerConfig{{ID: "p1"}}
	require.Error(t, cfg.Validate())
}

func TestInitDataDirCreatesSubdirs(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.RegistryDir = filepath.Join(dir, "data", "registry")

	require.NoError(t, cfg.InitDataDir())
	info, err := os.Stat(cfg.RegistryDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
