// Package config holds the daemon's configuration: a YAML file loaded at
// startup, with individual fields overridable by CLI flags. Grounded on
// the teacher's pkg/node/config.go (plain struct, DefaultConfig/Validate,
// directory-init helper, address builders) with YAML (de)serialization
// added via gopkg.in/yaml.v2, already present in the example pack's
// transitive dependency closure.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Config holds all configuration for the proof-of-storage-continuity
// daemon.
type Config struct {
	DataDir string `yaml:"data_dir"`

	// RegistryDir is where the pebble-backed chain registry persists
	// lifecycle state across restarts.
	RegistryDir string `yaml:"registry_dir"`

	// MetricsAddr, if non-empty, is the address the Prometheus metrics
	// endpoint listens on.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls log verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFile, if set, redirects structured logs to a rotating file
	// instead of stderr.
	LogFile string `yaml:"log_file"`

	// VDFMemoryBytes is the memory-hard VDF's working-set size.
	VDFMemoryBytes uint64 `yaml:"vdf_memory_bytes"`

	// VDFTargetSeconds is the target wall-clock duration for each block's
	// VDF computation.
	VDFTargetSeconds float64 `yaml:"vdf_target_seconds"`

	// AvailabilityChallengeProbability is the per-chain, per-block
	// probability of issuing an availability challenge.
	AvailabilityChallengeProbability float64 `yaml:"availability_challenge_probability"`

	// Peers is the set of peer addresses the network-latency monitor
	// measures against.
	Peers []PeerConfig `yaml:"peers"`
}

// PeerConfig names one peer the latency monitor tracks.
type PeerConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// defaultDataDir returns the platform-specific default data directory,
// falling back to a relative directory if the home directory cannot be
// determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".poscd"
	}
	return filepath.Join(home, ".poscd")
}

// Default returns a Config with sensible defaults.
func Default() Config {
	dataDir := defaultDataDir()
	return Config{
		DataDir:                          dataDir,
		RegistryDir:                      filepath.Join(dataDir, "registry"),
		MetricsAddr:                      "",
		LogLevel:                         "info",
		VDFMemoryBytes:                   256 * 1024 * 1024,
		VDFTargetSeconds:                 16.0,
		AvailabilityChallengeProbability: 0.01,
	}
}

// Load reads and parses a YAML config file, starting from Default() so
// unspecified fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir must not be empty")
	}
	if c.RegistryDir == "" {
		return errors.New("config: registry_dir must not be empty")
	}
	if c.VDFMemoryBytes < 1<<20 {
		return fmt.Errorf("config: vdf_memory_bytes must be >= 1MiB, got %d", c.VDFMemoryBytes)
	}
	if c.VDFTargetSeconds <= 0 {
		return fmt.Errorf("config: vdf_target_seconds must be > 0, got %f", c.VDFTargetSeconds)
	}
	if c.AvailabilityChallengeProbability < 0 || c.AvailabilityChallengeProbability > 1 {
		return fmt.Errorf("config: availability_challenge_probability must be in [0,1], got %f", c.AvailabilityChallengeProbability)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	for _, p := range c.Peers {
		if p.ID == "" || p.Address == "" {
			return fmt.Errorf("config: peer entries require both id and address, got %+v", p)
		}
	}
	return nil
}

// InitDataDir creates the data directory and its registry subdirectory if
// they do not already exist.
func (c *Config) InitDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("config: create data_dir: %w", err)
	}
	if err := os.MkdirAll(c.RegistryDir, 0o700); err != nil {
		return fmt.Errorf("config: create registry_dir: %w", err)
	}
	return nil
}

// ResolvePath resolves path relative to the data directory, leaving
// absolute paths untouched.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}
