// Command poscd runs the proof-of-storage-continuity daemon: it loads a
// YAML configuration (overridable by flags), opens or creates the chain
// registry, and serves Prometheus metrics while chains are driven through
// block processing by an external caller (see engine.Engine.ProcessBlock).
//
// Usage:
//
//	poscd [flags]
//
// Flags:
//
//	--config         Path to a YAML config file (optional)
//	--datadir        Data directory path
//	--registrydir    Registry store directory path
//	--metrics-addr   Address to serve Prometheus metrics on (empty disables)
//	--log-level      Log level: debug, info, warn, error
//	--vdf-memory          Memory-hard VDF working set size, in bytes
//	--vdf-target-seconds  Target VDF duration per block, in seconds
//	--version             Print version and exit
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/DIG-Network/proof-of-space-continuity-sub000/config"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/engine"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/plog"
	"github.com/DIG-Network/proof-of-space-continuity-sub000/pmetrics"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. It accepts CLI
// arguments without the program name so it can be exercised by tests
// without touching the real process argv.
func run(args []string) int {
	cfg, configPath, exit, code := parseFlags(args)
	if exit {
		return code
	}

	logger := plog.New(parseLogLevel(cfg.LogLevel))
	if cfg.LogFile != "" {
		logger = plog.NewRotatingFile(parseLogLevel(cfg.LogLevel), plog.RotatingFileConfig{Path: cfg.LogFile}, false)
	}
	plog.SetDefault(logger)
	log := logger.Module("cmd")

	log.Info("poscd starting", "version", version, "commit", commit, "config_path", configPath)
	log.Info("resolved configuration",
		"data_dir", cfg.DataDir,
		"registry_dir", cfg.RegistryDir,
		"metrics_addr", cfg.MetricsAddr,
		"log_level", cfg.LogLevel,
		"vdf_memory_bytes", cfg.VDFMemoryBytes,
		"vdf_target_seconds", cfg.VDFTargetSeconds,
		"availability_challenge_probability", cfg.AvailabilityChallengeProbability,
		"peers", len(cfg.Peers),
	)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		return 1
	}

	eng, err := engine.New(cfg)
	if err != nil {
		log.Error("failed to create engine", "err", err)
		return 1
	}
	if err := eng.Start(); err != nil {
		log.Error("failed to start engine", "err", err)
		return 1
	}

	var metricsServer *pmetrics.Server
	if cfg.MetricsAddr != "" {
		metricsServer = pmetrics.NewServer("poscd", eng.Metrics, "/metrics")
		go func() {
			log.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(cfg.MetricsAddr); err != nil {
				log.Error("metrics server stopped", "err", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info("received signal, shutting down", "signal", sig.String())

	if err := eng.Stop(); err != nil {
		log.Error("error during shutdown", "err", err)
		return 1
	}

	log.Info("shutdown complete")
	return 0
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseFlags parses CLI arguments into a Config, starting from a YAML file
// if --config names one, then layering flag overrides on top. Returns the
// config, the resolved config file path (for logging), whether the caller
// should exit immediately, and the exit code.
func parseFlags(args []string) (config.Config, string, bool, int) {
	cfg := config.Default()
	configPath := scanConfigPath(args)
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return config.Config{}, "", true, 2
		}
		cfg = loaded
	}

	fs := newFlagSet(&cfg)
	fs.String("config", configPath, "path to a YAML config file")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return config.Config{}, "", true, 2
	}
	if *showVersion {
		fmt.Printf("poscd %s (commit %s)\n", version, commit)
		return config.Config{}, "", true, 0
	}

	return cfg, configPath, false, 0
}

// scanConfigPath looks for a --config (or -config) flag's value without
// invoking the full flag parser, so the YAML file it names can be loaded
// before the rest of the flags (which need cfg's fields as their defaults)
// are even defined.
func scanConfigPath(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--config" || arg == "-config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(arg) > len("--config="):
			if arg[:len("--config=")] == "--config=" {
				return arg[len("--config="):]
			}
			if len(arg) > len("-config=") && arg[:len("-config=")] == "-config=" {
				return arg[len("-config="):]
			}
		}
	}
	return ""
}

// newFlagSet creates a flagSet that binds all CLI flags to the given
// Config, so values already loaded from YAML become the flags' defaults
// and are only overwritten if the flag is actually passed.
func newFlagSet(cfg *config.Config) *flagSet {
	fs := newCustomFlagSet("poscd")
	fs.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "data directory path")
	fs.StringVar(&cfg.RegistryDir, "registrydir", cfg.RegistryDir, "registry store directory path")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve Prometheus metrics on")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "rotating log file path (empty logs to stderr)")
	fs.Uint64Var(&cfg.VDFMemoryBytes, "vdf-memory", cfg.VDFMemoryBytes, "memory-hard VDF working set size, in bytes")
	fs.Float64Var(&cfg.VDFTargetSeconds, "vdf-target-seconds", cfg.VDFTargetSeconds, "target VDF duration per block, in seconds")
	fs.Float64Var(&cfg.AvailabilityChallengeProbability, "availability-probability", cfg.AvailabilityChallengeProbability, "per-chain, per-block availability challenge probability")
	return fs
}
