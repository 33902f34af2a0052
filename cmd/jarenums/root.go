package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BadgerOps/jarenums/internal/config"
	"github.com/BadgerOps/jarenums/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Opened on first use by commands that need scan history
	globalStore *store.Store
)

// openStore opens the scan history database from the loaded config
func openStore() (*store.Store, error) {
	if globalStore != nil {
		return globalStore, nil
	}
	if globalCfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	dbPath := globalCfg.Store.DBPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	st, err := store.New(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st
	return st, nil
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jarenums",
		Short: "List the enum classes packaged in a Java archive",
		Long: `jarenums inspects a jar, including Spring Boot fat jars and every jar
nested inside them, and reports each enum class it finds together with its
constants, whether it carries the Avro generated-code annotation, and which
archive it came from.

Classes are parsed straight from the classfile bytes; no JVM is needed.`,
		Example: `  jarenums scan app.jar
  jarenums scan app.jar --pattern 'Status\.class$' --output enums.yaml
  jarenums scan https://repo.example.com/app-1.0.jar --sha256 <digest> --save
  jarenums history
  jarenums show 3f2a`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(); err != nil {
				return err
			}
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			globalCfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newScanCmd(),
		newFetchCmd(),
		newHistoryCmd(),
		newShowCmd(),
		newServeCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return cmd
}

// loadConfig reads --config, or the first discovered config file, falling
// back to defaults when there is none
func loadConfig() (*config.Config, error) {
	path := cfgPath
	if path == "" {
		found, err := config.FindConfigFile()
		if err != nil {
			logger.Debug("config file not found, using defaults", "error", err)
		}
		path = found
	}

	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfgPath = path
	logger.Debug("config loaded", "path", path)
	return cfg, nil
}

// setupLogging initializes the slog logger from --log-level, --log-format
// and --quiet
func setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(logLevel))); err != nil {
		if !strings.EqualFold(logLevel, "warning") {
			return fmt.Errorf("invalid --log-level %q", logLevel)
		}
		level = slog.LevelWarn
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(logFormat) {
	case "json":
		logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	case "text", "":
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	default:
		return fmt.Errorf("invalid --log-format %q (text or json)", logFormat)
	}
	slog.SetDefault(logger)
	return nil
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
