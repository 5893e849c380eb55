// Package main provides the CLI entry point for the Chitragupta agent runtime.
//
// Chitragupta runs a tree of LLM agents with shared channels, autonomous
// duties, recorded decisions, and daily memory consolidation.
//
// # Basic Usage
//
// Start the runtime:
//
//	chitragupta serve --config chitragupta.yaml
//
// Inspect recorded decisions:
//
//	chitragupta decisions list --project myrepo
//	chitragupta decisions explain bud-1a2b3c4d
//
// Manage duties:
//
//	chitragupta kartavya list --status proposed
//	chitragupta kartavya approve kar-0d15ea5e
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chitragupta/internal/config"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/storage"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "chitragupta",
		Short:        "Chitragupta - Multi-agent LLM runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildDecisionsCmd(),
		buildKartavyaCmd(),
	)
	return rootCmd
}

// loadConfig reads the config file, or falls back to defaults when no
// path is given and the default file does not exist.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CHITRAGUPTA_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat("chitragupta.yaml"); err == nil {
			path = "chitragupta.yaml"
		} else {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}

func openDatabase(cfg *config.Config) (*storage.SQLite, error) {
	db, err := storage.OpenSQLite(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Storage.DatabasePath, err)
	}
	return db, nil
}
