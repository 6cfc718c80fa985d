// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the datasheet-review CLI: a local
// pipeline that ingests component datasheet PDFs, extracts per-model
// specification records through an AI service, and manages human review
// and export of the resulting corpus.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/datasheet-review/internal/secrets"
	"github.com/pdiddy/datasheet-review/internal/storage"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// secretDefault resolves a secret from config, the .secrets/ directory,
// or the environment, in that order.
func secretDefault(key, fallback string) string {
	return secrets.Resolve(loadedSecrets, key, fallback)
}

// rootCmd is the base command for the datasheet-review CLI.
var rootCmd = &cobra.Command{
	Use:   "datasheet-review",
	Short: "Datasheet ingestion, extraction and review pipeline",
	Long: `datasheet-review manages a local corpus of component datasheets: PDFs are
ingested into a content-addressed store, an AI extraction service turns each
document into per-model specification records, and reviewers verify, correct
and export the results.

Each pipeline stage is a subcommand: ingest, download, extract, run, files,
tasks, models, and export.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./datasheet-review.yaml or ~/.config/datasheet-review/config.yaml)")
	rootCmd.PersistentFlags().String("workspace", "", "workspace directory (default: ./workspace)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("datasheet-review")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "datasheet-review"))
		}
	}

	viper.SetDefault("workspace.dir", "workspace")
	viper.SetEnvPrefix("DATASHEET_REVIEW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// workspaceDir resolves the workspace root from flag, env, or config.
func workspaceDir() string {
	if dir, _ := rootCmd.PersistentFlags().GetString("workspace"); dir != "" {
		return dir
	}
	return viper.GetString("workspace.dir")
}

// openWorkspace opens the review database under the resolved workspace.
func openWorkspace() (*sql.DB, string, error) {
	dir := workspaceDir()
	db, err := storage.Open(dir)
	if err != nil {
		return nil, "", err
	}
	return db, dir, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
