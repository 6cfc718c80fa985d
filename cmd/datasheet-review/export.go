// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/datasheet-review/internal/export"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export model records as CSV, JSON or YAML",
	Long: `Export streams model records to a file or stdout. Without --models the
whole corpus is exported sorted by model number; with --models (or
--models-file) only the listed model numbers are exported. Unknown model
numbers are omitted without error.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().String("format", "csv", "output format: csv, json or yaml")
	exportCmd.Flags().String("status", "", "restrict a full export to unverified or verified records")
	exportCmd.Flags().StringSlice("models", nil, "export only these model numbers")
	exportCmd.Flags().String("models-file", "", "read model numbers from a file, one per line")
	exportCmd.Flags().Bool("preserve-order", false, "emit list-export rows in input order, repeats included")
	exportCmd.Flags().Int("chunk-size", 0, "bound parameters per query chunk (default 900)")
	exportCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	opts := export.Options{Format: export.Format(format)}

	if s, _ := cmd.Flags().GetString("status"); s != "" {
		status := types.VerifyStatus(s)
		if status != types.Unverified && status != types.Verified {
			return fmt.Errorf("unknown status %q: use unverified or verified", s)
		}
		opts.Status = &status
	}

	models, _ := cmd.Flags().GetStringSlice("models")
	if path, _ := cmd.Flags().GetString("models-file"); path != "" {
		fromFile, err := readModelList(path)
		if err != nil {
			return err
		}
		models = append(models, fromFile...)
	}
	opts.Models = models
	opts.PreserveOrder, _ = cmd.Flags().GetBool("preserve-order")
	opts.ChunkSize, _ = cmd.Flags().GetInt("chunk-size")

	db, _, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()

	var w io.Writer = os.Stdout
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	count, err := export.New(db).Export(context.Background(), w, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d record(s)\n", count)
	return nil
}

// readModelList reads one model number per line, skipping blanks and
// lines starting with #.
func readModelList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading model list: %w", err)
	}
	defer f.Close()

	var models []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		models = append(models, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading model list: %w", err)
	}
	return models, nil
}
