// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pdiddy/datasheet-review/internal/contentstore"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest local PDF files into the content store",
	Long: `Ingest reads local PDF files and stores them in the content-addressed
store. Files are identified by the SHA-256 digest of their bytes: re-ingesting
identical content is a no-op that reports the existing entry.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("provide one or more PDF files to ingest")
	}

	db, dir, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := contentstore.New(db, dir)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var failed int
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed  %s: %v\n", path, err)
			failed++
			continue
		}

		asset, created, err := store.Put(ctx, data, filepath.Base(path), "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed  %s: %v\n", path, err)
			failed++
			continue
		}
		if created {
			fmt.Printf("ingested %s -> %s (%d bytes)\n", path, asset.FileHash, asset.SizeBytes)
		} else {
			fmt.Printf("exists   %s -> %s (first ingested as %q)\n", path, asset.FileHash, asset.Filename)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d file(s) failed ingestion", failed)
	}
	return nil
}
