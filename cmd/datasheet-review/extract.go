// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/datasheet-review/internal/contentstore"
	"github.com/pdiddy/datasheet-review/internal/extraction"
	"github.com/pdiddy/datasheet-review/internal/pdftext"
	"github.com/pdiddy/datasheet-review/internal/review"
	"github.com/pdiddy/datasheet-review/internal/secrets"
	"github.com/pdiddy/datasheet-review/internal/taskqueue"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

const (
	defaultModel     = "gpt-5"
	defaultAITimeout = 15 * time.Minute
)

var extractCmd = &cobra.Command{
	Use:   "extract [hashes...]",
	Short: "Queue stored files for AI extraction and run the queue",
	Long: `Extract enqueues extraction tasks for the given file hashes (or for
every stored file with --all) and runs extraction workers until the queue
drains. Files that already have a successful extraction are skipped unless
--force is set. Each run reports how many inputs were queued, skipped,
unknown, or duplicated.`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().Bool("all", false, "enqueue every stored file")
	extractCmd.Flags().Bool("force", false, "re-extract files that already succeeded")
	extractCmd.Flags().Bool("enqueue-only", false, "queue the tasks without running workers")
	extractCmd.Flags().String("mode", "sync", "extraction mode: sync, batch, or background")
	extractCmd.Flags().String("model", "", "AI model identifier (default gpt-5)")
	extractCmd.Flags().String("service-tier", "", "provider service tier: auto, default, flex, priority, scale")
	extractCmd.Flags().Int("workers", 1, "parallel extraction workers")
	extractCmd.Flags().Int("field-batch", 0, "model numbers per field-stage call (default 10)")

	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if len(args) == 0 && !all {
		return fmt.Errorf("provide file hashes or --all")
	}

	force, _ := cmd.Flags().GetBool("force")
	enqueueOnly, _ := cmd.Flags().GetBool("enqueue-only")
	modeStr, _ := cmd.Flags().GetString("mode")
	mode := types.ExtractionMode(modeStr)
	switch mode {
	case types.ModeSync, types.ModeBatch, types.ModeBackground:
	default:
		return fmt.Errorf("unknown mode %q: use sync, batch, or background", modeStr)
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
	queue := taskqueue.New(db)
	ctx := context.Background()

	hashes := args
	if all {
		hashes, err = allFileHashes(ctx, store)
		if err != nil {
			return err
		}
	}

	outcome, err := queue.EnqueueExtractions(ctx, hashes, mode, force)
	if err != nil {
		return err
	}
	fmt.Printf("queued %d, skipped %d existing, %d unknown, %d duplicate input(s)\n",
		outcome.Queued, outcome.SkippedExisting, outcome.NotFound, outcome.DuplicatesIgnored)
	if len(outcome.NotFoundHashes) > 0 {
		fmt.Fprintf(os.Stderr, "unknown hashes: %s\n", strings.Join(outcome.NotFoundHashes, ", "))
	}
	if enqueueOnly || outcome.Queued == 0 {
		return nil
	}

	engine, workers, err := buildEngine(cmd, db, dir, store, queue)
	if err != nil {
		return err
	}

	pool := taskqueue.Pool{
		Name:         "extraction",
		Workers:      workers,
		PollInterval: 250 * time.Millisecond,
		Handler:      engine.HandleOne,
	}

	drainCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		waitForExtractions(ctx, queue)
	}()
	if err := pool.Run(drainCtx, os.Stdout); err != nil && drainCtx.Err() == nil {
		return err
	}

	failed, err := queue.ListExtractions(ctx, types.ExtractionFailed, "", 0)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d extraction task(s) failed; inspect with 'tasks list --type extraction --status failed'", len(failed))
	}
	return nil
}

// buildEngine assembles the extraction engine from flags, config and secrets.
func buildEngine(cmd *cobra.Command, db *sql.DB, dir string, store *contentstore.Store, queue *taskqueue.Queue) (*extraction.Engine, int, error) {
	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = viper.GetString("extraction.model")
	}
	if model == "" {
		model = defaultModel
	}
	tier, _ := cmd.Flags().GetString("service-tier")
	if tier == "" {
		tier = viper.GetString("extraction.service_tier")
	}
	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		workers = 1
	}
	fieldBatch, _ := cmd.Flags().GetInt("field-batch")
	modeStr, _ := cmd.Flags().GetString("mode")

	apiKey := secretDefault(secrets.OpenAIAPIKey, viper.GetString("extraction.api_key"))
	if apiKey == "" {
		return nil, 0, fmt.Errorf("no extraction API key: put it in .secrets/openai-api-key or set extraction.api_key")
	}

	cfg := types.ExtractionConfig{
		Concurrency:    workers,
		FieldBatchSize: fieldBatch,
		Mode:           types.ExtractionMode(modeStr),
	}
	cfg.Model = model
	cfg.APIKey = apiKey
	cfg.ServiceTier = tier
	cfg.Timeout = defaultAITimeout

	backend := &extraction.OpenAIBackend{
		APIKey:      apiKey,
		Model:       model,
		ServiceTier: tier,
	}
	engine := extraction.NewEngine(queue, store, review.New(db), backend, pdftext.Extractor{}, cfg, dir, os.Stdout)
	return engine, workers, nil
}

func allFileHashes(ctx context.Context, store *contentstore.Store) ([]string, error) {
	var hashes []string
	for page := 1; ; page++ {
		assets, total, err := store.List(ctx, page, 100)
		if err != nil {
			return nil, err
		}
		for _, a := range assets {
			hashes = append(hashes, a.FileHash)
		}
		if len(hashes) >= total || len(assets) == 0 {
			break
		}
	}
	return hashes, nil
}

func waitForExtractions(ctx context.Context, queue *taskqueue.Queue) {
	for {
		pending := 0
		for _, status := range []types.ExtractionStatus{
			types.ExtractionQueued, types.ExtractionSubmitted, types.ExtractionRunning,
		} {
			tasks, err := queue.ListExtractions(ctx, status, "", 1)
			if err != nil {
				return
			}
			pending += len(tasks)
		}
		if pending == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(150 * time.Millisecond):
		}
	}
}
