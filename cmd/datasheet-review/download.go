// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/datasheet-review/internal/contentstore"
	"github.com/pdiddy/datasheet-review/internal/download"
	"github.com/pdiddy/datasheet-review/internal/taskqueue"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

const (
	defaultDownloadTimeout = 2 * time.Minute
	defaultUserAgent       = "datasheet-review/0.1"
)

var downloadCmd = &cobra.Command{
	Use:   "download [urls...]",
	Short: "Enqueue datasheet URLs and download them into the store",
	Long: `Download creates one queued task per URL, then runs download workers
until the queue drains. Each fetched file lands in the content-addressed
store; identical content from different URLs collapses to one entry.
Failed tasks stay inspectable via 'tasks list' and retryable via
'tasks retry'.`,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 2m)")
	downloadCmd.Flags().Int("workers", 3, "parallel download workers")
	downloadCmd.Flags().Bool("enqueue-only", false, "queue the URLs without downloading")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("provide one or more datasheet URLs")
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = defaultDownloadTimeout
	}
	workers, _ := cmd.Flags().GetInt("workers")
	enqueueOnly, _ := cmd.Flags().GetBool("enqueue-only")

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
	ids, err := queue.EnqueueDownloads(ctx, args)
	if err != nil {
		return err
	}
	fmt.Printf("queued %d download task(s)\n", len(ids))
	if enqueueOnly {
		return nil
	}

	cfg := types.DownloadConfig{Concurrency: workers}
	cfg.Timeout = timeout
	cfg.UserAgent = defaultUserAgent

	worker := download.NewWorker(queue, store, nil, cfg)
	pool := taskqueue.Pool{
		Name:         "download",
		Workers:      workers,
		PollInterval: 200 * time.Millisecond,
		Handler:      worker.HandleOne,
	}

	// Drain: run until every task just queued reaches a terminal status.
	drainCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		waitForDownloads(ctx, queue, ids)
	}()
	if err := pool.Run(drainCtx, os.Stdout); err != nil && drainCtx.Err() == nil {
		return err
	}

	failed := 0
	for _, id := range ids {
		task, err := queue.GetDownload(ctx, id)
		if err != nil {
			return err
		}
		if task.Status == types.DownloadFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d download(s) failed", failed)
	}
	return nil
}

func waitForDownloads(ctx context.Context, queue *taskqueue.Queue, ids []int64) {
	for {
		done := true
		for _, id := range ids {
			task, err := queue.GetDownload(ctx, id)
			if err != nil {
				return
			}
			if task.Status == types.DownloadQueued || task.Status == types.DownloadRunning {
				done = false
				break
			}
		}
		if done {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}
