// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/datasheet-review/internal/contentstore"
	"github.com/pdiddy/datasheet-review/internal/download"
	"github.com/pdiddy/datasheet-review/internal/taskqueue"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run download and extraction workers until interrupted",
	Long: `Run starts long-lived worker pools for both task queues and processes
tasks as they are enqueued (by this process or another one sharing the
workspace). On SIGINT or SIGTERM, queued extraction tasks are canceled,
in-flight work gets a grace period to finish, and whatever is still
submitted or running afterwards is marked canceled so the queue never
strands a task in an active state.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Int("download-workers", 3, "parallel download workers")
	runCmd.Flags().Int("workers", 2, "parallel extraction workers")
	runCmd.Flags().Duration("grace", 30*time.Second, "shutdown grace period for in-flight tasks")
	runCmd.Flags().String("mode", "sync", "extraction mode: sync, batch, or background")
	runCmd.Flags().String("model", "", "AI model identifier (default gpt-5)")
	runCmd.Flags().String("service-tier", "", "service tier: default, priority, scale or flex")
	runCmd.Flags().Int("field-batch", 0, "model numbers per field-stage call (default 10)")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	downloadWorkers, _ := cmd.Flags().GetInt("download-workers")
	grace, _ := cmd.Flags().GetDuration("grace")

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

	engine, extractionWorkers, err := buildEngine(cmd, db, dir, store, queue)
	if err != nil {
		return err
	}

	dlCfg := types.DownloadConfig{Concurrency: downloadWorkers}
	dlCfg.Timeout = defaultDownloadTimeout
	dlCfg.UserAgent = defaultUserAgent
	dlWorker := download.NewWorker(queue, store, nil, dlCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pools := []taskqueue.Pool{
		{
			Name:         "download",
			Workers:      downloadWorkers,
			PollInterval: time.Second,
			Handler:      dlWorker.HandleOne,
		},
		{
			Name:         "extraction",
			Workers:      extractionWorkers,
			PollInterval: time.Second,
			Handler:      engine.HandleOne,
		},
	}

	done := make(chan struct{}, len(pools))
	for i := range pools {
		pool := pools[i]
		go func() {
			pool.Run(ctx, os.Stdout)
			done <- struct{}{}
		}()
	}

	<-ctx.Done()
	stop()
	fmt.Println("shutting down")

	// Past this point the signal context is spent; shutdown bookkeeping
	// runs on its own deadline.
	sweepCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	n, err := queue.CancelQueuedExtractions(sweepCtx, "canceled at shutdown")
	if err != nil {
		fmt.Fprintf(os.Stderr, "canceling queued extractions: %v\n", err)
	} else if n > 0 {
		fmt.Printf("canceled %d queued extraction task(s)\n", n)
	}

	// Let in-flight workers drain within the grace period.
	for drained := 0; drained < len(pools); {
		select {
		case <-done:
			drained++
		case <-sweepCtx.Done():
			drained = len(pools)
		}
	}

	return sweepStranded(sweepCtx, queue)
}

// sweepStranded cancels extraction tasks still marked active after
// shutdown, so a later run never sees phantom in-flight work.
func sweepStranded(ctx context.Context, queue *taskqueue.Queue) error {
	swept := 0
	for _, status := range []types.ExtractionStatus{
		types.ExtractionSubmitted, types.ExtractionRunning,
	} {
		tasks, err := queue.ListExtractions(ctx, status, "", 0)
		if err != nil {
			return fmt.Errorf("listing %s extraction tasks: %w", status, err)
		}
		for _, t := range tasks {
			if err := queue.AbortExtraction(ctx, t.ID, "aborted at shutdown"); err != nil {
				return fmt.Errorf("aborting task %d: %w", t.ID, err)
			}
			swept++
		}
	}
	if swept > 0 {
		fmt.Printf("canceled %d in-flight extraction task(s)\n", swept)
	}
	return nil
}
