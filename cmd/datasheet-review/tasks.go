// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/datasheet-review/internal/taskqueue"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect, retry and cancel pipeline tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List download or extraction tasks",
	RunE:  runTasksList,
}

var tasksShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one task with its full error and accounting",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksShow,
}

var tasksRetryCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Requeue a failed task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksRetry,
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a queued extraction task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksCancel,
}

func init() {
	tasksCmd.PersistentFlags().String("type", "extraction", "task type: download or extraction")
	tasksListCmd.Flags().String("status", "", "filter by status")
	tasksListCmd.Flags().Int("limit", 50, "maximum tasks to list")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	tasksCmd.AddCommand(tasksRetryCmd)
	tasksCmd.AddCommand(tasksCancelCmd)
	rootCmd.AddCommand(tasksCmd)
}

func taskType(cmd *cobra.Command) (string, error) {
	t, _ := cmd.Flags().GetString("type")
	if t != "download" && t != "extraction" {
		return "", fmt.Errorf("unknown task type %q: use download or extraction", t)
	}
	return t, nil
}

func parseTaskID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func runTasksList(cmd *cobra.Command, args []string) error {
	kind, err := taskType(cmd)
	if err != nil {
		return err
	}
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	db, _, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()
	queue := taskqueue.New(db)
	ctx := context.Background()

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	defer tw.Flush()

	if kind == "download" {
		tasks, err := queue.ListDownloads(ctx, types.DownloadStatus(status), limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ID\tSTATUS\tURL\tHASH\tERROR")
		for _, t := range tasks {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%.12s\t%s\n", t.ID, t.Status, t.SourceURL, t.FileHash, truncate(t.Error, 60))
		}
		return nil
	}

	tasks, err := queue.ListExtractions(ctx, types.ExtractionStatus(status), "", limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "ID\tSTATUS\tMODE\tFILE\tMODEL\tCOST\tERROR")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.12s\t%s\t$%.4f\t%s\n",
			t.ID, t.Status, t.Mode, t.FileHash, t.Model, t.CostUSD, truncate(t.Error, 60))
	}
	return nil
}

func runTasksShow(cmd *cobra.Command, args []string) error {
	kind, err := taskType(cmd)
	if err != nil {
		return err
	}
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}

	db, _, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()
	queue := taskqueue.New(db)
	ctx := context.Background()

	if kind == "download" {
		t, err := queue.GetDownload(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("id:         %d\n", t.ID)
		fmt.Printf("status:     %s\n", t.Status)
		fmt.Printf("url:        %s\n", t.SourceURL)
		if t.FileHash != "" {
			fmt.Printf("file:       %s\n", t.FileHash)
		}
		if t.Error != "" {
			fmt.Printf("error:      %s\n", t.Error)
		}
		printTimes(t.CreatedAt, t.StartedAt, t.CompletedAt)
		return nil
	}

	t, err := queue.GetExtraction(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("id:          %d\n", t.ID)
	fmt.Printf("status:      %s\n", t.Status)
	fmt.Printf("mode:        %s\n", t.Mode)
	fmt.Printf("file:        %s\n", t.FileHash)
	fmt.Printf("force_rerun: %t\n", t.ForceRerun)
	if t.Model != "" {
		fmt.Printf("model:       %s\n", t.Model)
		fmt.Printf("tokens:      %d prompt, %d completion\n", t.PromptTokens, t.CompletionTokens)
		fmt.Printf("cost:        $%.4f\n", t.CostUSD)
	}
	if t.OutputPath != "" {
		fmt.Printf("output:      %s\n", t.OutputPath)
	}
	if t.Error != "" {
		fmt.Printf("note:        %s\n", t.Error)
	}
	printTimes(t.CreatedAt, t.StartedAt, t.CompletedAt)
	return nil
}

func runTasksRetry(cmd *cobra.Command, args []string) error {
	kind, err := taskType(cmd)
	if err != nil {
		return err
	}
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}

	db, _, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()
	queue := taskqueue.New(db)

	if kind == "download" {
		err = queue.RetryDownload(context.Background(), id)
	} else {
		err = queue.RetryExtraction(context.Background(), id)
	}
	if err != nil {
		return err
	}
	fmt.Printf("task %d requeued\n", id)
	return nil
}

func runTasksCancel(cmd *cobra.Command, args []string) error {
	kind, err := taskType(cmd)
	if err != nil {
		return err
	}
	if kind != "extraction" {
		return fmt.Errorf("only extraction tasks can be canceled")
	}
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}

	db, _, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := taskqueue.New(db).CancelExtraction(context.Background(), id, "canceled by operator"); err != nil {
		return err
	}
	fmt.Printf("task %d canceled\n", id)
	return nil
}

func printTimes(created time.Time, started, completed *time.Time) {
	const layout = "2006-01-02 15:04:05"
	fmt.Printf("created:     %s\n", created.Format(layout))
	if started != nil {
		fmt.Printf("started:     %s\n", started.Format(layout))
	}
	if completed != nil {
		fmt.Printf("completed:   %s\n", completed.Format(layout))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
