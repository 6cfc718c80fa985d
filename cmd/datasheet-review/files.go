// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pdiddy/datasheet-review/internal/contentstore"
	"github.com/pdiddy/datasheet-review/internal/pdftext"
	"github.com/pdiddy/datasheet-review/internal/review"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Inspect and manage stored datasheet files",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored files, newest first",
	RunE:  runFilesList,
}

var filesShowCmd = &cobra.Command{
	Use:   "show [hash]",
	Short: "Show one stored file and the models extracted from it",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesShow,
}

var filesDeleteCmd = &cobra.Command{
	Use:   "delete [hash]",
	Short: "Delete a stored file, its bytes, and its model links",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesDelete,
}

var filesSearchCmd = &cobra.Command{
	Use:   "search [hash] [query]",
	Short: "Search a stored file's text and print matching snippets",
	Args:  cobra.ExactArgs(2),
	RunE:  runFilesSearch,
}

func init() {
	filesListCmd.Flags().Int("page", 1, "page number")
	filesListCmd.Flags().Int("page-size", 20, "entries per page")

	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesShowCmd)
	filesCmd.AddCommand(filesDeleteCmd)
	filesCmd.AddCommand(filesSearchCmd)
	rootCmd.AddCommand(filesCmd)
}

func runFilesList(cmd *cobra.Command, args []string) error {
	page, _ := cmd.Flags().GetInt("page")
	pageSize, _ := cmd.Flags().GetInt("page-size")

	db, dir, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := contentstore.New(db, dir)
	if err != nil {
		return err
	}

	assets, total, err := store.List(context.Background(), page, pageSize)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HASH\tFILENAME\tSIZE\tINGESTED")
	for _, a := range assets {
		fmt.Fprintf(tw, "%.12s\t%s\t%d\t%s\n",
			a.FileHash, a.Filename, a.SizeBytes, a.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
	fmt.Printf("\n%d file(s), page %d\n", total, page)
	return nil
}

func runFilesShow(cmd *cobra.Command, args []string) error {
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
	asset, err := store.Stat(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("hash:      %s\n", asset.FileHash)
	fmt.Printf("filename:  %s\n", asset.Filename)
	if asset.SourceURL != "" {
		fmt.Printf("source:    %s\n", asset.SourceURL)
	}
	fmt.Printf("size:      %d bytes\n", asset.SizeBytes)
	fmt.Printf("path:      %s\n", asset.LocalPath)
	fmt.Printf("ingested:  %s\n", asset.CreatedAt.Format("2006-01-02 15:04:05"))

	models, err := review.New(db).ModelsInFile(ctx, asset.FileHash)
	if err != nil {
		return err
	}
	if len(models) > 0 {
		fmt.Printf("models:    %s\n", strings.Join(models, ", "))
	}
	return nil
}

func runFilesDelete(cmd *cobra.Command, args []string) error {
	db, dir, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := contentstore.New(db, dir)
	if err != nil {
		return err
	}
	if err := store.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func runFilesSearch(cmd *cobra.Command, args []string) error {
	db, dir, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := contentstore.New(db, dir)
	if err != nil {
		return err
	}
	asset, err := store.Stat(context.Background(), args[0])
	if err != nil {
		return err
	}

	matches, err := pdftext.Search(asset.LocalPath, args[1])
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("p%d: %s\n", m.Page, m.Snippet)
	}
	return nil
}
