// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/datasheet-review/internal/governance"
	"github.com/pdiddy/datasheet-review/internal/review"
	"github.com/pdiddy/datasheet-review/pkg/types"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Browse, edit and verify extracted model records",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List model records with optional filters",
	RunE:  runModelsList,
}

var modelsShowCmd = &cobra.Command{
	Use:   "show [model-number]",
	Short: "Show one model record with its files and evidence",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsShow,
}

var modelsCreateCmd = &cobra.Command{
	Use:   "create [model-number]",
	Short: "Create a model record by hand",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsCreate,
}

var modelsSetCmd = &cobra.Command{
	Use:   "set [model-number]",
	Short: "Edit fields, applications, or verification of a record",
	Long: `Set applies a partial edit to one model record. Changing any field or
the application set on a verified record clears its verification unless
--verify is given in the same edit. --verify certifies the record as the
named reviewer; --unverify explicitly revokes certification.`,
	Args: cobra.ExactArgs(1),
	RunE: runModelsSet,
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete [model-number]",
	Short: "Delete a model record and everything attached to it",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsDelete,
}

var modelsUnlinkCmd = &cobra.Command{
	Use:   "unlink [model-number] [file-hash]",
	Short: "Remove one file appearance from a record",
	Args:  cobra.ExactArgs(2),
	RunE:  runModelsUnlink,
}

func init() {
	modelsListCmd.Flags().String("status", "", "filter by verify status: unverified or verified")
	modelsListCmd.Flags().String("search", "", "substring match on model number")
	modelsListCmd.Flags().String("app", "", "filter by application tag")
	modelsListCmd.Flags().String("file", "", "filter by file hash")
	modelsListCmd.Flags().Bool("orphans", false, "only records not linked to any file")
	modelsListCmd.Flags().Int("limit", 50, "maximum records to list")
	modelsListCmd.Flags().Int("offset", 0, "records to skip")

	modelsShowCmd.Flags().Bool("evidence", false, "include extraction evidence snippets")

	for _, c := range []*cobra.Command{modelsCreateCmd, modelsSetCmd} {
		c.Flags().String("input-voltage", "", "input voltage range, e.g. \"9~36 VDC\"")
		c.Flags().String("output-voltage", "", "output voltage, e.g. \"±12 VDC\"")
		c.Flags().String("output-power", "", "output power, e.g. \"3 W\"")
		c.Flags().String("package", "", "package, e.g. \"DIP-24\"")
		c.Flags().String("isolation", "", "I/O isolation, e.g. \"1500 VDC\"")
		c.Flags().String("insulation", "", "insulation system")
		c.Flags().String("dimension", "", "dimensions, e.g. \"31.8 mm x 20.3 mm x 10.4 mm\"")
		c.Flags().StringSlice("app", nil, "application tags (replaces the whole collection)")
		c.Flags().String("notes", "", "reviewer notes")
	}
	modelsSetCmd.Flags().Bool("verify", false, "certify the record")
	modelsSetCmd.Flags().Bool("unverify", false, "revoke certification")
	modelsSetCmd.Flags().String("reviewer", "", "reviewer identity for --verify")

	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsShowCmd)
	modelsCmd.AddCommand(modelsCreateCmd)
	modelsCmd.AddCommand(modelsSetCmd)
	modelsCmd.AddCommand(modelsDeleteCmd)
	modelsCmd.AddCommand(modelsUnlinkCmd)
	rootCmd.AddCommand(modelsCmd)
}

func runModelsList(cmd *cobra.Command, args []string) error {
	db, _, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()

	filter := review.ListFilter{}
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		status := types.VerifyStatus(s)
		if status != types.Unverified && status != types.Verified {
			return fmt.Errorf("unknown status %q: use unverified or verified", s)
		}
		filter.Status = &status
	}
	filter.Search, _ = cmd.Flags().GetString("search")
	filter.AppTag, _ = cmd.Flags().GetString("app")
	filter.FileHash, _ = cmd.Flags().GetString("file")
	if orphans, _ := cmd.Flags().GetBool("orphans"); orphans {
		hasFiles := false
		filter.HasFiles = &hasFiles
	}
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	filter.Offset, _ = cmd.Flags().GetInt("offset")

	records, total, err := review.New(db).List(context.Background(), filter)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSTATUS\tPOWER\tPACKAGE\tAPPLICATIONS\tFILES")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			r.ModelNumber, r.VerifyStatus, r.Fields.OutputPower, r.Fields.Package,
			strings.Join(r.Applications, "; "), len(r.Files))
	}
	tw.Flush()
	fmt.Printf("\n%d record(s)\n", total)
	return nil
}

func runModelsShow(cmd *cobra.Command, args []string) error {
	withEvidence, _ := cmd.Flags().GetBool("evidence")

	db, _, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()

	store := review.New(db)
	ctx := context.Background()
	rec, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("model:          %s\n", rec.ModelNumber)
	fmt.Printf("status:         %s\n", rec.VerifyStatus)
	if rec.Reviewer != "" {
		fmt.Printf("reviewer:       %s\n", rec.Reviewer)
	}
	if rec.ReviewedAt != nil {
		fmt.Printf("reviewed at:    %s\n", rec.ReviewedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("input voltage:  %s\n", rec.Fields.InputVoltageRange)
	fmt.Printf("output voltage: %s\n", rec.Fields.OutputVoltage)
	fmt.Printf("output power:   %s\n", rec.Fields.OutputPower)
	fmt.Printf("package:        %s\n", rec.Fields.Package)
	fmt.Printf("isolation:      %s\n", rec.Fields.Isolation)
	fmt.Printf("insulation:     %s\n", rec.Fields.Insulation)
	fmt.Printf("dimension:      %s\n", rec.Fields.Dimension)
	fmt.Printf("applications:   %s\n", strings.Join(rec.Applications, "; "))
	if rec.Notes != "" {
		fmt.Printf("notes:          %s\n", rec.Notes)
	}
	for _, f := range rec.Files {
		fmt.Printf("file:           %.12s  %s\n", f.FileHash, f.Filename)
	}

	if withEvidence {
		evs, err := store.Evidence(ctx, rec.ModelNumber)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			fmt.Printf("evidence:       [%.12s] %s: %q\n", ev.FileHash, ev.FieldPath, ev.Snippet)
		}
	}
	return nil
}

func runModelsCreate(cmd *cobra.Command, args []string) error {
	db, _, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()

	apps, _ := cmd.Flags().GetStringSlice("app")
	notes, _ := cmd.Flags().GetString("notes")
	rec := &types.ModelRecord{
		ModelNumber:  args[0],
		Fields:       fieldsFromFlags(cmd),
		Applications: apps,
		Notes:        notes,
	}
	if err := review.New(db).Create(context.Background(), rec); err != nil {
		return err
	}
	fmt.Printf("created %s\n", rec.ModelNumber)
	return nil
}

func runModelsSet(cmd *cobra.Command, args []string) error {
	verify, _ := cmd.Flags().GetBool("verify")
	unverify, _ := cmd.Flags().GetBool("unverify")
	if verify && unverify {
		return fmt.Errorf("--verify and --unverify are mutually exclusive")
	}

	db, _, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()

	patch := review.Patch{}
	set := func(name string, dst **string) {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			*dst = &v
		}
	}
	set("input-voltage", &patch.InputVoltageRange)
	set("output-voltage", &patch.OutputVoltage)
	set("output-power", &patch.OutputPower)
	set("package", &patch.Package)
	set("isolation", &patch.Isolation)
	set("insulation", &patch.Insulation)
	set("dimension", &patch.Dimension)
	set("notes", &patch.Notes)
	if cmd.Flags().Changed("app") {
		apps, _ := cmd.Flags().GetStringSlice("app")
		patch.Applications = &apps
	}

	switch {
	case verify:
		reviewer, _ := cmd.Flags().GetString("reviewer")
		patch.Intent = governance.VerifyIntent(reviewer)
	case unverify:
		patch.Intent = governance.UnverifyIntent()
	}

	rec, err := review.New(db).ApplyPatch(context.Background(), args[0], patch, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %s\n", rec.ModelNumber, rec.VerifyStatus)
	return nil
}

func runModelsDelete(cmd *cobra.Command, args []string) error {
	db, _, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := review.New(db).Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func runModelsUnlink(cmd *cobra.Command, args []string) error {
	db, _, err := openWorkspace()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := review.New(db).UnlinkFile(context.Background(), args[1], args[0]); err != nil {
		return err
	}
	fmt.Printf("unlinked %s from %s\n", args[1], args[0])
	return nil
}

func fieldsFromFlags(cmd *cobra.Command) types.SpecFields {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return types.SpecFields{
		InputVoltageRange: get("input-voltage"),
		OutputVoltage:     get("output-voltage"),
		OutputPower:       get("output-power"),
		Package:           get("package"),
		Isolation:         get("isolation"),
		Insulation:        get("insulation"),
		Dimension:         get("dimension"),
	}
}
