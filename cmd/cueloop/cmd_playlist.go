/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/playlist"
	"github.com/friendsincode/cueloop/internal/segment"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the stored playlist with a JSON or YAML document",
	Long:  "Validate every entry of a playlist document and store the valid ones, reporting each rejected entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export <out.json|out.yaml>",
	Short: "Write the stored playlist to a document",
	Long:  "Write the stored playlist as JSON or YAML, chosen by file extension. Use - for JSON on stdout.",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var validateCmd = &cobra.Command{
	Use:   "validate <locator>",
	Short: "Check a video locator and print its id",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var (
	validateStart float64
	validateEnd   float64
)

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().Float64Var(&validateStart, "start", 0, "Start offset in seconds")
	validateCmd.Flags().Float64Var(&validateEnd, "end", 0, "End offset in seconds")
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	doc, err := playlist.DecodeDocumentFile(args[0], data)
	if err != nil {
		return err
	}

	persister, release, err := openPersister()
	if err != nil {
		return err
	}
	defer release()

	store := playlist.NewStore(persister, events.NewBus(), logger)
	report, err := store.Import(*doc)
	out := cmd.OutOrStdout()
	for _, problem := range report.Problems {
		fmt.Fprintf(out, "skipped %s\n", problem)
	}
	if err != nil {
		return err
	}
	if err := store.Save(context.Background()); err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d segments (%d skipped)\n", report.Imported, len(report.Problems))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	persister, release, err := openPersister()
	if err != nil {
		return err
	}
	defer release()

	store := playlist.NewStore(persister, events.NewBus(), logger)
	_, found, err := store.LoadSaved(context.Background())
	if err != nil {
		return err
	}
	if !found {
		return errors.New("no stored playlist")
	}

	target := args[0]
	name := target
	if target == "-" {
		name = "playlist.json"
	}
	data, err := playlist.EncodeDocumentFile(name, store.Export())
	if err != nil {
		return fmt.Errorf("encode playlist: %w", err)
	}
	if target == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d segments to %s\n", store.Len(), target)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	c := segment.Candidate{Locator: args[0]}
	if cmd.Flags().Changed("start") {
		c.StartOffset = &validateStart
	}
	if cmd.Flags().Changed("end") {
		c.EndOffset = &validateEnd
	}

	res := segment.Validate(c)
	if !res.OK {
		for _, problem := range res.Problems {
			fmt.Fprintln(cmd.ErrOrStderr(), problem)
		}
		return res.Err()
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.ResolvedID)
	return nil
}
