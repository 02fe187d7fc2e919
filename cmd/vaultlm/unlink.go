package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// unlinkCmd represents the unlink command
var unlinkCmd = &cobra.Command{
	Use:   "unlink <note>...",
	Short: "Stop syncing a note without touching its notebook copy",
	Long: `Drop the link between a note and its notebook source.

The source stays in the notebook; only the local mapping and the note's
sync frontmatter keys are removed. A later sync of the same note creates
a fresh source.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUnlink,
}

func init() {
	rootCmd.AddCommand(unlinkCmd)
}

func runUnlink(_ *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	for _, path := range args {
		if err := a.engine.Unlink(path); err != nil {
			return fmt.Errorf("unlinking %s: %w", path, err)
		}
		fmt.Printf("%s: unlinked\n", path)
	}
	return nil
}
