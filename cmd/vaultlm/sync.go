package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync [note...]",
	Short: "Perform a one-time synchronization",
	Long: `Synchronize the vault (or specific notes) into the notebook.

Without arguments every Markdown note in the vault is synced; unchanged
notes are skipped via their content fingerprint. With note paths given,
only those notes are synced.

Examples:
  # Sync the whole vault
  vaultlm sync

  # Sync two specific notes
  vaultlm sync projects/plan.md ideas.md`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(_ *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if len(args) > 0 {
		for _, path := range args {
			id, syncErr := a.engine.SyncDocument(ctx, path)
			if syncErr != nil {
				return fmt.Errorf("syncing %s: %w", path, syncErr)
			}
			if id == "" {
				fmt.Printf("%s: skipped\n", path)
			} else {
				fmt.Printf("%s -> %s\n", path, id)
			}
		}
		return nil
	}

	result, err := a.engine.SyncAll(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Println()
	fmt.Print(result.Summary())
	if result.HasFailures() {
		return fmt.Errorf("%d note(s) failed to sync", result.FailureCount)
	}
	return nil
}
