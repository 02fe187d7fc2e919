package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultlm/vaultlm/internal/conflict"
)

var (
	resolveKeepLocal  bool
	resolveKeepRemote bool
)

// conflictsCmd represents the conflicts command
var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Detect notes where both sides changed since the last sync",
	RunE:  runConflicts,
}

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve <note>",
	Short: "Resolve a conflict by keeping one side",
	Long: `Resolve a detected conflict for a note by whole-version selection.

--keep-local pushes the local note content to the notebook, replacing the
remote copy. --keep-remote overwrites the local note body with the remote
content, preserving its frontmatter. Exactly one of the two must be given.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().BoolVar(&resolveKeepLocal, "keep-local", false, "keep the local version")
	resolveCmd.Flags().BoolVar(&resolveKeepRemote, "keep-remote", false, "keep the remote version")
}

func newDetector(a *app) (*conflict.Detector, error) {
	return conflict.New(&conflict.Config{
		Vault:    a.vault,
		Metadata: a.metadata,
		Remote:   a.gateway,
		Resyncer: a.engine,
		Logger:   a.logger,
	})
}

func runConflicts(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	detector, err := newDetector(a)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	found := 0
	for _, mapping := range a.state.All() {
		rec, detectErr := detector.Detect(ctx, mapping.Path)
		if detectErr != nil {
			fmt.Printf("  %s: check failed: %v\n", mapping.Path, detectErr)
			continue
		}
		if rec == nil {
			continue
		}
		found++
		fmt.Printf("  %s (remote %s, remote updated %s)\n",
			rec.Path, rec.RemoteID, rec.Remote.ModifiedAt.Format(time.RFC3339))
	}

	if found == 0 {
		fmt.Println("No conflicts detected")
		return nil
	}
	fmt.Printf("%d conflict(s); resolve with: vaultlm resolve <note> --keep-local|--keep-remote\n", found)
	return nil
}

func runResolve(_ *cobra.Command, args []string) error {
	if resolveKeepLocal == resolveKeepRemote {
		return fmt.Errorf("exactly one of --keep-local or --keep-remote is required")
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	detector, err := newDetector(a)
	if err != nil {
		return err
	}

	path := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	rec, err := detector.Detect(ctx, path)
	if err != nil {
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if rec == nil {
		fmt.Printf("%s: no conflict, nothing to resolve\n", path)
		return nil
	}

	if err := detector.Resolve(ctx, rec, resolveKeepLocal); err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	side := "remote"
	if resolveKeepLocal {
		side = "local"
	}
	fmt.Printf("%s: resolved, kept %s version\n", path, side)
	return nil
}
