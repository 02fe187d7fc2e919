package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Reconcile vault and notebook state",
	Long: `Walk every known note-to-source mapping and repair drift:

  - mappings whose local note is gone are dropped
  - mappings whose remote copy is reachable are verified
  - vanished remote copies are repaired by title match, or pushed again

Transient remote failures leave the affected mappings untouched for a
future pass.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	report, err := a.engine.VerifySyncState(ctx)
	if err != nil {
		return fmt.Errorf("verify failed: %w", err)
	}

	fmt.Print(report.Summary())
	if report.Failed > 0 {
		return fmt.Errorf("%d mapping(s) could not be verified", report.Failed)
	}
	return nil
}
