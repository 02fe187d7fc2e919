package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// queueCmd represents the queue command group
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drain the offline queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued offline operations",
	RunE:  runQueueList,
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay queued offline operations now",
	RunE:  runQueueDrain,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueDrainCmd)
}

func runQueueList(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	ops := a.queue.Pending()
	if len(ops) == 0 {
		fmt.Println("Offline queue is empty")
		return nil
	}

	fmt.Printf("%d queued operation(s):\n", len(ops))
	for _, op := range ops {
		target := op.Path
		if target == "" {
			target = op.ResourceID
		}
		fmt.Printf("  %-8s %-10s %s (attempts: %d", op.Type, op.Resource, target, op.Attempts)
		if op.Error != "" {
			fmt.Printf(", last error: %s", op.Error)
		}
		fmt.Println(")")
	}
	return nil
}

func runQueueDrain(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	before := a.queue.Len()
	if before == 0 {
		fmt.Println("Offline queue is empty")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a.queue.Process(ctx)

	after := a.queue.Len()
	fmt.Printf("Replayed %d operation(s), %d remaining\n", before-after, after)
	return nil
}
