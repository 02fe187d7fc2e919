package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultlm/vaultlm/internal/daemon"
)

var (
	daemonHealthAddr string
	daemonPIDFile    string
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch the vault and sync continuously",
	Long: `Run vaultlm as a long-lived process: a startup reconciliation pass
repairs drift, then a filesystem watcher syncs notes as they change.
Failed operations land in the offline queue and are replayed
automatically once the remote is reachable again.

Examples:
  # Watch and sync, reconciling on startup
  vaultlm daemon

  # With a health endpoint and an hourly full sync
  VAULTLM_SYNC_INTERVAL=1h vaultlm daemon --health-addr :8080`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonHealthAddr, "health-addr", "", "health check listen address (e.g. :8080)")
	daemonCmd.Flags().StringVar(&daemonPIDFile, "pid-file", "", "write the process id to this file")
}

func runDaemon(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	d, err := daemon.New(&daemon.Config{
		Engine:          a.engine,
		Queue:           a.queue,
		Vault:           a.vault,
		State:           a.state,
		Debounce:        a.cfg.Debounce,
		SyncInterval:    a.cfg.SyncInterval,
		VerifyOnStart:   a.cfg.VerifyOnStart,
		HealthCheckAddr: daemonHealthAddr,
		PIDFile:         daemonPIDFile,
		Logger:          a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return d.Run(context.Background())
}
