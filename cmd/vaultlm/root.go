package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultlm/vaultlm/internal/config"
	"github.com/vaultlm/vaultlm/internal/daemon"
	"github.com/vaultlm/vaultlm/internal/engine"
	"github.com/vaultlm/vaultlm/internal/gateway"
	"github.com/vaultlm/vaultlm/internal/logger"
	"github.com/vaultlm/vaultlm/internal/metadata"
	"github.com/vaultlm/vaultlm/internal/queue"
	"github.com/vaultlm/vaultlm/internal/state"
	"github.com/vaultlm/vaultlm/internal/vault"
)

var (
	cfgFile string
	version = "dev" // Set via build flags
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vaultlm",
	Short: "Sync a Markdown vault into a NotebookLM-style notebook",
	Long: `vaultlm keeps the notes of a local Markdown vault synchronized with a
remote notebook service, one source per note.

Features:
  - Content-based change detection (only real edits reach the remote)
  - Sync records stored in note frontmatter, portable with the vault
  - Durable offline queue that replays failed operations
  - Startup reconciliation that repairs drift between vault and notebook
  - Daemon mode that watches the vault and syncs as you write`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vaultlm.yaml)")
}

// app bundles the wired collaborators every command needs.
type app struct {
	cfg      *config.Config
	logger   *logger.Logger
	vault    *vault.Vault
	state    *state.Manager
	metadata *metadata.Store
	gateway  *gateway.Client
	engine   *engine.Engine
	queue    *queue.Queue
}

// buildApp loads configuration and wires the component graph.
func buildApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(&logger.Config{
		Level:      cfg.LogLevel,
		Format:     "console",
		OutputPath: cfg.LogFile,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.Get()

	v, err := vault.Open(cfg.VaultDir)
	if err != nil {
		return nil, err
	}

	stateMgr, err := state.LoadOrCreate(cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping index: %w", err)
	}

	gw, err := gateway.NewClient(&gateway.Config{
		BaseURL:   cfg.BaseURL,
		AuthToken: cfg.AuthToken,
		Timeout:   cfg.HTTPTimeout,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	store := metadata.NewStore(v, log)

	eng, err := engine.New(&engine.Config{
		Vault:       v,
		Metadata:    store,
		State:       stateMgr,
		Remote:      gw,
		NotebookID:  cfg.NotebookID,
		Concurrency: cfg.Concurrency,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	q, err := queue.New(&queue.Config{
		FilePath:  cfg.QueueFile,
		Executor:  daemon.NewExecutor(eng, gw, v, log),
		Logger:    log,
		OnAbandon: func(op queue.Operation, err error) {
			log.WithFields(
				"operation", op.Type,
				"path", op.Path,
				"attempts", op.Attempts,
				"error", err,
			).Error("Offline operation abandoned")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load offline queue: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   log,
		vault:    v,
		state:    stateMgr,
		metadata: store,
		gateway:  gw,
		engine:   eng,
		queue:    q,
	}, nil
}
