// Package daemon provides long-running watch-and-sync functionality.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vaultlm/vaultlm/internal/engine"
	"github.com/vaultlm/vaultlm/internal/logger"
	"github.com/vaultlm/vaultlm/internal/queue"
	"github.com/vaultlm/vaultlm/internal/state"
	"github.com/vaultlm/vaultlm/internal/vault"
	"github.com/vaultlm/vaultlm/internal/watcher"
)

// Daemon watches the vault and keeps the notebook in step with it.
type Daemon struct {
	engine        *engine.Engine
	queue         *queue.Queue
	watcher       *watcher.Watcher
	logger        *logger.Logger
	interval      time.Duration
	verifyOnStart bool
	healthAddr    string
	pidFile       string
	httpServer    *http.Server
}

// Config holds configuration for the daemon.
type Config struct {
	Engine *engine.Engine
	Queue  *queue.Queue
	Vault  *vault.Vault
	State  *state.Manager

	// Debounce is the watcher's quiet period after a file event.
	Debounce time.Duration

	// SyncInterval triggers a periodic full vault sync (0 = event-driven only).
	SyncInterval time.Duration

	// VerifyOnStart runs the reconciliation pass before file events are served.
	VerifyOnStart bool

	// HealthCheckAddr is an optional health check address (e.g. ":8080").
	HealthCheckAddr string

	// PIDFile is an optional PID file path.
	PIDFile string

	// Logger is the logger instance to use.
	Logger *logger.Logger
}

// New creates a new daemon instance.
func New(cfg *Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault is required")
	}
	if cfg.State == nil {
		return nil, fmt.Errorf("state manager is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	handler := &eventHandler{
		engine: cfg.Engine,
		queue:  cfg.Queue,
		state:  cfg.State,
		logger: log,
	}
	w, err := watcher.New(&watcher.Config{
		Vault:    cfg.Vault,
		Handler:  handler,
		Debounce: cfg.Debounce,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	return &Daemon{
		engine:        cfg.Engine,
		queue:         cfg.Queue,
		watcher:       w,
		logger:        log,
		interval:      cfg.SyncInterval,
		verifyOnStart: cfg.VerifyOnStart,
		healthAddr:    cfg.HealthCheckAddr,
		pidFile:       cfg.PIDFile,
	}, nil
}

// Run starts the daemon and blocks until a shutdown signal is received.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.WithFields("interval", d.interval).Info("Starting daemon")

	if d.pidFile != "" {
		if err := d.writePIDFile(); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer d.removePIDFile()
	}

	if d.healthAddr != "" {
		d.startHealthCheck()
		defer d.stopHealthCheck()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	// Repair drift before serving file events; the engine suppresses
	// event-triggered syncs while this runs.
	if d.verifyOnStart {
		d.logger.Info("Running startup reconciliation")
		if report, err := d.engine.VerifySyncState(ctx); err != nil {
			d.logger.WithError(err).Error("Startup reconciliation failed")
		} else {
			d.logger.WithFields(
				"verified", report.Verified,
				"resynced", report.Resynced,
				"removed", report.Removed,
				"failed", report.Failed,
			).Info("Startup reconciliation finished")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.watcher.Run(gctx)
	})
	g.Go(func() error {
		d.queue.Start(gctx)
		return nil
	})
	if d.interval > 0 {
		g.Go(func() error {
			d.fullSyncLoop(gctx)
			return nil
		})
	}

	select {
	case sig := <-sigChan:
		d.logger.WithFields("signal", sig.String()).Info("Received shutdown signal")
		cancel()
	case <-gctx.Done():
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	d.logger.Info("Daemon stopped")
	return nil
}

// fullSyncLoop runs a periodic full vault sync as a safety net for events
// the watcher missed (e.g. edits made while the daemon was down mid-run).
func (d *Daemon) fullSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runFullSync(ctx)
		}
	}
}

func (d *Daemon) runFullSync(ctx context.Context) {
	d.logger.Info("Sync interval elapsed, running full vault sync")

	syncCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	result, err := d.engine.SyncAll(syncCtx)
	if err != nil {
		d.logger.WithError(err).Error("Full vault sync failed")
		return
	}
	if result.HasFailures() {
		d.logger.WithFields("count", result.FailureCount).Warn("Full vault sync completed with failures")
		for _, failure := range result.Failures {
			d.logger.WithNote(failure.Path).WithError(failure.Error).Warn("Note sync failed")
		}
	}
}

// writePIDFile writes the current process ID to the configured PID file.
func (d *Daemon) writePIDFile() error {
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return err
	}
	d.logger.WithFields("pid", pid, "file", d.pidFile).Info("Wrote PID file")
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() {
	if err := os.Remove(d.pidFile); err != nil {
		d.logger.WithFields("file", d.pidFile, "error", err).Warn("Failed to remove PID file")
	}
}

// startHealthCheck starts the health check HTTP server. /ready reports 503
// while the startup reconciliation is still running.
func (d *Daemon) startHealthCheck() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if d.engine.Initializing() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("initializing\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	})

	d.httpServer = &http.Server{
		Addr:    d.healthAddr,
		Handler: mux,
	}
	go func() {
		d.logger.WithFields("addr", d.healthAddr).Info("Starting health check server")
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.WithError(err).Error("Health check server failed")
		}
	}()
}

// stopHealthCheck stops the health check HTTP server.
func (d *Daemon) stopHealthCheck() {
	if d.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.httpServer.Shutdown(ctx); err != nil {
		d.logger.WithError(err).Warn("Failed to shutdown health check server gracefully")
	}
}
