// Package engine implements the per-note sync state machine: deciding
// whether a note needs nothing, a first create, or a delete-and-recreate,
// and keeping the frontmatter record and the mapping index in step with
// what actually happened on the remote.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vaultlm/vaultlm/internal/cache"
	"github.com/vaultlm/vaultlm/internal/fingerprint"
	"github.com/vaultlm/vaultlm/internal/gateway"
	"github.com/vaultlm/vaultlm/internal/logger"
	"github.com/vaultlm/vaultlm/internal/metadata"
	"github.com/vaultlm/vaultlm/internal/state"
	"github.com/vaultlm/vaultlm/internal/vault"
)

// Remote is the slice of the gateway the engine needs.
type Remote interface {
	CreateSource(ctx context.Context, notebookID, title, content string) (*gateway.Source, error)
	DeleteSource(ctx context.Context, id string) error
	FetchSource(ctx context.Context, id string) (*gateway.Source, error)
	ListSources(ctx context.Context, notebookID string) ([]gateway.Source, error)
}

// Action describes what a sync decided to do for a note.
type Action string

const (
	ActionCreated   Action = "created"
	ActionRecreated Action = "recreated"
	ActionUnchanged Action = "unchanged"
	ActionDisabled  Action = "disabled"
	ActionSkipped   Action = "skipped" // empty note, remote rejects empty content
)

// Engine drives synchronization of vault notes into a remote notebook.
type Engine struct {
	vault      *vault.Vault
	metadata   *metadata.Store
	state      *state.Manager
	remote     Remote
	notebookID string
	logger     *logger.Logger

	sources     *cache.TTL[[]gateway.Source]
	concurrency int

	mu      sync.Mutex
	flights map[string]*flight

	initializing atomic.Bool
}

// flight tracks one in-flight sync for a note path. Later requests arriving
// while it runs mark rerun and wait; the owning goroutine runs the follow-up
// pass itself and hands every waiter the final result.
type flight struct {
	rerun   bool
	force   bool
	waiters []chan flightResult
}

type flightResult struct {
	remoteID string
	action   Action
	err      error
}

// Config holds configuration for the engine.
type Config struct {
	Vault      *vault.Vault
	Metadata   *metadata.Store
	State      *state.Manager
	Remote     Remote
	NotebookID string

	// Concurrency bounds SyncAll's parallel workers (default 4).
	Concurrency int

	// ListCacheTTL bounds how long notebook listings are reused during
	// reconciliation (default 30s).
	ListCacheTTL time.Duration

	// Logger is the logger instance to use.
	Logger *logger.Logger
}

// New creates a sync engine.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault is required")
	}
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if cfg.State == nil {
		return nil, fmt.Errorf("state manager is required")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote gateway is required")
	}
	if cfg.NotebookID == "" {
		return nil, fmt.Errorf("notebook id is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	ttl := cfg.ListCacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}

	return &Engine{
		vault:       cfg.Vault,
		metadata:    cfg.Metadata,
		state:       cfg.State,
		remote:      cfg.Remote,
		notebookID:  cfg.NotebookID,
		logger:      log,
		sources:     cache.New[[]gateway.Source](ttl),
		concurrency: concurrency,
		flights:     make(map[string]*flight),
	}, nil
}

// SyncDocument brings the remote copy of the note at path up to date and
// returns its remote id ("" when nothing is synced, e.g. sync disabled or
// an empty note that was never pushed).
func (e *Engine) SyncDocument(ctx context.Context, path string) (string, error) {
	res := e.sync(ctx, path, false)
	return res.remoteID, res.err
}

// ResyncDocument pushes the note's current content unconditionally, even
// when its fingerprint matches the last synced one. Conflict resolution
// uses this to make the local version win.
func (e *Engine) ResyncDocument(ctx context.Context, path string) error {
	return e.sync(ctx, path, true).err
}

// sync serializes work per note path. At most one sync runs for a given
// path; requests arriving meanwhile coalesce into a single follow-up pass
// that reads the content current at that time. Since the follow-up sees the
// fingerprint the first pass just recorded, back-to-back requests for
// unchanged content cost one remote round trip, not two.
func (e *Engine) sync(ctx context.Context, path string, force bool) flightResult {
	e.mu.Lock()
	if f, ok := e.flights[path]; ok {
		f.rerun = true
		f.force = f.force || force
		ch := make(chan flightResult, 1)
		f.waiters = append(f.waiters, ch)
		e.mu.Unlock()

		select {
		case res := <-ch:
			return res
		case <-ctx.Done():
			return flightResult{err: ctx.Err()}
		}
	}
	f := &flight{}
	e.flights[path] = f
	e.mu.Unlock()

	res := e.runSync(ctx, path, force)
	for {
		e.mu.Lock()
		if !f.rerun {
			delete(e.flights, path)
			waiters := f.waiters
			e.mu.Unlock()
			for _, ch := range waiters {
				ch <- res
			}
			return res
		}
		f.rerun = false
		again := f.force
		f.force = false
		e.mu.Unlock()

		res = e.runSync(ctx, path, again)
	}
}

// runSync is one pass of the state machine for a single note.
func (e *Engine) runSync(ctx context.Context, path string, force bool) flightResult {
	log := e.logger.WithNote(path)

	content, err := e.vault.Read(path)
	if err != nil {
		return flightResult{err: fmt.Errorf("reading %s: %w", path, err)}
	}

	meta := e.metadata.Read(path)

	if fingerprint.Empty(content) {
		log.Debug("Note body is empty, skipping")
		return flightResult{remoteID: meta.RemoteID, action: ActionSkipped}
	}
	if !meta.SyncEnabled {
		log.Debug("Sync disabled for note, skipping")
		return flightResult{remoteID: meta.RemoteID, action: ActionDisabled}
	}

	hash := fingerprint.Sum(content)

	if meta.RemoteID == "" {
		id, err := e.create(ctx, path, content, hash)
		if err != nil {
			return flightResult{err: err}
		}
		return flightResult{remoteID: id, action: ActionCreated}
	}

	if hash == meta.LastSyncedHash && !force {
		return flightResult{remoteID: meta.RemoteID, action: ActionUnchanged}
	}

	// No update primitive on the remote: replace means delete then create.
	// A delete refusal aborts before the create so we never leave two
	// remote copies behind.
	if err := e.remote.DeleteSource(ctx, meta.RemoteID); err != nil {
		return flightResult{err: fmt.Errorf("deleting stale remote copy %s: %w", meta.RemoteID, err)}
	}
	log.WithRemoteID(meta.RemoteID).Debug("Deleted stale remote copy")

	id, err := e.create(ctx, path, content, hash)
	if err != nil {
		return flightResult{err: err}
	}
	return flightResult{remoteID: id, action: ActionRecreated}
}

// create pushes the note and records the new mapping in both the
// frontmatter and the mapping index.
func (e *Engine) create(ctx context.Context, path, content, hash string) (string, error) {
	title := vault.DisplayName(path)
	body := fingerprint.Body(content)

	src, err := e.remote.CreateSource(ctx, e.notebookID, title, body)
	if err != nil {
		return "", fmt.Errorf("creating remote copy of %s: %w", path, err)
	}

	now := time.Now()
	if err := e.metadata.Write(path, metadata.Patch{
		RemoteID:       metadata.String(src.ID),
		LastSyncedHash: metadata.String(hash),
		LastSyncedAt:   metadata.Time(now),
	}); err != nil {
		return "", fmt.Errorf("recording sync of %s: %w", path, err)
	}

	e.state.Put(&state.Mapping{
		Path:         path,
		RemoteID:     src.ID,
		NotebookID:   e.notebookID,
		Title:        title,
		LastSyncedAt: now,
	})
	if err := e.state.Save(); err != nil {
		e.logger.WithError(err).Warn("Failed to persist mapping index")
	}
	e.sources.Invalidate(e.notebookID)

	e.logger.WithNote(path).WithRemoteID(src.ID).Info("Synced note to notebook")
	return src.ID, nil
}

// Unlink drops the local-to-remote association for a note. The remote copy
// is left in place; only the mapping and the note's sync keys are removed.
// Used when a local note is deleted or explicitly unlinked.
func (e *Engine) Unlink(path string) error {
	remoteID := ""
	if mapping := e.state.Get(path); mapping != nil {
		remoteID = mapping.RemoteID
	}

	e.state.Remove(path)
	if err := e.state.Save(); err != nil {
		e.logger.WithError(err).Warn("Failed to persist mapping index")
	}
	if err := e.metadata.Clear(path); err != nil {
		return err
	}

	e.logger.WithNote(path).WithRemoteID(remoteID).Info("Unlinked note from notebook")
	return nil
}

// Rename moves a mapping to a new path. The remote copy keeps the old
// title until the next content change recreates it.
func (e *Engine) Rename(oldPath, newPath string) {
	e.state.Rename(oldPath, newPath, vault.DisplayName(newPath))
	if err := e.state.Save(); err != nil {
		e.logger.WithError(err).Warn("Failed to persist mapping index")
	}
}

// Initializing reports whether the startup reconciliation pass is running.
// Event-driven syncing should hold off while it is.
func (e *Engine) Initializing() bool {
	return e.initializing.Load()
}

// listSources reads the notebook listing through a short-lived cache so a
// reconciliation pass over many broken mappings does one listing, not one
// per note.
func (e *Engine) listSources(ctx context.Context) ([]gateway.Source, error) {
	if cached, ok := e.sources.Get(e.notebookID); ok {
		return cached, nil
	}
	sources, err := e.remote.ListSources(ctx, e.notebookID)
	if err != nil {
		return nil, err
	}
	e.sources.Set(e.notebookID, sources)
	return sources, nil
}
