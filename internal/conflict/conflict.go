// Package conflict classifies divergence between a local note and its remote
// counterpart, and commits whole-version resolutions. There is no merging:
// a resolution keeps one side and discards the other.
package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultlm/vaultlm/internal/fingerprint"
	"github.com/vaultlm/vaultlm/internal/frontmatter"
	"github.com/vaultlm/vaultlm/internal/gateway"
	"github.com/vaultlm/vaultlm/internal/logger"
	"github.com/vaultlm/vaultlm/internal/metadata"
	"github.com/vaultlm/vaultlm/internal/vault"
)

// Version is one side of a detected conflict.
type Version struct {
	Content    string
	Checksum   string
	ModifiedAt time.Time
}

// Record describes a true conflict: both sides changed since the last sync
// and disagree with each other. Records are transient and never persisted.
type Record struct {
	Path     string
	RemoteID string
	Local    Version
	Remote   Version
}

// Fetcher reads the current remote version of a source.
type Fetcher interface {
	FetchSource(ctx context.Context, sourceID string) (*gateway.Source, error)
}

// Resyncer pushes local content to the remote regardless of fingerprint
// state. The sync engine provides this.
type Resyncer interface {
	ResyncDocument(ctx context.Context, path string) error
}

// Detector compares local, remote, and last-synced fingerprints.
type Detector struct {
	vault    *vault.Vault
	metadata *metadata.Store
	remote   Fetcher
	resyncer Resyncer
	logger   *logger.Logger
}

// Config holds configuration for the conflict detector.
type Config struct {
	Vault    *vault.Vault
	Metadata *metadata.Store
	Remote   Fetcher
	Resyncer Resyncer
	Logger   *logger.Logger
}

// New creates a conflict detector.
func New(cfg *Config) (*Detector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault is required")
	}
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote fetcher is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	return &Detector{
		vault:    cfg.Vault,
		metadata: cfg.Metadata,
		remote:   cfg.Remote,
		resyncer: cfg.Resyncer,
		logger:   log,
	}, nil
}

// Detect fetches the remote version of the note at path and classifies the
// three-way fingerprint state. It returns nil when there is no conflict:
// the note was never synced, only one side changed, or both sides converged
// to identical content independently. A non-nil Record means both sides
// diverged from the last synced version and from each other.
func (d *Detector) Detect(ctx context.Context, path string) (*Record, error) {
	meta := d.metadata.Read(path)
	if meta.RemoteID == "" || meta.LastSyncedHash == "" {
		return nil, nil
	}

	content, err := d.vault.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	localHash := fingerprint.Sum(content)

	src, err := d.remote.FetchSource(ctx, meta.RemoteID)
	if err != nil {
		if gateway.IsNotFound(err) {
			// Remote side is gone; that is drift, not a conflict.
			return nil, nil
		}
		return nil, fmt.Errorf("fetching remote %s: %w", meta.RemoteID, err)
	}
	remoteHash := fingerprint.Sum(src.Content)

	last := meta.LastSyncedHash
	if localHash == last || remoteHash == last || localHash == remoteHash {
		return nil, nil
	}

	d.logger.WithNote(path).WithRemoteID(meta.RemoteID).Warn("Conflict detected, both sides changed since last sync")
	return &Record{
		Path:     path,
		RemoteID: meta.RemoteID,
		Local: Version{
			Content:    content,
			Checksum:   localHash,
			ModifiedAt: meta.LastSyncedAt,
		},
		Remote: Version{
			Content:    src.Content,
			Checksum:   remoteHash,
			ModifiedAt: src.UpdatedAt,
		},
	}, nil
}

// Resolve commits one side of rec as the new synchronized truth. With
// keepLocal the local version is pushed through a full resync, replacing the
// remote document. Otherwise the remote body overwrites the local note,
// preserving its frontmatter, and only metadata is updated since the remote
// is already correct.
func (d *Detector) Resolve(ctx context.Context, rec *Record, keepLocal bool) error {
	if rec == nil {
		return fmt.Errorf("conflict record cannot be nil")
	}

	if keepLocal {
		if d.resyncer == nil {
			return fmt.Errorf("no resyncer configured")
		}
		d.logger.WithNote(rec.Path).Info("Resolving conflict, keeping local version")
		return d.resyncer.ResyncDocument(ctx, rec.Path)
	}

	d.logger.WithNote(rec.Path).Info("Resolving conflict, keeping remote version")

	current, err := d.vault.Read(rec.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", rec.Path, err)
	}
	block, _, err := frontmatter.Parse(current)
	if err != nil {
		return fmt.Errorf("parsing frontmatter of %s: %w", rec.Path, err)
	}

	body := fingerprint.Body(rec.Remote.Content)
	updated, err := block.Render(body)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", rec.Path, err)
	}
	if err := d.vault.Write(rec.Path, updated); err != nil {
		return fmt.Errorf("writing %s: %w", rec.Path, err)
	}

	return d.metadata.Write(rec.Path, metadata.Patch{
		LastSyncedHash: metadata.String(rec.Remote.Checksum),
		LastSyncedAt:   metadata.Time(time.Now()),
	})
}
