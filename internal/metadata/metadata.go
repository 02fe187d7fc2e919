// Package metadata reads and writes the per-note sync record. The record is
// physically co-located with the note as reserved frontmatter keys but is
// logically separate from the note's content: the fingerprint engine excludes
// the frontmatter block, so metadata writes never count as content edits.
package metadata

import (
	"fmt"
	"time"

	"github.com/vaultlm/vaultlm/internal/frontmatter"
	"github.com/vaultlm/vaultlm/internal/logger"
	"github.com/vaultlm/vaultlm/internal/vault"
)

// Reserved frontmatter keys. Everything else in the block belongs to the user.
const (
	KeyRemoteID = "nlm-id"     // remote source identifier
	KeyHash     = "nlm-hash"   // fingerprint at last confirmed sync
	KeySyncedAt = "nlm-synced" // RFC3339 timestamp of last confirmed sync
	KeyEnabled  = "nlm-sync"   // sync-enabled flag; absent means enabled
)

// Metadata is the sync record attached to a note.
type Metadata struct {
	RemoteID       string
	LastSyncedHash string
	LastSyncedAt   time.Time
	SyncEnabled    bool
}

// Patch is a partial metadata update. Nil fields are left untouched. A field
// set to its zero value is the unset sentinel and removes the key: empty
// string for RemoteID/LastSyncedHash, the zero time for LastSyncedAt, and
// true for SyncEnabled (enabled is the default, so the key is only stored
// when false).
type Patch struct {
	RemoteID       *string
	LastSyncedHash *string
	LastSyncedAt   *time.Time
	SyncEnabled    *bool
}

// Store provides metadata access over a vault.
type Store struct {
	vault  *vault.Vault
	logger *logger.Logger
}

// NewStore creates a metadata store over the given vault.
func NewStore(v *vault.Vault, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Get()
	}
	return &Store{vault: v, logger: log}
}

// Read returns the sync record for a note. It never fails: a missing note,
// missing keys, or a malformed frontmatter block all yield defaults
// (SyncEnabled true, everything else unset).
func (s *Store) Read(path string) Metadata {
	meta := Metadata{SyncEnabled: true}

	content, err := s.vault.Read(path)
	if err != nil {
		return meta
	}

	block, _, err := frontmatter.Parse(content)
	if err != nil {
		s.logger.WithNote(path).WithError(err).Debug("Ignoring malformed frontmatter")
		return meta
	}

	if id, ok := block.Get(KeyRemoteID); ok {
		meta.RemoteID = id
	}
	if hash, ok := block.Get(KeyHash); ok {
		meta.LastSyncedHash = hash
	}
	if raw, ok := block.Get(KeySyncedAt); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			meta.LastSyncedAt = ts
		}
	}
	if enabled, ok := block.GetBool(KeyEnabled); ok {
		meta.SyncEnabled = enabled
	}
	return meta
}

// Write merges a patch into the note's metadata. The whole note is read,
// transformed, and rewritten in one pass, so a crash leaves either the old
// or the new record on disk, never a mix.
func (s *Store) Write(path string, patch Patch) error {
	content, err := s.vault.Read(path)
	if err != nil {
		return fmt.Errorf("metadata: read note: %w", err)
	}

	block, body, err := frontmatter.Parse(content)
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}

	if patch.RemoteID != nil {
		setOrRemove(block, KeyRemoteID, *patch.RemoteID)
	}
	if patch.LastSyncedHash != nil {
		setOrRemove(block, KeyHash, *patch.LastSyncedHash)
	}
	if patch.LastSyncedAt != nil {
		if patch.LastSyncedAt.IsZero() {
			block.Remove(KeySyncedAt)
		} else {
			block.Set(KeySyncedAt, patch.LastSyncedAt.UTC().Format(time.RFC3339))
		}
	}
	if patch.SyncEnabled != nil {
		if *patch.SyncEnabled {
			block.Remove(KeyEnabled)
		} else {
			block.SetBool(KeyEnabled, false)
		}
	}

	return s.render(path, block, body)
}

// Clear removes every reserved key from the note. A note that is already
// gone is a no-op, not an error.
func (s *Store) Clear(path string) error {
	content, err := s.vault.Read(path)
	if err != nil {
		if !s.vault.Exists(path) {
			return nil
		}
		return fmt.Errorf("metadata: read note: %w", err)
	}

	block, body, err := frontmatter.Parse(content)
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}

	removed := false
	for _, key := range []string{KeyRemoteID, KeyHash, KeySyncedAt, KeyEnabled} {
		if block.Remove(key) {
			removed = true
		}
	}
	if !removed {
		return nil
	}
	return s.render(path, block, body)
}

func (s *Store) render(path string, block *frontmatter.Block, body string) error {
	out, err := block.Render(body)
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	if err := s.vault.Write(path, out); err != nil {
		return fmt.Errorf("metadata: write note: %w", err)
	}
	return nil
}

func setOrRemove(block *frontmatter.Block, key, value string) {
	if value == "" {
		block.Remove(key)
		return
	}
	block.Set(key, value)
}

// String pins a string literal for use in a Patch.
func String(s string) *string { return &s }

// Bool pins a bool literal for use in a Patch.
func Bool(b bool) *bool { return &b }

// Time pins a time literal for use in a Patch.
func Time(t time.Time) *time.Time { return &t }
