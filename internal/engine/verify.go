package engine

import (
	"context"
	"time"

	"github.com/vaultlm/vaultlm/internal/gateway"
	"github.com/vaultlm/vaultlm/internal/metadata"
	"github.com/vaultlm/vaultlm/internal/vault"
)

// VerifySyncState walks every known mapping and repairs drift between the
// vault and the notebook. For each mapping: a missing local note drops the
// mapping, a reachable remote copy verifies it, a vanished remote copy is
// repaired by title match against the notebook listing or, failing that,
// pushed again as a fresh create. Transient failures leave the mapping
// alone for a future pass.
//
// While the pass runs, Initializing() reports true so event-driven syncing
// holds off; never-synced notes would otherwise race it into duplicate
// creations.
func (e *Engine) VerifySyncState(ctx context.Context) (*VerifyReport, error) {
	e.initializing.Store(true)
	defer e.initializing.Store(false)

	start := time.Now()
	mappings := e.state.All()
	e.logger.WithFields("mappings", len(mappings)).Info("Verifying sync state")

	report := &VerifyReport{}
	for _, mapping := range mappings {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		e.verifyMapping(ctx, mapping.Path, mapping.RemoteID, report)
	}

	if err := e.state.Save(); err != nil {
		e.logger.WithError(err).Warn("Failed to persist mapping index")
	}

	report.Duration = time.Since(start)
	e.logger.WithFields(
		"verified", report.Verified,
		"resynced", report.Resynced,
		"removed", report.Removed,
		"failed", report.Failed,
	).Info("Sync state verification finished")
	return report, nil
}

func (e *Engine) verifyMapping(ctx context.Context, path, remoteID string, report *VerifyReport) {
	log := e.logger.WithNote(path).WithRemoteID(remoteID)

	if !e.vault.Exists(path) {
		e.state.Remove(path)
		report.Removed++
		log.Info("Local note gone, dropping mapping")
		return
	}

	_, err := e.remote.FetchSource(ctx, remoteID)
	if err == nil {
		report.Verified++
		return
	}
	if !gateway.IsNotFound(err) {
		report.Failed++
		log.WithError(err).Warn("Could not verify mapping, leaving it untouched")
		return
	}

	// Remote copy is gone. Another client may have recreated it under the
	// same title; adopt that copy before resorting to a fresh push.
	if src := e.findByTitle(ctx, path); src != nil {
		if err := e.adopt(path, src.ID); err != nil {
			report.Failed++
			log.WithError(err).Warn("Failed to repair mapping")
			return
		}
		report.Verified++
		log.WithFields("adopted", src.ID).Info("Repaired mapping by title match")
		return
	}

	if err := e.recreateMapping(ctx, path); err != nil {
		report.Failed++
		log.WithError(err).Warn("Failed to resync note")
		return
	}
	report.Resynced++
	log.Info("Remote copy gone, resynced note")
}

// findByTitle returns the notebook source whose title matches the note's
// display name, or nil.
func (e *Engine) findByTitle(ctx context.Context, path string) *gateway.Source {
	sources, err := e.listSources(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to list notebook sources")
		return nil
	}

	title := vault.DisplayName(path)
	for i := range sources {
		if sources[i].Title == title {
			return &sources[i]
		}
	}
	return nil
}

// adopt points an existing mapping at a different remote id without
// touching the synced-hash record, so the next local edit still triggers a
// recreate as usual.
func (e *Engine) adopt(path, remoteID string) error {
	if err := e.metadata.Write(path, metadata.Patch{
		RemoteID: metadata.String(remoteID),
	}); err != nil {
		return err
	}

	mapping := e.state.Get(path)
	if mapping == nil {
		return nil
	}
	updated := *mapping
	updated.RemoteID = remoteID
	e.state.Put(&updated)
	return nil
}

// recreateMapping clears the stale remote id and runs an ordinary sync,
// which then takes the create path.
func (e *Engine) recreateMapping(ctx context.Context, path string) error {
	if err := e.metadata.Write(path, metadata.Patch{
		RemoteID: metadata.String(""),
	}); err != nil {
		return err
	}
	res := e.sync(ctx, path, false)
	return res.err
}
