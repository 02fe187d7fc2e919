package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SyncAll syncs every note in the vault, a bounded number at a time. Notes
// that fail are reported in the result rather than aborting the rest.
func (e *Engine) SyncAll(ctx context.Context) (*SyncResult, error) {
	start := time.Now()

	notes, err := e.vault.List()
	if err != nil {
		return nil, err
	}

	result := NewSyncResult()
	result.TotalNotes = len(notes)
	e.logger.WithFields("notes", len(notes)).Info("Starting full vault sync")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, note := range notes {
		path := note.Path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := e.sync(gctx, path, false)

			mu.Lock()
			defer mu.Unlock()
			result.ProcessedNotes++
			if res.err != nil {
				e.logger.WithNote(path).WithError(res.err).Error("Note sync failed")
				result.AddError(path, res.err)
				return nil
			}
			result.AddSuccess(NoteResult{Path: path, RemoteID: res.remoteID, Action: res.action})
			return nil
		})
	}

	// Worker errors are folded into the result; only context cancellation
	// surfaces here.
	if err := g.Wait(); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	e.logger.WithFields(
		"succeeded", result.SuccessCount,
		"failed", result.FailureCount,
		"duration", result.Duration.Round(time.Millisecond),
	).Info("Full vault sync finished")
	return result, nil
}
