package daemon

import (
	"context"

	"github.com/vaultlm/vaultlm/internal/engine"
	"github.com/vaultlm/vaultlm/internal/gateway"
	"github.com/vaultlm/vaultlm/internal/logger"
	"github.com/vaultlm/vaultlm/internal/queue"
	"github.com/vaultlm/vaultlm/internal/state"
	"github.com/vaultlm/vaultlm/internal/vault"
)

// eventHandler reacts to debounced file events. The engine never queues on
// its own; this handler is the layer that decides when a failed sync
// becomes an offline queue entry.
type eventHandler struct {
	engine *engine.Engine
	queue  *queue.Queue
	state  *state.Manager
	logger *logger.Logger
}

func (h *eventHandler) NoteChanged(ctx context.Context, path string) {
	if h.engine.Initializing() {
		h.logger.WithNote(path).Debug("Reconciliation in progress, skipping event")
		return
	}

	_, err := h.engine.SyncDocument(ctx, path)
	if err == nil {
		h.queue.SetOnline(ctx, true)
		return
	}
	if gateway.IsClientError(err) {
		// Retrying or queueing cannot fix a rejected request.
		h.logger.WithNote(path).WithError(err).Error("Note sync rejected by remote")
		return
	}

	h.logger.WithNote(path).WithError(err).Warn("Note sync failed, queueing for replay")
	h.queue.SetOnline(ctx, false)

	op := queue.Operation{
		Type:     queue.OpCreate,
		Resource: queue.ResourceSource,
		Path:     path,
		Title:    vault.DisplayName(path),
	}
	if mapping := h.state.Get(path); mapping != nil && mapping.RemoteID != "" {
		op.Type = queue.OpUpdate
		op.ResourceID = mapping.RemoteID
	}
	if qErr := h.queue.Enqueue(ctx, op); qErr != nil {
		h.logger.WithNote(path).WithError(qErr).Error("Failed to queue note for replay")
	}
}

// NoteRemoved drops the note's mapping. The remote copy is deliberately
// left alone: a local delete severs the link, it does not propagate.
func (h *eventHandler) NoteRemoved(_ context.Context, path string) {
	if h.state.Get(path) == nil {
		return
	}
	if err := h.engine.Unlink(path); err != nil {
		h.logger.WithNote(path).WithError(err).Error("Failed to drop note mapping")
	}
}
