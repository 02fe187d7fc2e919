package daemon

import (
	"context"
	"fmt"

	"github.com/vaultlm/vaultlm/internal/engine"
	"github.com/vaultlm/vaultlm/internal/logger"
	"github.com/vaultlm/vaultlm/internal/queue"
	"github.com/vaultlm/vaultlm/internal/vault"
)

// Executor replays queued operations through the engine. Create and update
// replays re-read the note so the replay pushes whatever the note says now,
// not the content at the time of the failure.
type Executor struct {
	engine *engine.Engine
	remote engine.Remote
	vault  *vault.Vault
	logger *logger.Logger
}

// NewExecutor creates a queue executor.
func NewExecutor(e *engine.Engine, remote engine.Remote, v *vault.Vault, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Get()
	}
	return &Executor{engine: e, remote: remote, vault: v, logger: log}
}

// Execute replays one queued operation.
func (x *Executor) Execute(ctx context.Context, op *queue.Operation) error {
	switch op.Type {
	case queue.OpDelete:
		if op.ResourceID == "" {
			return fmt.Errorf("delete operation without a resource id")
		}
		return x.remote.DeleteSource(ctx, op.ResourceID)

	case queue.OpCreate, queue.OpUpdate:
		if !x.vault.Exists(op.Path) {
			// The note was deleted while the operation waited; the
			// removal event queued its own delete.
			x.logger.WithNote(op.Path).Debug("Note gone before replay, dropping operation")
			return nil
		}
		_, err := x.engine.SyncDocument(ctx, op.Path)
		return err

	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}
