// Package queue implements the durable offline operation queue: deferred
// remote mutations that failed transiently are persisted, deduplicated, and
// replayed in order with bounded retry until they succeed or are abandoned.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vaultlm/vaultlm/internal/gateway"
	"github.com/vaultlm/vaultlm/internal/logger"
)

// MaxAttempts is how many times an operation is replayed before it is
// abandoned with a terminal failure report.
const MaxAttempts = 3

// queueFileVersion is the persisted queue file format version.
const queueFileVersion = 1

// Executor replays one queued operation against the remote store.
type Executor interface {
	Execute(ctx context.Context, op *Operation) error
}

// AbandonFunc receives the terminal failure report for an abandoned
// operation. It is called exactly once per abandoned operation so the user
// can re-trigger the work manually; the queue never drops work silently.
type AbandonFunc func(op Operation, err error)

// Queue is a durable, ordered, deduplicated list of pending remote
// mutations.
type Queue struct {
	filePath  string
	logger    *logger.Logger
	executor  Executor
	onAbandon AbandonFunc
	interval  time.Duration

	mu     sync.Mutex
	ops    []*Operation // insertion order
	online bool

	// draining guards against overlapping drains; the drain loop is
	// intentionally serial.
	draining atomic.Bool
}

// Config holds configuration for the queue.
type Config struct {
	// FilePath is where the queue is persisted.
	FilePath string

	// Executor replays operations during a drain.
	Executor Executor

	// OnAbandon is invoked when an operation exhausts its attempts.
	OnAbandon AbandonFunc

	// DrainInterval is the auto-drain period (default 30s).
	DrainInterval time.Duration

	// Logger is the logger instance to use.
	Logger *logger.Logger
}

// New creates a queue and loads any persisted operations.
func New(cfg *Config) (*Queue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file path is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	interval := cfg.DrainInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	q := &Queue{
		filePath:  cfg.FilePath,
		logger:    log,
		executor:  cfg.Executor,
		onAbandon: cfg.OnAbandon,
		interval:  interval,
		online:    true,
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// Enqueue adds an operation, collapsing it into an existing entry for the
// same (resource, id, type) triple if one is queued: the payload and
// timestamp are refreshed rather than a duplicate appended. The queue is
// persisted, and a drain is kicked off immediately when believed online.
func (q *Queue) Enqueue(ctx context.Context, op Operation) error {
	q.mu.Lock()

	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	op.Timestamp = time.Now()
	op.Status = StatusPending

	replaced := false
	for i, existing := range q.ops {
		if existing.Key() == op.Key() {
			// Keep the original id and attempt count; refresh the rest.
			op.ID = existing.ID
			op.Attempts = existing.Attempts
			q.ops[i] = &op
			replaced = true
			break
		}
	}
	if !replaced {
		q.ops = append(q.ops, &op)
	}

	err := q.saveLocked()
	online := q.online
	q.mu.Unlock()

	if err != nil {
		return err
	}

	q.logger.WithOperation(string(op.Type)).WithFields("resource", op.Resource, "path", op.Path, "deduped", replaced).
		Info("Queued offline operation")

	if online {
		go q.Process(ctx)
	}
	return nil
}

// Process drains the queue serially in insertion order. A reentrancy guard
// makes overlapping calls no-ops; operations for the same resource can
// therefore never replay out of order.
func (q *Queue) Process(ctx context.Context) {
	if !q.draining.CompareAndSwap(false, true) {
		return
	}
	defer q.draining.Store(false)

	// Each operation gets one attempt per drain; failures wait for the
	// next drain rather than spinning here.
	attempted := make(map[string]bool)
	for {
		op := q.nextPending(attempted)
		if op == nil {
			break
		}
		attempted[op.ID] = true
		if ctx.Err() != nil {
			q.resetProcessing(op)
			break
		}

		err := q.executor.Execute(ctx, op)
		if err == nil {
			q.complete(op)
			continue
		}
		q.fail(op, err)
	}

	q.mu.Lock()
	saveErr := q.saveLocked()
	q.mu.Unlock()
	if saveErr != nil {
		q.logger.WithError(saveErr).Warn("Failed to persist queue after drain")
	}
}

// SetOnline records connectivity. An offline→online transition triggers an
// immediate drain attempt.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	q.mu.Lock()
	wasOnline := q.online
	q.online = online
	q.mu.Unlock()

	if online && !wasOnline {
		q.logger.Info("Back online, draining offline queue")
		go q.Process(ctx)
	}
}

// Start runs the auto-drain ticker until ctx is cancelled: whenever the
// queue is non-empty, not already draining, and believed online, a drain is
// attempted.
func (q *Queue) Start(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.mu.Lock()
			ready := len(q.ops) > 0 && q.online
			q.mu.Unlock()
			if ready && !q.draining.Load() {
				q.Process(ctx)
			}
		}
	}
}

// Pending returns a snapshot of the queued operations in order.
func (q *Queue) Pending() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Operation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, *op)
	}
	return out
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// nextPending claims the first replayable operation not yet attempted in
// this drain, marking it processing.
func (q *Queue) nextPending(attempted map[string]bool) *Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if attempted[op.ID] {
			continue
		}
		if op.Status == StatusPending || op.Status == StatusFailed {
			op.Status = StatusProcessing
			return op
		}
	}
	return nil
}

func (q *Queue) resetProcessing(op *Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op.Status = StatusPending
}

func (q *Queue) complete(op *Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeLocked(op.ID)
	q.logger.WithOperation(string(op.Type)).WithFields("resource", op.Resource, "path", op.Path).
		Info("Replayed offline operation")
}

// fail reclassifies an execution error into a retry or abandon decision. A
// client-side (4xx) failure will never succeed on replay, so it is abandoned
// immediately; transient failures return to pending until the attempt limit
// runs out.
func (q *Queue) fail(op *Operation, err error) {
	q.mu.Lock()
	op.Attempts++
	op.Error = err.Error()

	abandon := op.Attempts >= MaxAttempts || gateway.IsClientError(err)
	if abandon {
		q.removeLocked(op.ID)
	} else {
		op.Status = StatusFailed
	}
	snapshot := *op
	q.mu.Unlock()

	if abandon {
		q.logger.WithOperation(string(snapshot.Type)).WithFields(
			"resource", snapshot.Resource, "path", snapshot.Path, "attempts", snapshot.Attempts, "error", err,
		).Error("Abandoning offline operation")
		if q.onAbandon != nil {
			q.onAbandon(snapshot, err)
		}
		return
	}

	q.logger.WithOperation(string(snapshot.Type)).WithFields(
		"resource", snapshot.Resource, "path", snapshot.Path, "attempts", snapshot.Attempts, "error", err,
	).Warn("Offline operation failed, will retry")
}

func (q *Queue) removeLocked(id string) {
	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return
		}
	}
}

type queueFile struct {
	Version    int          `json:"version"`
	Operations []*Operation `json:"operations"`
}

// load reads the persisted queue; a missing file yields an empty queue.
func (q *Queue) load() error {
	if _, err := os.Stat(q.filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(q.filePath)
	if err != nil {
		return fmt.Errorf("failed to read queue file: %w", err)
	}

	var file queueFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse queue file: %w", err)
	}
	if file.Version != queueFileVersion {
		return fmt.Errorf("unsupported queue file version %d (expected %d)", file.Version, queueFileVersion)
	}

	// A crash mid-drain can leave operations marked processing; they are
	// pending again on restart.
	for _, op := range file.Operations {
		if op.Status == StatusProcessing {
			op.Status = StatusPending
		}
	}
	q.ops = file.Operations
	return nil
}

// saveLocked persists the queue atomically. Callers must hold q.mu.
func (q *Queue) saveLocked() error {
	data, err := json.MarshalIndent(queueFile{Version: queueFileVersion, Operations: q.ops}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(q.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	tmpFile := q.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp queue file: %w", err)
	}
	if err := os.Rename(tmpFile, q.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp queue file: %w", err)
	}
	return nil
}
