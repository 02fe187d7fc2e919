package queue

import "time"

// OpType is the kind of deferred mutation.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// ResourceType is the remote collection an operation targets.
type ResourceType string

const (
	ResourceNotebook ResourceType = "notebook"
	ResourceSource   ResourceType = "source"
	ResourceNote     ResourceType = "note"
)

// Status tracks an operation through the drain state machine:
// pending → processing → completed (removed) | failed (back to pending) |
// failed three times (removed, abandoned).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Operation is one durable unit of deferred remote work.
type Operation struct {
	// ID is a unique operation identifier
	ID string `json:"id"`

	// Type is the mutation kind
	Type OpType `json:"type"`

	// Resource is the remote collection targeted
	Resource ResourceType `json:"resource"`

	// ResourceID is the remote identifier; absent for creates
	ResourceID string `json:"resource_id,omitempty"`

	// Path is the vault-relative note path the operation replays from.
	// Replay re-reads the note so deferred work pushes the latest content,
	// not a stale snapshot.
	Path string `json:"path,omitempty"`

	// NotebookID is the target notebook for create/update
	NotebookID string `json:"notebook_id,omitempty"`

	// Title is the title attempted at enqueue time
	Title string `json:"title,omitempty"`

	// Timestamp is when the operation was (last) enqueued
	Timestamp time.Time `json:"timestamp"`

	// Attempts counts replay attempts so far
	Attempts int `json:"attempts"`

	// Status is the drain state
	Status Status `json:"status"`

	// Error is the last failure message
	Error string `json:"error,omitempty"`
}

// Key is the dedupe identity: at most one queued operation exists per
// (resource, resource-id-or-path, type) triple. Creates have no remote id
// yet, so the note path stands in for it.
func (op *Operation) Key() string {
	id := op.ResourceID
	if id == "" {
		id = op.Path
	}
	return string(op.Resource) + "|" + id + "|" + string(op.Type)
}
