package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vaultlm/vaultlm/internal/gateway"
)

// fakeExecutor scripts the outcome of each Execute call.
type fakeExecutor struct {
	mu    sync.Mutex
	errs  map[string]error // keyed by operation Key(); nil means success
	calls []Operation
}

func (f *fakeExecutor) Execute(_ context.Context, op *Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, *op)
	return f.errs[op.Key()]
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testQueue struct {
	*Queue
	exec      *fakeExecutor
	abandoned []Operation
}

func newTestQueue(t *testing.T) *testQueue {
	t.Helper()

	tq := &testQueue{exec: &fakeExecutor{errs: make(map[string]error)}}
	q, err := New(&Config{
		FilePath: filepath.Join(t.TempDir(), "queue.json"),
		Executor: tq.exec,
		OnAbandon: func(op Operation, _ error) {
			tq.abandoned = append(tq.abandoned, op)
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	// Keep Enqueue from starting async drains; tests drive Process directly.
	q.SetOnline(context.Background(), false)
	tq.Queue = q
	return tq
}

func TestEnqueue_DedupesSameResource(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, Operation{
		Type: OpUpdate, Resource: ResourceSource, ResourceID: "src-1", Path: "a.md", Title: "v1",
	}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, Operation{
		Type: OpUpdate, Resource: ResourceSource, ResourceID: "src-1", Path: "a.md", Title: "v2",
	}); err != nil {
		t.Fatal(err)
	}

	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (duplicate must collapse)", q.Len())
	}
	if got := q.Pending()[0].Title; got != "v2" {
		t.Errorf("payload = %q, want the latest v2", got)
	}
}

func TestEnqueue_DistinctOperationsKept(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	ops := []Operation{
		{Type: OpUpdate, Resource: ResourceSource, ResourceID: "src-1"},
		{Type: OpDelete, Resource: ResourceSource, ResourceID: "src-1"}, // different type
		{Type: OpUpdate, Resource: ResourceSource, ResourceID: "src-2"}, // different id
		{Type: OpCreate, Resource: ResourceSource, Path: "new.md"},      // create keyed by path
	}
	for _, op := range ops {
		if err := q.Enqueue(ctx, op); err != nil {
			t.Fatal(err)
		}
	}

	if q.Len() != 4 {
		t.Errorf("Len() = %d, want 4", q.Len())
	}
}

func TestProcess_RemovesOnSuccess(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_ = q.Enqueue(ctx, Operation{Type: OpCreate, Resource: ResourceSource, Path: "a.md"})
	_ = q.Enqueue(ctx, Operation{Type: OpCreate, Resource: ResourceSource, Path: "b.md"})

	q.Process(ctx)

	if q.Len() != 0 {
		t.Errorf("Len() = %d after successful drain, want 0", q.Len())
	}
	if q.exec.callCount() != 2 {
		t.Errorf("executor called %d times, want 2", q.exec.callCount())
	}
}

func TestProcess_OneAttemptPerDrain(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	op := Operation{Type: OpUpdate, Resource: ResourceSource, ResourceID: "src-1"}
	q.exec.errs[op.Key()] = errors.New("network down")
	_ = q.Enqueue(ctx, op)

	q.Process(ctx)

	if q.exec.callCount() != 1 {
		t.Errorf("executor called %d times in one drain, want 1", q.exec.callCount())
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, operation should remain queued for the next drain", q.Len())
	}

	pending := q.Pending()[0]
	if pending.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", pending.Attempts)
	}
	if pending.Error == "" {
		t.Error("failure message not recorded")
	}
}

func TestProcess_AbandonsAfterMaxAttempts(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	op := Operation{Type: OpUpdate, Resource: ResourceSource, ResourceID: "src-1"}
	q.exec.errs[op.Key()] = errors.New("still broken")
	_ = q.Enqueue(ctx, op)

	for i := 0; i < MaxAttempts+2; i++ {
		q.Process(ctx)
	}

	if q.Len() != 0 {
		t.Errorf("Len() = %d, abandoned operation must be removed", q.Len())
	}
	if len(q.abandoned) != 1 {
		t.Fatalf("terminal failure reported %d times, want exactly once", len(q.abandoned))
	}
	if q.abandoned[0].Attempts != MaxAttempts {
		t.Errorf("abandoned after %d attempts, want %d", q.abandoned[0].Attempts, MaxAttempts)
	}
	if q.exec.callCount() != MaxAttempts {
		t.Errorf("executor called %d times, want %d", q.exec.callCount(), MaxAttempts)
	}
}

func TestProcess_ClientErrorAbandonsImmediately(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	op := Operation{Type: OpCreate, Resource: ResourceSource, Path: "bad.md"}
	q.exec.errs[op.Key()] = &gateway.RemoteError{StatusCode: 422, Message: "content rejected"}
	_ = q.Enqueue(ctx, op)

	q.Process(ctx)

	if q.Len() != 0 {
		t.Errorf("Len() = %d, client errors must not stay queued", q.Len())
	}
	if len(q.abandoned) != 1 {
		t.Errorf("terminal failure reported %d times, want 1", len(q.abandoned))
	}
	if q.exec.callCount() != 1 {
		t.Errorf("executor called %d times, want 1 (4xx is never retried)", q.exec.callCount())
	}
}

func TestQueue_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "queue.json")
	exec := &fakeExecutor{errs: make(map[string]error)}

	q1, err := New(&Config{FilePath: file, Executor: exec})
	if err != nil {
		t.Fatal(err)
	}
	q1.SetOnline(context.Background(), false)
	_ = q1.Enqueue(context.Background(), Operation{Type: OpDelete, Resource: ResourceSource, ResourceID: "src-9"})

	q2, err := New(&Config{FilePath: file, Executor: exec})
	if err != nil {
		t.Fatalf("New() after restart error = %v", err)
	}
	if q2.Len() != 1 {
		t.Fatalf("Len() = %d after restart, want 1", q2.Len())
	}
	if got := q2.Pending()[0].ResourceID; got != "src-9" {
		t.Errorf("ResourceID = %q after restart", got)
	}
}

func TestSetOnline_TransitionDrains(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_ = q.Enqueue(ctx, Operation{Type: OpCreate, Resource: ResourceSource, Path: "a.md"})
	if q.exec.callCount() != 0 {
		t.Fatal("queue must not drain while offline")
	}

	q.SetOnline(ctx, true)

	// The transition drain runs in a goroutine; poll briefly for it.
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("queue did not drain after coming back online")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcess_ReentrancyGuard(t *testing.T) {
	q := newTestQueue(t)
	q.draining.Store(true)
	_ = q.Enqueue(context.Background(), Operation{Type: OpCreate, Resource: ResourceSource, Path: "a.md"})

	q.Process(context.Background())

	if q.exec.callCount() != 0 {
		t.Error("Process must be a no-op while another drain is running")
	}
	q.draining.Store(false)
}
