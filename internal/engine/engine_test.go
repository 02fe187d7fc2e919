package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/vaultlm/vaultlm/internal/gateway"
	"github.com/vaultlm/vaultlm/internal/metadata"
	"github.com/vaultlm/vaultlm/internal/state"
	"github.com/vaultlm/vaultlm/internal/vault"
)

// fakeRemote is an in-memory gateway with scriptable failures.
type fakeRemote struct {
	mu      sync.Mutex
	nextID  int
	sources map[string]gateway.Source

	creates int
	deletes int
	fetches int
	lists   int

	createErr error
	deleteErr error
	fetchErr  error
	listErr   error

	// beforeCreate, when set, runs outside the lock ahead of each create.
	beforeCreate func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{sources: make(map[string]gateway.Source)}
}

func (f *fakeRemote) CreateSource(_ context.Context, notebookID, title, content string) (*gateway.Source, error) {
	if hook := f.beforeCreate; hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	src := gateway.Source{ID: fmt.Sprintf("src-%d", f.nextID), Title: title, Content: content}
	f.sources[src.ID] = src
	return &src, nil
}

func (f *fakeRemote) DeleteSource(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.sources, id)
	return nil
}

func (f *fakeRemote) FetchSource(_ context.Context, id string) (*gateway.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	src, ok := f.sources[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &src, nil
}

func (f *fakeRemote) ListSources(context.Context, string) ([]gateway.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]gateway.Source, 0, len(f.sources))
	for _, src := range f.sources {
		out = append(out, src)
	}
	return out, nil
}

func (f *fakeRemote) counts() (creates, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.deletes
}

type fixture struct {
	engine   *Engine
	vault    *vault.Vault
	metadata *metadata.Store
	state    *state.Manager
	remote   *fakeRemote
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	v, err := vault.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	store := metadata.NewStore(v, nil)
	mgr, err := state.LoadOrCreate(dir + "/state.json")
	if err != nil {
		t.Fatal(err)
	}
	remote := newFakeRemote()

	e, err := New(&Config{
		Vault:      v,
		Metadata:   store,
		State:      mgr,
		Remote:     remote,
		NotebookID: "nb-1",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{engine: e, vault: v, metadata: store, state: mgr, remote: remote}
}

func (f *fixture) write(t *testing.T, path, body string) {
	t.Helper()
	if err := f.vault.Write(path, body); err != nil {
		t.Fatal(err)
	}
}

// edit rewrites only the body, keeping the frontmatter a prior sync left.
func (f *fixture) edit(t *testing.T, path, body string) {
	t.Helper()
	content, err := f.vault.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if idx := strings.LastIndex(content, "---\n"); idx >= 0 {
		content = content[:idx+len("---\n")] + body
	} else {
		content = body
	}
	if err := f.vault.Write(path, content); err != nil {
		t.Fatal(err)
	}
}

func TestSyncDocument_Create(t *testing.T) {
	f := newFixture(t)
	f.write(t, "ideas.md", "first thought\n")

	id, err := f.engine.SyncDocument(context.Background(), "ideas.md")
	if err != nil {
		t.Fatalf("SyncDocument() error = %v", err)
	}
	if id != "src-1" {
		t.Errorf("remote id = %q, want src-1", id)
	}

	meta := f.metadata.Read("ideas.md")
	if meta.RemoteID != "src-1" {
		t.Errorf("metadata RemoteID = %q", meta.RemoteID)
	}
	if meta.LastSyncedHash == "" || meta.LastSyncedAt.IsZero() {
		t.Error("sync record incomplete after create")
	}

	mapping := f.state.Get("ideas.md")
	if mapping == nil || mapping.RemoteID != "src-1" {
		t.Errorf("mapping = %+v, want RemoteID src-1", mapping)
	}
	if mapping.Title != "ideas" {
		t.Errorf("mapping title = %q, want display name without extension", mapping.Title)
	}
}

func TestSyncDocument_UnchangedIsNoop(t *testing.T) {
	f := newFixture(t)
	f.write(t, "note.md", "stable content\n")

	ctx := context.Background()
	first, err := f.engine.SyncDocument(ctx, "note.md")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.engine.SyncDocument(ctx, "note.md")
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("remote id changed across no-op sync: %q then %q", first, second)
	}
	creates, deletes := f.remote.counts()
	if creates != 1 || deletes != 0 {
		t.Errorf("creates=%d deletes=%d, want one create and no deletes", creates, deletes)
	}
}

func TestSyncDocument_RecreateOnChange(t *testing.T) {
	f := newFixture(t)
	f.write(t, "note.md", "version one\n")
	ctx := context.Background()

	first, err := f.engine.SyncDocument(ctx, "note.md")
	if err != nil {
		t.Fatal(err)
	}
	f.edit(t, "note.md", "version two\n")

	second, err := f.engine.SyncDocument(ctx, "note.md")
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("recreate must mint a new remote id")
	}

	creates, deletes := f.remote.counts()
	if creates != 2 || deletes != 1 {
		t.Errorf("creates=%d deletes=%d, want 2 and 1", creates, deletes)
	}
	if _, err := f.remote.FetchSource(ctx, first); !gateway.IsNotFound(err) {
		t.Error("old remote copy must be deleted")
	}
	if got := f.metadata.Read("note.md").RemoteID; got != second {
		t.Errorf("metadata RemoteID = %q, want %q", got, second)
	}
}

func TestSyncDocument_DeleteRefusalAbortsRecreate(t *testing.T) {
	f := newFixture(t)
	f.write(t, "note.md", "version one\n")
	ctx := context.Background()

	first, err := f.engine.SyncDocument(ctx, "note.md")
	if err != nil {
		t.Fatal(err)
	}

	f.edit(t, "note.md", "version two\n")
	f.remote.deleteErr = &gateway.RemoteError{StatusCode: 409, Message: "refusing to delete"}

	if _, err := f.engine.SyncDocument(ctx, "note.md"); err == nil {
		t.Fatal("a delete refusal must surface, not be swallowed")
	}

	// No second copy may exist, and the mapping must still point at the
	// surviving original.
	creates, _ := f.remote.counts()
	if creates != 1 {
		t.Errorf("creates=%d, a refused delete must abort before the create", creates)
	}
	if got := f.metadata.Read("note.md").RemoteID; got != first {
		t.Errorf("metadata RemoteID = %q, want untouched %q", got, first)
	}
}

func TestSyncDocument_EmptyNoteSkipped(t *testing.T) {
	f := newFixture(t)
	f.write(t, "blank.md", "   \n\n")

	id, err := f.engine.SyncDocument(context.Background(), "blank.md")
	if err != nil {
		t.Fatalf("SyncDocument() error = %v", err)
	}
	if id != "" {
		t.Errorf("remote id = %q, want none for an empty note", id)
	}
	creates, _ := f.remote.counts()
	if creates != 0 {
		t.Error("empty notes must never reach the remote")
	}
}

func TestSyncDocument_DisabledNoteSkipped(t *testing.T) {
	f := newFixture(t)
	f.write(t, "private.md", "keep this local\n")
	if err := f.metadata.Write("private.md", metadata.Patch{SyncEnabled: metadata.Bool(false)}); err != nil {
		t.Fatal(err)
	}

	id, err := f.engine.SyncDocument(context.Background(), "private.md")
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Errorf("remote id = %q, want none", id)
	}
	creates, _ := f.remote.counts()
	if creates != 0 {
		t.Error("disabled notes must never reach the remote")
	}
}

func TestResyncDocument_ForcesRecreate(t *testing.T) {
	f := newFixture(t)
	f.write(t, "note.md", "content\n")
	ctx := context.Background()

	if _, err := f.engine.SyncDocument(ctx, "note.md"); err != nil {
		t.Fatal(err)
	}
	// Content unchanged: an ordinary sync would no-op here.
	if err := f.engine.ResyncDocument(ctx, "note.md"); err != nil {
		t.Fatalf("ResyncDocument() error = %v", err)
	}

	creates, deletes := f.remote.counts()
	if creates != 2 || deletes != 1 {
		t.Errorf("creates=%d deletes=%d, want a forced recreate", creates, deletes)
	}
}

func TestSyncDocument_ConcurrentRequestsCoalesce(t *testing.T) {
	f := newFixture(t)
	f.write(t, "note.md", "burst of edits\n")
	ctx := context.Background()

	firstCreateStarted := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.remote.beforeCreate = func() {
		once.Do(func() {
			close(firstCreateStarted)
			<-release
		})
	}

	results := make(chan string, 2)
	errs := make(chan error, 2)
	go func() {
		id, err := f.engine.SyncDocument(ctx, "note.md")
		results <- id
		errs <- err
	}()
	<-firstCreateStarted

	// Second request lands while the first is mid-create.
	go func() {
		id, err := f.engine.SyncDocument(ctx, "note.md")
		results <- id
		errs <- err
	}()
	close(release)

	ids := []string{<-results, <-results}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("coalesced sync error = %v", err)
		}
	}
	if ids[0] != ids[1] {
		t.Errorf("coalesced syncs returned different ids: %v", ids)
	}

	// The follow-up pass sees the fingerprint the first pass recorded, so
	// only one create may have reached the remote.
	creates, deletes := f.remote.counts()
	if creates != 1 || deletes != 0 {
		t.Errorf("creates=%d deletes=%d, want exactly one remote mutation sequence", creates, deletes)
	}
}

func TestUnlink_DropsMappingNotRemoteCopy(t *testing.T) {
	f := newFixture(t)
	f.write(t, "note.md", "content\n")
	ctx := context.Background()

	id, err := f.engine.SyncDocument(ctx, "note.md")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Unlink("note.md"); err != nil {
		t.Fatalf("Unlink() error = %v", err)
	}

	if _, err := f.remote.FetchSource(ctx, id); err != nil {
		t.Errorf("remote copy must survive an unlink: %v", err)
	}
	if f.state.Get("note.md") != nil {
		t.Error("mapping must be dropped")
	}
	if got := f.metadata.Read("note.md").RemoteID; got != "" {
		t.Errorf("metadata RemoteID = %q, want cleared", got)
	}
}

func TestUnlink_ToleratesNoteAlreadyGone(t *testing.T) {
	f := newFixture(t)
	f.write(t, "note.md", "content\n")
	ctx := context.Background()

	if _, err := f.engine.SyncDocument(ctx, "note.md"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(f.vault.Root(), "note.md")); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.Unlink("note.md"); err != nil {
		t.Fatalf("Unlink() after local delete error = %v", err)
	}
	if f.state.Get("note.md") != nil {
		t.Error("mapping must be dropped")
	}
}

func TestRename_PreservesRemoteLinkage(t *testing.T) {
	f := newFixture(t)
	f.write(t, "old.md", "content\n")
	ctx := context.Background()

	id, err := f.engine.SyncDocument(ctx, "old.md")
	if err != nil {
		t.Fatal(err)
	}

	f.engine.Rename("old.md", "new.md")

	if f.state.Get("old.md") != nil {
		t.Error("old mapping must be gone")
	}
	mapping := f.state.Get("new.md")
	if mapping == nil || mapping.RemoteID != id {
		t.Errorf("mapping = %+v, want RemoteID %q carried over", mapping, id)
	}
	if mapping.Title != "new" {
		t.Errorf("title = %q, want display name of the new path", mapping.Title)
	}
}

func TestSyncAll_CollectsFailuresWithoutAborting(t *testing.T) {
	f := newFixture(t)
	f.write(t, "good.md", "fine\n")
	f.write(t, "bad.md", "doomed\n")
	f.write(t, "also-good.md", "fine too\n")

	// Fail only bad.md by rejecting its title.
	inner := f.remote
	f.engine.remote = remoteFunc{inner: inner, failTitle: "bad"}

	result, err := f.engine.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if result.TotalNotes != 3 || result.ProcessedNotes != 3 {
		t.Errorf("totals = %d/%d, want 3/3", result.TotalNotes, result.ProcessedNotes)
	}
	if result.SuccessCount != 2 || result.FailureCount != 1 {
		t.Errorf("succeeded=%d failed=%d, want 2 and 1", result.SuccessCount, result.FailureCount)
	}
	if len(result.Failures) != 1 || result.Failures[0].Path != "bad.md" {
		t.Errorf("failures = %+v", result.Failures)
	}
}

// remoteFunc fails creates for a single title and delegates the rest.
type remoteFunc struct {
	inner     *fakeRemote
	failTitle string
}

func (r remoteFunc) CreateSource(ctx context.Context, notebookID, title, content string) (*gateway.Source, error) {
	if title == r.failTitle {
		return nil, &gateway.RemoteError{StatusCode: 500, Message: "scripted failure"}
	}
	return r.inner.CreateSource(ctx, notebookID, title, content)
}

func (r remoteFunc) DeleteSource(ctx context.Context, id string) error {
	return r.inner.DeleteSource(ctx, id)
}

func (r remoteFunc) FetchSource(ctx context.Context, id string) (*gateway.Source, error) {
	return r.inner.FetchSource(ctx, id)
}

func (r remoteFunc) ListSources(ctx context.Context, notebookID string) ([]gateway.Source, error) {
	return r.inner.ListSources(ctx, notebookID)
}
