package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsEmptyIndex(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "index.json"))
	if err := m.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Count())
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	m := NewManager(path)

	syncedAt := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	m.Put(&Mapping{
		Path:         "notes/a.md",
		RemoteID:     "src-1",
		NotebookID:   "nb-1",
		Title:        "a",
		LastSyncedAt: syncedAt,
	})
	if err := m.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded := NewManager(path)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	mapping := loaded.Get("notes/a.md")
	if mapping == nil {
		t.Fatal("mapping lost across save/load")
	}
	if mapping.RemoteID != "src-1" || mapping.NotebookID != "nb-1" {
		t.Errorf("mapping = %+v", mapping)
	}
	if !mapping.LastSyncedAt.Equal(syncedAt) {
		t.Errorf("LastSyncedAt = %v, want %v", mapping.LastSyncedAt, syncedAt)
	}
}

func TestSave_Atomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	m := NewManager(path)
	m.Put(&Mapping{Path: "a.md", RemoteID: "src-1"})

	if err := m.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after Save")
	}
}

func TestLoad_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	if err := os.WriteFile(path, []byte(`{"version": 99, "mappings": {}}`), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(path)
	if err := m.Load(); err == nil {
		t.Error("Load() should reject an unsupported version")
	}
}

func TestRename(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "index.json"))
	m.Put(&Mapping{Path: "old.md", RemoteID: "src-1", Title: "old"})

	m.Rename("old.md", "new.md", "new")

	if m.Get("old.md") != nil {
		t.Error("old path still mapped after Rename")
	}
	mapping := m.Get("new.md")
	if mapping == nil {
		t.Fatal("new path not mapped after Rename")
	}
	if mapping.RemoteID != "src-1" {
		t.Errorf("RemoteID = %q, remote linkage must survive rename", mapping.RemoteID)
	}
	if mapping.Title != "new" {
		t.Errorf("Title = %q, want new", mapping.Title)
	}

	// Renaming an unmapped path is a no-op.
	m.Rename("ghost.md", "other.md", "other")
	if m.Get("other.md") != nil {
		t.Error("Rename of unmapped path should not create a mapping")
	}
}

func TestAll_ReturnsCopies(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "index.json"))
	m.Put(&Mapping{Path: "a.md", RemoteID: "src-1"})

	all := m.All()
	if len(all) != 1 {
		t.Fatalf("All() returned %d mappings, want 1", len(all))
	}
	all[0].RemoteID = "mutated"

	if m.Get("a.md").RemoteID != "src-1" {
		t.Error("All() must return copies, not aliases into the index")
	}
}

func TestLoadOrCreate_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "index.json")
	if _, err := LoadOrCreate(path); err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("index file not created: %v", err)
	}
}
