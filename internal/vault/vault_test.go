package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return v
}

func TestOpen_MissingDir(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Open() should error for a missing directory")
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	v := newTestVault(t)

	if err := v.Write("notes/todo.md", "# Todo\n"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := v.Read("notes/todo.md")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != "# Todo\n" {
		t.Errorf("Read() = %q", got)
	}

	if !v.Exists("notes/todo.md") {
		t.Error("Exists() = false after Write")
	}
	if v.Exists("notes/missing.md") {
		t.Error("Exists() = true for missing note")
	}
}

func TestWrite_NoTempFileLeftBehind(t *testing.T) {
	v := newTestVault(t)

	if err := v.Write("a.md", "content\n"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(v.Root(), "a.md.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind after Write")
	}
}

func TestSafePath_RejectsEscapes(t *testing.T) {
	v := newTestVault(t)

	for _, path := range []string{"../outside.md", "/etc/passwd", "a/../../b.md"} {
		if _, err := v.Read(path); err == nil {
			t.Errorf("Read(%q) should be rejected", path)
		}
	}
}

func TestList(t *testing.T) {
	v := newTestVault(t)

	for _, p := range []string{"a.md", "sub/b.md", "sub/deep/c.md"} {
		if err := v.Write(p, "x\n"); err != nil {
			t.Fatalf("Write(%s) error = %v", p, err)
		}
	}
	// Non-markdown and hidden-directory files are skipped.
	if err := os.WriteFile(filepath.Join(v.Root(), "image.png"), []byte{1}, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(v.Root(), ".obsidian"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(v.Root(), ".obsidian", "workspace.md"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	notes, err := v.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(notes) != 3 {
		t.Fatalf("List() returned %d notes, want 3", len(notes))
	}

	seen := make(map[string]bool)
	for _, n := range notes {
		seen[n.Path] = true
	}
	for _, want := range []string{"a.md", "sub/b.md", "sub/deep/c.md"} {
		if !seen[want] {
			t.Errorf("List() missing %s", want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"todo.md", "todo"},
		{"notes/2024/meeting notes.md", "meeting notes"},
		{"no-extension", "no-extension"},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.path); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
