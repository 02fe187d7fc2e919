// Package vault is the boundary to the local document store: a directory
// tree of Markdown notes addressed by vault-relative paths.
package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Vault provides read/write access to notes under a single root directory.
type Vault struct {
	root string // absolute path to the vault directory
}

// NoteInfo describes a note found by List.
type NoteInfo struct {
	Path       string // vault-relative path
	ModifiedAt time.Time
}

// Open creates a Vault rooted at dir. The directory must already exist.
func Open(dir string) (*Vault, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("vault: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("vault: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault: root is not a directory: %s", abs)
	}
	return &Vault{root: abs}, nil
}

// Root returns the absolute vault root directory.
func (v *Vault) Root() string {
	return v.root
}

// Read returns the full content of a note.
func (v *Vault) Read(path string) (string, error) {
	abs, err := v.safePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("vault: read %s: %w", path, err)
	}
	return string(data), nil
}

// Write replaces the content of a note atomically (temp file + rename), so a
// crash mid-write leaves either the old or the new content on disk.
func (v *Vault) Write(path, content string) error {
	abs, err := v.safePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("vault: create parent directory: %w", err)
	}

	tmp := abs + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("vault: write temp file: %w", err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vault: rename temp file: %w", err)
	}
	return nil
}

// Exists reports whether a note is present.
func (v *Vault) Exists(path string) bool {
	abs, err := v.safePath(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// List walks the vault and returns every Markdown note, vault-relative.
func (v *Vault) List() ([]NoteInfo, error) {
	var out []NoteInfo
	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			// Hidden directories (.obsidian, .trash) are not notes.
			if p != v.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return err
		}
		out = append(out, NoteInfo{Path: filepath.ToSlash(rel), ModifiedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault: list: %w", err)
	}
	return out, nil
}

// DisplayName returns the human-visible title of a note: the base filename
// without the .md extension. This name is what the remote store shows as the
// source title and what reconciliation matches on.
func DisplayName(path string) string {
	base := filepath.Base(filepath.FromSlash(path))
	return strings.TrimSuffix(base, ".md")
}

// Relative converts an absolute path inside the vault to a vault-relative
// path. Paths outside the vault return an error.
func (v *Vault) Relative(abs string) (string, error) {
	rel, err := filepath.Rel(v.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("vault: path outside vault: %s", abs)
	}
	return filepath.ToSlash(rel), nil
}

// safePath resolves a vault-relative path and rejects any result escaping
// the root (directory traversal).
func (v *Vault) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("vault: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(v.root, cleaned)
	if !strings.HasPrefix(abs, v.root+string(os.PathSeparator)) && abs != v.root {
		return "", fmt.Errorf("vault: path escapes vault root: %s", rel)
	}
	return abs, nil
}
