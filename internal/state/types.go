package state

import "time"

// Index is the persisted registry of local-note-to-remote-source mappings.
// The note's own frontmatter record stays authoritative for sync decisions;
// the index exists so the reconciliation pass can enumerate every mapping,
// including ones whose local note has since been deleted.
type Index struct {
	// Version is the index file format version
	Version int `json:"version"`

	// UpdatedAt is when the index was last modified
	UpdatedAt time.Time `json:"updated_at"`

	// Mappings is keyed by vault-relative note path
	Mappings map[string]*Mapping `json:"mappings"`
}

// Mapping links one local note to the remote source mirroring it.
type Mapping struct {
	// Path is the vault-relative note path
	Path string `json:"path"`

	// RemoteID is the source id assigned by the remote store
	RemoteID string `json:"remote_id"`

	// NotebookID is the notebook holding the source
	NotebookID string `json:"notebook_id"`

	// Title is the note's display name at last sync, used for
	// title-matching repair
	Title string `json:"title"`

	// LastSyncedAt is when the mapping was last confirmed
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// IndexFileVersion is the current version of the index file format
const IndexFileVersion = 1

// NewIndex creates a new empty Index
func NewIndex() *Index {
	return &Index{
		Version:  IndexFileVersion,
		Mappings: make(map[string]*Mapping),
	}
}

// Get returns the mapping for a note path, or nil if not mapped
func (ix *Index) Get(path string) *Mapping {
	return ix.Mappings[path]
}

// Put adds or replaces a mapping
func (ix *Index) Put(m *Mapping) {
	ix.Mappings[m.Path] = m
	ix.UpdatedAt = time.Now()
}

// Remove drops the mapping for a note path
func (ix *Index) Remove(path string) {
	delete(ix.Mappings, path)
	ix.UpdatedAt = time.Now()
}
