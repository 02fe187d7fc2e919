// Package state persists the local-to-remote mapping index as a JSON file.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Manager handles mapping index persistence and operations
type Manager struct {
	index    *Index
	filePath string
	mu       sync.RWMutex
}

// NewManager creates a new index manager
func NewManager(filePath string) *Manager {
	return &Manager{
		index:    NewIndex(),
		filePath: filePath,
	}
}

// Load reads the index from the JSON file.
// If the file doesn't exist, returns a new empty index (not an error).
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.filePath); os.IsNotExist(err) {
		m.index = NewIndex()
		return nil
	}

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		return fmt.Errorf("failed to read index file: %w", err)
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("failed to parse index file: %w", err)
	}

	if index.Version != IndexFileVersion {
		return fmt.Errorf("unsupported index file version %d (expected %d)", index.Version, IndexFileVersion)
	}
	if index.Mappings == nil {
		index.Mappings = make(map[string]*Mapping)
	}

	m.index = &index
	return nil
}

// Save writes the index to the JSON file atomically
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := json.MarshalIndent(m.index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	dir := filepath.Dir(m.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	// Write atomically: write to temp file, then rename
	tmpFile := m.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp index file: %w", err)
	}
	if err := os.Rename(tmpFile, m.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp index file: %w", err)
	}

	return nil
}

// Get returns the mapping for a note path, or nil if not mapped
func (m *Manager) Get(path string) *Mapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Get(path)
}

// Put adds or replaces a mapping
func (m *Manager) Put(mapping *Mapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index.Put(mapping)
}

// Remove drops the mapping for a note path
func (m *Manager) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index.Remove(path)
}

// Rename moves a mapping from oldPath to newPath, preserving the remote
// linkage across a tracked rename. No-op when oldPath is unmapped.
func (m *Manager) Rename(oldPath, newPath, newTitle string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping := m.index.Get(oldPath)
	if mapping == nil {
		return
	}
	m.index.Remove(oldPath)
	mapping.Path = newPath
	mapping.Title = newTitle
	m.index.Put(mapping)
}

// All returns a snapshot of every mapping
func (m *Manager) All() []*Mapping {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Mapping, 0, len(m.index.Mappings))
	for _, mapping := range m.index.Mappings {
		copied := *mapping
		out = append(out, &copied)
	}
	return out
}

// Count returns the total number of mappings
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index.Mappings)
}

// Reset clears all state and creates a fresh empty index
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = NewIndex()
}

// LoadOrCreate loads an existing index file or creates a new one if it
// doesn't exist
func LoadOrCreate(filePath string) (*Manager, error) {
	manager := NewManager(filePath)

	if err := manager.Load(); err != nil {
		return nil, err
	}

	if manager.Count() == 0 && manager.index.UpdatedAt.Equal(time.Time{}) {
		if err := manager.Save(); err != nil {
			return nil, fmt.Errorf("failed to save initial index: %w", err)
		}
	}

	return manager, nil
}
