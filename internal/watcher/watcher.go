// Package watcher turns raw filesystem events on the vault into debounced
// per-note notifications. Editors save through temp files and fire bursts
// of writes; the debounce collapses each burst into one notification.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vaultlm/vaultlm/internal/logger"
	"github.com/vaultlm/vaultlm/internal/vault"
)

// Handler receives debounced note events. Paths are vault-relative.
type Handler interface {
	// NoteChanged fires after a note was created or written.
	NoteChanged(ctx context.Context, path string)

	// NoteRemoved fires after a note disappeared (deleted or renamed away).
	NoteRemoved(ctx context.Context, path string)
}

// Watcher watches the vault tree recursively.
type Watcher struct {
	vault    *vault.Vault
	handler  Handler
	logger   *logger.Logger
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// Config holds configuration for the watcher.
type Config struct {
	Vault   *vault.Vault
	Handler Handler

	// Debounce is the quiet period after the last event on a path before
	// the handler fires (default 2s).
	Debounce time.Duration

	// Logger is the logger instance to use.
	Logger *logger.Logger
}

// New creates a vault watcher.
func New(cfg *Config) (*Watcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = 2 * time.Second
	}

	return &Watcher{
		vault:    cfg.Vault,
		handler:  cfg.Handler,
		logger:   log,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Run watches the vault until ctx is cancelled. Directories created at
// runtime are added to the watch list automatically.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer fsw.Close()

	if err := addDirsRecursive(fsw, w.vault.Root()); err != nil {
		return fmt.Errorf("watching vault tree: %w", err)
	}
	w.logger.WithFields("root", w.vault.Root()).Info("Watching vault for changes")

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			w.logger.Info("Watcher stopped")
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fsw, ev)

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(watchErr).Warn("Watcher error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	abs := ev.Name

	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
			if hidden(filepath.Base(abs)) {
				return
			}
			if addErr := addDirsRecursive(fsw, abs); addErr != nil {
				w.logger.WithError(addErr).WithFields("path", abs).Warn("Failed to watch new directory")
				return
			}
			w.logger.WithFields("path", abs).Debug("Watching new directory")
			w.scheduleDir(ctx, abs)
			return
		}
	}

	if !strings.HasSuffix(abs, ".md") {
		return
	}
	rel, relErr := w.vault.Relative(abs)
	if relErr != nil {
		return
	}
	if hiddenPath(rel) {
		return
	}

	// Create, Write, Remove, and Rename all funnel into one debounced
	// check; whether the note still exists when the timer fires decides
	// which notification goes out. Rename fires on the old path only, so
	// it resolves to a removal there while the new path's Create event
	// covers the other half.
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		w.schedule(ctx, rel)
	}
}

// schedule (re)arms the debounce timer for one note.
func (w *Watcher) schedule(ctx context.Context, rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[rel]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[rel] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, rel)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if w.vault.Exists(rel) {
			w.logger.WithNote(rel).Debug("Note changed")
			w.handler.NoteChanged(ctx, rel)
		} else {
			w.logger.WithNote(rel).Debug("Note removed")
			w.handler.NoteRemoved(ctx, rel)
		}
	})
}

// scheduleDir schedules every note already inside a newly created
// directory, e.g. one moved into the vault wholesale.
func (w *Watcher) scheduleDir(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if hidden(d.Name()) && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".md") {
			return nil
		}
		if rel, relErr := w.vault.Relative(path); relErr == nil {
			w.schedule(ctx, rel)
		}
		return nil
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for rel, timer := range w.timers {
		timer.Stop()
		delete(w.timers, rel)
	}
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func hiddenPath(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if hidden(part) {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its visible subdirectories to the
// watch list.
func addDirsRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if hidden(d.Name()) && path != root {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
