// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package watch reports changes to files.
//
// Each file's directory is watched, rather than the file
// itself, so files replaced by a rename are still seen.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the default time to wait after a
// change before reporting it.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reports changes to a set of files. Bursts of
// changes to the same file are reported once.
type Watcher struct {
	// Debounce is the delay between the last change
	// to a file and the change being reported.
	Debounce time.Duration

	mu      sync.Mutex
	paths   map[string]bool // Absolute paths.
	dirs    map[string]bool
	pending map[string]*time.Timer

	fs *fsnotify.Watcher
}

// New returns a watcher with no files.
func New() (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to start watcher: %v", err)
	}

	w := &Watcher{
		Debounce: DefaultDebounce,
		paths:    make(map[string]bool),
		dirs:     make(map[string]bool),
		pending:  make(map[string]*time.Timer),
		fs:       fs,
	}

	return w, nil
}

// Add starts watching the file at path. The file's
// directory must exist.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paths[abs] {
		return nil
	}

	dir := filepath.Dir(abs)
	if !w.dirs[dir] {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %v", path, err)
		}

		w.dirs[dir] = true
	}

	w.paths[abs] = true

	return nil
}

// Run calls onChange with the absolute path of each
// watched file that changes, until ctx is cancelled.
// onChange is never called concurrently with itself.
func (w *Watcher) Run(ctx context.Context, onChange func(path string)) error {
	var callback sync.Mutex
	changed := func(path string) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if !w.paths[path] {
			return
		}

		if timer, ok := w.pending[path]; ok {
			timer.Stop()
		}

		w.pending[path] = time.AfterFunc(w.Debounce, func() {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()

			if ctx.Err() != nil {
				return
			}

			callback.Lock()
			defer callback.Unlock()
			onChange(path)
		})
	}

	defer func() {
		w.mu.Lock()
		for path, timer := range w.pending {
			timer.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				changed(filepath.Clean(event.Name))
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}

			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("failed to watch files: %v", err)
		}
	}
}

// Close releases the watcher's resources.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
