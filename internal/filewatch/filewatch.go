// Package filewatch reports settled content changes of a single file.
//
// The parent directory is watched rather than the file, so editors that save
// by writing a temp file and renaming it over the original are still seen.
// Bursts of events are coalesced and a change is only reported when the file
// content differs from the last content reported or marked as seen.
package filewatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"go.klb.dev/ledgersync/internal/debounce"
)

// DefaultSettle is how long a file must be quiet before it is read.
const DefaultSettle = 100 * time.Millisecond

// Watcher watches one file.
type Watcher struct {
	fs     *fsnotify.Watcher
	path   string
	settle *debounce.Debouncer

	mu   sync.Mutex
	last []byte
}

// New starts watching path's directory. settle <= 0 uses DefaultSettle.
func New(path string, settle time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{fs: fw, path: abs, settle: debounce.New(settle)}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// MarkSeen records content as already reported, e.g. after writing the file
// ourselves.
func (w *Watcher) MarkSeen(content []byte) {
	w.mu.Lock()
	w.last = bytes.Clone(content)
	w.mu.Unlock()
}

// Run calls fn with the file content after each settled change until ctx is
// done. fn is never called concurrently with itself. Pending changes are
// delivered before Run returns.
func (w *Watcher) Run(ctx context.Context, fn func(content []byte)) error {
	defer w.fs.Close()
	defer w.settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.settle.Schedule(w.path, func() { w.deliver(fn) })

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file watcher error", "path", w.path, "err", err)
		}
	}
}

func (w *Watcher) deliver(fn func([]byte)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	content, err := os.ReadFile(w.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("reading watched file", "path", w.path, "err", err)
		}
		return
	}
	if w.last != nil && bytes.Equal(content, w.last) {
		return
	}
	w.last = content
	fn(content)
}
