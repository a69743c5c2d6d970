// Package watch turns filesystem events under a project root into batches
// of changed PHP files, ready to be passed as a hint to incremental
// analysis.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultQuiet is how long the watcher waits for events to settle before
// delivering a batch.
const DefaultQuiet = 100 * time.Millisecond

// Directories never watched.
var ignoreDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
}

// Watcher recursively watches a directory tree.
type Watcher struct {
	fw     *fsnotify.Watcher
	root   string
	quiet  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithQuiet sets the settle period between the last event and delivery.
func WithQuiet(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.quiet = d
		}
	}
}

// WithLogger sets the logger used for watch errors.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher for root. Nothing is watched until Run.
func New(root string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fw:     fw,
		root:   abs,
		quiet:  DefaultQuiet,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Run watches until ctx is done or Close is called. onBatch receives the
// absolute paths of PHP files that were written, created, removed or
// renamed, sorted and without repeats. Calls to onBatch never overlap.
func (w *Watcher) Run(ctx context.Context, onBatch func([]string)) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}

	batches := make(chan []string, 1)
	done := make(chan struct{})
	b := NewBatcher(w.quiet, forward(batches, done))
	defer close(done)
	defer b.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case paths := <-batches:
			onBatch(paths)

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !ignoredDir(info.Name()) {
						if err := w.addTree(event.Name); err != nil {
							w.logger.Warn("watch.add", "path", event.Name, "error", err)
						}
					}
					continue
				}
			}
			if !w.relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				b.Add(event.Name)
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch.error", "error", err)
		}
	}
}

// forward returns a flush callback that hands a batch to Run's loop, or
// drops it once Run has returned.
func forward(batches chan<- []string, done <-chan struct{}) func([]string) {
	return func(paths []string) {
		select {
		case batches <- paths:
		case <-done:
		}
	}
}

// Close stops watching. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	return w.fw.Close()
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
}

func ignoredDir(name string) bool {
	return ignoreDirs[name] || strings.HasPrefix(name, ".")
}

// relevant reports whether an event path names a PHP file outside any
// ignored directory.
func (w *Watcher) relevant(path string) bool {
	if !strings.EqualFold(filepath.Ext(path), ".php") {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, dir := range parts[:len(parts)-1] {
		if ignoredDir(dir) {
			return false
		}
	}
	return true
}
