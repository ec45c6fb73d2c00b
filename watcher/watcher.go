// Package watcher monitors the plugins directory for new or removed plugin
// subdirectories and debounces the resulting churn into a single reload
// trigger, grounded on the reference stack's dynamic.PluginWatcher: an
// fsnotify watch loop, a debounce ticker, and a pending-set drained on each
// tick.
package watcher

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is invoked whenever the plugins directory has settled after a
// burst of filesystem changes. It receives no arguments: a reload always
// re-discovers the full directory from scratch.
type ReloadFunc func()

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the watcher waits for changes to settle before
// triggering a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the watcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// Watcher watches a single plugins directory for subdirectory creation and
// removal, and calls Reload once changes have settled.
type Watcher struct {
	dir      string
	reload   ReloadFunc
	debounce time.Duration
	logger   *slog.Logger

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	pending bool
	lastHit time.Time
}

// New creates a Watcher over dir. Reload is called (serially, never
// concurrently with itself) once the directory has been quiet for the
// debounce interval after a change.
func New(dir string, reload ReloadFunc, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		reload:   reload,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The directory is created if it does not yet exist.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsWatcher = fsw

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = true
				w.lastHit = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err, "dir", w.dir)

		case <-ticker.C:
			w.maybeFire()
		}
	}
}

func (w *Watcher) maybeFire() {
	w.mu.Lock()
	ready := w.pending && time.Since(w.lastHit) >= w.debounce
	if ready {
		w.pending = false
	}
	w.mu.Unlock()

	if !ready {
		return
	}
	w.logger.Info("plugins directory changed, reloading", "dir", w.dir)
	w.reload()
}
