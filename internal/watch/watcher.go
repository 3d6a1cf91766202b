// Package watch re-runs a callback when a fixed set of files changes on
// disk. Editors save through temp-file renames, so the watcher monitors
// each file's parent directory and filters events down to the registered
// paths. Rapid saves are debounced before the callback fires.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"rulecast/internal/logging"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher monitors a set of files and invokes OnChange once per settled
// batch of filesystem events.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	paths       map[string]bool // absolute paths of the watched files
	onChange    func(context.Context, []string)
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats Stats
}

// Stats tracks watcher activity for tests and debugging.
type Stats struct {
	EventsSeen    int
	Reruns        int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// New creates a Watcher over the given files. The onChange callback
// receives the settled paths; it runs on the watcher goroutine, so a slow
// callback delays later batches rather than overlapping them.
func New(files []string, onChange func(context.Context, []string)) (*Watcher, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:     fsw,
		paths:       make(map[string]bool, len(files)),
		onChange:    onChange,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	// Watch parent directories, deduped. A directory watch survives the
	// delete+create cycle editors use for atomic saves.
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		w.paths[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logging.L(logging.CategoryWatch).Debug("watching directory", zap.String("dir", dir))
	}

	return w, nil
}

// Start begins watching. Non-blocking; the event loop runs in its own
// goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // already running
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.L(logging.CategoryWatch).Error("failed to close watcher", zap.Error(err))
	}
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// GetStats returns a snapshot of the watcher statistics.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// run is the main event loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	log := logging.L(logging.CategoryWatch)

	// Debounce ticker for batching rapid changes.
	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("context cancelled")
			return

		case <-w.stopCh:
			log.Debug("stop signal received")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				log.Debug("event channel closed")
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				log.Debug("error channel closed")
				return
			}
			log.Error("watch error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebouncedEvents(ctx)
		}
	}
}

// handleEvent records a single filesystem event for debounced processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	if !w.paths[abs] {
		return // some other file in the same directory
	}

	// Create covers the rename step of atomic saves; Remove/Rename still
	// count, since the file usually reappears a moment later.
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return // ignore chmod etc.
	}

	logging.L(logging.CategoryWatch).Debug("file event",
		zap.String("op", event.Op.String()),
		zap.String("path", abs))

	w.mu.Lock()
	w.stats.EventsSeen++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = abs
	w.debounceMap[abs] = time.Now()
	w.mu.Unlock()
}

// processDebouncedEvents fires the callback for events that have settled
// past the debounce window. Multiple changed files collapse into a single
// callback invocation.
func (w *Watcher) processDebouncedEvents(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	if len(settled) > 0 {
		w.stats.Reruns++
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}

	logging.L(logging.CategoryWatch).Info("changes settled",
		zap.Strings("paths", settled))
	w.onChange(ctx, settled)
}
