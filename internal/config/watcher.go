package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BenDundee/ravana/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports edits to config and prompt files. Rapid saves to the same
// file are debounced into a single callback.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	dirs        []string
	onChange    func(path string)
	debounceMap map[string]time.Time
	debounceDur time.Duration
	doneCh      chan struct{}

	stats WatcherStats
}

// WatcherStats counts observed events.
type WatcherStats struct {
	Events        int
	Dispatched    int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// NewWatcher watches the configurator's config and prompt directories.
func (c *Configurator) NewWatcher(onChange func(path string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		dirs:        []string{c.ConfigDir, c.PromptDir},
		onChange:    onChange,
		debounceMap: make(map[string]time.Time),
		debounceDur: 250 * time.Millisecond,
		doneCh:      make(chan struct{}),
	}, nil
}

// Watch blocks, dispatching changes until ctx is cancelled.
func (c *Configurator) Watch(ctx context.Context, onChange func(path string)) error {
	w, err := c.NewWatcher(onChange)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Wait()
	return nil
}

// Start registers the directories and runs the event loop in a goroutine.
// The loop exits and closes the watcher when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			logging.ConfigWarn("Watcher: could not watch %s: %v", dir, err)
			continue
		}
		logging.Configuration("Watcher: watching directory: %s", dir)
	}
	go w.run(ctx)
	return nil
}

// Wait blocks until the event loop has exited.
func (w *Watcher) Wait() {
	<-w.doneCh
}

// Stats returns a snapshot of the event counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.watcher.Close()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.ConfigDebug("Watcher: context cancelled")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.ConfigError("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.flush()
		}
	}
}

func isWatchedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yml", ".yaml", ".json":
		return true
	}
	return false
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isWatchedFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return // chmod
	}

	logging.ConfigDebug("Watcher: %s %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = time.Now()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, t := range w.debounceMap {
		if now.Sub(t) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.debounceMap, path)
		}
	}
	w.stats.Dispatched += len(ready)
	w.mu.Unlock()

	for _, path := range ready {
		if w.onChange != nil {
			w.onChange(path)
		}
	}
}
