package rules

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the event bursts editors produce for one save.
const watchDebounce = 200 * time.Millisecond

// ConfigWatcher watches a file backend's config directory and invalidates
// the store's snapshot for any version whose rules_<version>.yaml was
// edited out of band, so the next read picks up the hand-edited document.
type ConfigWatcher struct {
	dir      string
	store    *Store
	log      *slog.Logger
	debounce time.Duration
}

// NewConfigWatcher creates a watcher for the backend's directory.
func NewConfigWatcher(backend *FileBackend, store *Store, log *slog.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		dir:      backend.Dir(),
		store:    store,
		log:      log,
		debounce: watchDebounce,
	}
}

// Run watches the config directory. Blocks until ctx is cancelled.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	// Versions with a pending invalidation. A single timer resets on each
	// event; when it fires, all accumulated versions flush at once.
	var mu sync.Mutex
	pending := make(map[string]bool)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		mu.Lock()
		versions := make([]string, 0, len(pending))
		for v := range pending {
			versions = append(versions, v)
		}
		pending = make(map[string]bool)
		mu.Unlock()

		for _, version := range versions {
			w.store.Invalidate(version)
			w.log.Info("reloaded rule set after external edit", "version", version)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			flush()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			version, ok := versionFromPath(event.Name)
			if !ok {
				continue
			}
			mu.Lock()
			pending[version] = true
			mu.Unlock()
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}

// versionFromPath extracts the version from a rules_<version>.yaml path.
func versionFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "rules_") || !strings.HasSuffix(name, ".yaml") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(name, "rules_"), ".yaml"), true
}
