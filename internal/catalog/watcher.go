package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before rebuilding.
const DefaultDebounce = 250 * time.Millisecond

// Watcher rebuilds a registry whenever the voice directory changes and
// hands the new snapshot to a publish callback. Registries are never
// modified in place.
type Watcher struct {
	root     string
	build    func() (*Registry, error)
	publish  func(*Registry)
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher over root. build produces a fresh registry,
// publish receives it.
func NewWatcher(root string, build func() (*Registry, error), publish func(*Registry)) (*Watcher, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("voice directory not accessible: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		build:    build,
		publish:  publish,
		debounce: DefaultDebounce,
		watcher:  fw,
	}
	if err := w.addTree(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// SetDebounce overrides the debounce delay.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// addTree registers root and every directory below it; fsnotify does not
// recurse on its own.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// Run blocks until ctx is done, rebuilding after each settled burst of
// changes. The underlying fsnotify watcher is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close() //nolint:errcheck

	log.Info("watching voice directory", "dir", w.root)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						log.Warn("could not watch new directory", "dir", event.Name, "error", err)
					}
				}
			}
			log.Debug("voice directory event", "file", event.Name, "event", event.Op)
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Debug("fsnotify error", "dir", w.root, "error", err)

		case <-timer.C:
			reg, err := w.build()
			if err != nil {
				log.Error("rebuilding engine registry", "error", err)
				continue
			}
			log.Info("engine registry reloaded", "engines", len(reg.Engines()))
			w.publish(reg)
		}
	}
}
