// Package watcher reports debounced changes to individual files.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"pm-assistant/internal/logging"
)

const defaultDebounce = 500 * time.Millisecond

// ChangeCallback is called with the watched path after a burst of writes
// settles.
type ChangeCallback func(path string)

// Watcher monitors files for changes.
type Watcher struct {
	mu       sync.Mutex
	watchers map[string]*fileWatcher // absolute path → watcher
	debounce time.Duration
	callback ChangeCallback
	log      *zap.Logger
}

type fileWatcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
}

// New creates a watcher. A debounce of zero uses 500ms.
func New(debounce time.Duration, callback ChangeCallback, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		watchers: make(map[string]*fileWatcher),
		debounce: debounce,
		callback: callback,
		log:      logging.OrNop(logger),
	}
}

// Watch starts watching path. The parent directory is watched so that
// editors that replace the file on save are still noticed.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	w.mu.Lock()
	if _, ok := w.watchers[abs]; ok {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsW.Add(filepath.Dir(abs)); err != nil {
		fsW.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	fw := &fileWatcher{
		path:      abs,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
	}

	w.mu.Lock()
	w.watchers[abs] = fw
	w.mu.Unlock()

	go w.watchLoop(fw)
	return nil
}

// Unwatch stops watching path.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	fw, ok := w.watchers[abs]
	if ok {
		delete(w.watchers, abs)
	}
	w.mu.Unlock()

	if ok {
		close(fw.cancel)
		fw.fsWatcher.Close()
	}
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(fw *fileWatcher) {
	var timer *time.Timer

	for {
		select {
		case <-fw.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fw.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case <-fw.cancel:
					return
				default:
				}
				if w.callback != nil {
					w.callback(fw.path)
				}
			})

		case err, ok := <-fw.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.String("path", fw.path), zap.Error(err))
		}
	}
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.watchers))
	for p := range w.watchers {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, p := range paths {
		w.Unwatch(p)
	}
}
