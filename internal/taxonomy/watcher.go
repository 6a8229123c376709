package taxonomy

import (
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/kviflow/kviflow/internal/core"
	"github.com/kviflow/kviflow/internal/logging"
)

// Watcher serves the current taxonomy snapshot and reloads it when the
// backing file changes. Lookups always hit a consistent snapshot; a
// reload swaps the pointer atomically.
type Watcher struct {
	path    string
	current atomic.Pointer[Taxonomy]
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	done    chan struct{}
}

// NewWatcher loads the taxonomy file and starts watching it for changes.
func NewWatcher(path string, logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	t, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors and atomic writers replace the file
	// rather than writing it in place.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		logger:  logger,
		done:    make(chan struct{}),
	}
	w.current.Store(t)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			t, err := LoadFile(w.path)
			if err != nil {
				w.logger.Error("taxonomy reload failed, keeping previous data",
					"path", w.path, "error", err)
				continue
			}
			w.current.Store(t)
			w.logger.Info("taxonomy reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("taxonomy watch error", "error", err)
		}
	}
}

// Close stops watching. The last loaded snapshot stays readable.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

// Current returns the active taxonomy snapshot.
func (w *Watcher) Current() *Taxonomy {
	return w.current.Load()
}

// CategoryNames implements core.ReferenceData.
func (w *Watcher) CategoryNames(mainID, subID string) (string, string) {
	return w.Current().CategoryNames(mainID, subID)
}

// Describe implements core.ReferenceData.
func (w *Watcher) Describe(mainID, subID string) string {
	return w.Current().Describe(mainID, subID)
}

// Indicators implements core.ReferenceData.
func (w *Watcher) Indicators(mainID, subID string) []core.TaxonomyIndicator {
	return w.Current().Indicators(mainID, subID)
}

// Overview implements core.ReferenceData.
func (w *Watcher) Overview() string {
	return w.Current().Overview()
}

var _ core.ReferenceData = (*Watcher)(nil)
var _ core.ReferenceData = (*Taxonomy)(nil)
