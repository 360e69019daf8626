// Package watch turns filesystem change events on a few paths into a
// debounced callback.
package watch

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last event.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches files or directories and calls OnChange once a burst of
// writes settles.
type Watcher struct {
	watcher  *fsnotify.Watcher
	paths    []string
	onChange func()
	debounce time.Duration
	log      *zap.Logger
}

// New creates a watcher for the given paths. Paths that do not exist are
// skipped; Paths reports what is actually watched.
func New(paths []string, onChange func(), debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	var watched []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", p, err)
		}
		watched = append(watched, p)
	}

	return &Watcher{
		watcher:  watcher,
		paths:    watched,
		onChange: onChange,
		debounce: debounce,
		log:      log,
	}, nil
}

// Paths returns the paths being watched.
func (w *Watcher) Paths() []string {
	return w.paths
}

// Run delivers debounced change callbacks. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		mu       sync.Mutex
		debounce *time.Timer
	)
	stop := func() {
		mu.Lock()
		if debounce != nil {
			debounce.Stop()
		}
		mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				stop()
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.log.Debug("watched path changed", zap.String("path", event.Name), zap.Stringer("op", event.Op))
				mu.Lock()
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(w.debounce, w.onChange)
				mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				stop()
				return nil
			}
			w.log.Warn("file watcher error", zap.Error(err))
		}
	}
}
