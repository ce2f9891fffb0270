package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// RouteWatcher emits the raw route-table bytes whenever the routes
// file changes on disk, debouncing rapid saves. The consumer parses
// and swaps; a file that fails to parse leaves the old table in place.
type RouteWatcher struct {
	updates chan []byte
	done    chan struct{}
	once    sync.Once
	fsw     *fsnotify.Watcher
}

func (w *RouteWatcher) Updates() <-chan []byte { return w.updates }

func (w *RouteWatcher) Close() {
	w.once.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

// WatchRoutes starts watching the routes file. It does not read the
// file up front; callers load the initial table through a FileLoader.
func WatchRoutes(path string, log *zap.SugaredLogger) (*RouteWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch routes file: %w", err)
	}

	w := &RouteWatcher{
		updates: make(chan []byte, 1),
		done:    make(chan struct{}),
		fsw:     fsw,
	}
	loader := &FileLoader{Path: path}

	go func() {
		// debounce rapid saves
		var debounce <-chan time.Time
		for {
			select {
			case <-w.done:
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					debounce = time.After(200 * time.Millisecond)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warnw("fsnotify error", "err", err)
			case <-debounce:
				debounce = nil
				data, err := loader.Load(context.Background())
				if err != nil {
					log.Warnw("routes reload read failed, keeping old table", "err", err)
					continue
				}
				// non-blocking send; drop if nobody is consuming fast enough
				select {
				case w.updates <- data:
				default:
				}
			}
		}
	}()

	return w, nil
}
