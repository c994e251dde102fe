package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/blitze-fs/blitze/internal/indexer"
	"github.com/fsnotify/fsnotify"
)

// watchFolder watches inputFolder non-recursively (archives live flat in
// one directory) and emits a debounced stream of indexer.Events: bursts of
// fsnotify events on the same path within debounce are collapsed into one
// event, accumulating notifications and acting on them once they settle
// rather than reacting to every individual filesystem event.
func watchFolder(ctx context.Context, inputFolder string, debounce time.Duration, log *slog.Logger) (<-chan indexer.Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(inputFolder); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan indexer.Event, 16)

	go func() {
		defer watcher.Close()
		defer close(out)

		pending := map[string]indexer.Event{}
		var timer *time.Timer
		var timerC <-chan time.Time

		flush := func() {
			for _, ev := range pending {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			pending = map[string]indexer.Event{}
		}

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				path := filepath.Clean(ev.Name)
				removed := ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
				pending[path] = indexer.Event{Path: path, Removed: removed}

				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(debounce)
				timerC = timer.C

			case <-timerC:
				flush()
				timerC = nil

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("watch: fsnotify error", "error", err)
			}
		}
	}()

	return out, nil
}
