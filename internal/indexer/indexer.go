// Package indexer drives the catalog from a stream of changed paths. It is
// the thin consumer side of the change-watch collaborator: internal/catalog
// never imports fsnotify, only this package and cmd do, preserving the
// core/collaborator scope boundary.
package indexer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/blitze-fs/blitze/internal/catalog"
)

// Loop consumes paths from changes until ctx is done or the channel is
// closed. A new path is catalogued; a path whose archive is already in the
// catalog is skipped, so an archive modified in place keeps its existing
// index. A removed path is burned, so a subsequent re-create is catalogued
// again with fresh inodes. Every Catalog/Burn
// error is logged and the loop continues to the next path, matching the
// "indexer threads log and continue" propagation policy.
type Loop struct {
	catalog *catalog.Catalog
	log     *slog.Logger

	onIndexed func(catalog.ArchiveDescriptor, int)
}

func New(cat *catalog.Catalog, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{catalog: cat, log: log}
}

// OnIndexed registers a callback invoked after each successful Catalog
// call, letting cmd wire metrics without the indexer importing metrics
// itself.
func (l *Loop) OnIndexed(fn func(catalog.ArchiveDescriptor, int)) {
	l.onIndexed = fn
}

// Event describes one observed filesystem change.
type Event struct {
	Path    string
	Removed bool
}

func (l *Loop) Run(ctx context.Context, changes <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			l.handle(ev)
		}
	}
}

func (l *Loop) handle(ev Event) {
	leaf := leafOf(ev.Path)

	if ev.Removed {
		if err := l.catalog.Burn(leaf); err != nil {
			l.log.Error("indexer: burn failed", "path", ev.Path, "error", err)
		}
		return
	}

	desc, err := l.catalog.Catalog(ev.Path)
	if err != nil {
		var skip *catalog.SkipError
		if errors.As(err, &skip) {
			l.log.Warn("indexer: skipped", "path", ev.Path, "reason", skip.Reason)
			return
		}
		l.log.Error("indexer: catalog failed", "path", ev.Path, "error", err)
		return
	}

	entries, err := l.catalog.Entries(desc.LeafName)
	if err != nil {
		l.log.Error("indexer: entries failed", "archive", desc.LeafName, "error", err)
		return
	}

	if l.onIndexed != nil {
		l.onIndexed(desc, len(entries))
	}
}

func leafOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
