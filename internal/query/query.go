// Package query implements the TCP query surface's Handler over a Catalog
// and Extraction Cache, kept separate from tcpserver so the TCP surface
// itself depends only on a narrow interface, not on concrete catalog/cache
// types.
package query

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/blitze-fs/blitze/internal/catalog"
	"github.com/blitze-fs/blitze/internal/extract"
)

type Handler struct {
	Catalog *catalog.Catalog
	Cache   *extract.Cache
	Log     *slog.Logger
}

func New(cat *catalog.Catalog, cache *extract.Cache, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Catalog: cat, Cache: cache, Log: log}
}

// Search implements "/search/<text>": for every catalogued archive, for
// every entry (file or directory) whose leaf name contains text, emit
// "<archive-leaf>:<entry-full-path>".
func (h *Handler) Search(text string) []string {
	descs, err := h.Catalog.Catalogs()
	if err != nil {
		h.Log.Error("query: search: catalogs", "error", err)
		return nil
	}

	var results []string
	for _, desc := range descs {
		entries, err := h.Catalog.Entries(desc.LeafName)
		if err != nil {
			h.Log.Error("query: search: entries", "archive", desc.LeafName, "error", err)
			continue
		}
		for _, e := range entries {
			if strings.Contains(leafOf(e.FullPath), text) {
				results = append(results, fmt.Sprintf("%s:%s", desc.LeafName, e.FullPath))
			}
		}
	}
	return results
}

// Download implements "/download/<archive-leaf>:<entry-full-path>".
func (h *Handler) Download(archiveLeaf, entryPath string, w io.Writer) error {
	entry, ok, err := h.Catalog.Entry(archiveLeaf, entryPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("query: %s:%s: %w", archiveLeaf, entryPath, catalog.ErrNotFound)
	}

	descs, err := h.Catalog.Catalogs()
	if err != nil {
		return err
	}
	var desc catalog.ArchiveDescriptor
	found := false
	for _, d := range descs {
		if d.LeafName == archiveLeaf {
			desc = d
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("query: archive %q: %w", archiveLeaf, catalog.ErrNotFound)
	}

	return h.Cache.Extract(desc, entry, w)
}

func leafOf(fullPath string) string {
	trimmed := strings.TrimSuffix(fullPath, "/")
	if idx := strings.LastIndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
