// Package extract lazily materializes individual archive members to local
// cache files, so random-access reads never have to reseek into a
// compressed, stream-only archive more than once per member.
package extract

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/blitze-fs/blitze/internal/archive"
	"github.com/blitze-fs/blitze/internal/catalog"
	"github.com/gofrs/flock"
)

// ErrMemberNotFound is returned when the requested entry's path does not
// appear in the archive during a materializing scan, even though the
// catalog believed it was there.
var ErrMemberNotFound = errors.New("extract: member not found in archive")

// ExtractFailedError wraps any I/O failure while materializing a member.
type ExtractFailedError struct {
	Archive string
	Member  string
	Err     error
}

func (e *ExtractFailedError) Error() string {
	return fmt.Sprintf("extract: %s:%s: %v", e.Archive, e.Member, e.Err)
}

func (e *ExtractFailedError) Unwrap() error { return e.Err }

// Cache materializes archive members to a flat directory of cache files,
// keyed by archive leaf name and member path.
type Cache struct {
	dir string
	log *slog.Logger

	// OnMiss, when set, is called when an Extract call has to materialize
	// the member; OnHit, when set, is called each time the sink is served
	// from the cache file, so a first call reports one miss and one hit.
	// Metrics (C10)
	// wires these to its cache-hit/cache-miss counters; nil is a valid,
	// no-op default.
	OnHit  func()
	OnMiss func()
}

// New returns a Cache rooted at dir. dir is created if it does not exist.
func New(dir string, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("extract: create cache dir %s: %w", dir, err)
	}
	return &Cache{dir: dir, log: log}, nil
}

// cacheKey flattens an archive leaf name and a member's full in-archive
// path into a single file name. Slashes are stripped rather than escaped,
// which means two member paths that differ only in where their slashes
// fall collide on the same cache file -- a known, documented limitation,
// not a bug to be fixed here.
func (c *Cache) cacheKey(archiveLeaf, memberPath string) string {
	flat := strings.ReplaceAll(memberPath, "/", "")
	return filepath.Join(c.dir, archiveLeaf+"_"+flat)
}

// Extract streams entry's contents to sink, materializing it to a cache
// file on first request and serving every later request straight from
// that file.
func (c *Cache) Extract(desc catalog.ArchiveDescriptor, entry catalog.IndexedEntry, sink io.Writer) error {
	key := c.cacheKey(desc.LeafName, entry.FullPath)

	if f, err := os.Open(key); err == nil {
		defer f.Close()
		c.hit()
		if _, err := io.Copy(sink, f); err != nil {
			return &ExtractFailedError{Archive: desc.LeafName, Member: entry.FullPath, Err: err}
		}
		return nil
	} else if !os.IsNotExist(err) {
		return &ExtractFailedError{Archive: desc.LeafName, Member: entry.FullPath, Err: err}
	}

	lock := flock.New(key + ".lock")
	if err := lock.Lock(); err != nil {
		return &ExtractFailedError{Archive: desc.LeafName, Member: entry.FullPath, Err: err}
	}
	defer lock.Unlock()

	// Another goroutine may have materialized the file while we waited for
	// the lock.
	if f, err := os.Open(key); err == nil {
		defer f.Close()
		c.hit()
		if _, err := io.Copy(sink, f); err != nil {
			return &ExtractFailedError{Archive: desc.LeafName, Member: entry.FullPath, Err: err}
		}
		return nil
	}

	c.miss()
	if err := c.materialize(desc, entry, key); err != nil {
		return err
	}

	// Recurse so the sink is served from the freshly written cache file by
	// the same code path a cache hit takes, guaranteeing byte-identical
	// results between the first and every later extract of this member.
	return c.Extract(desc, entry, sink)
}

func (c *Cache) hit() {
	if c.OnHit != nil {
		c.OnHit()
	}
}

func (c *Cache) miss() {
	if c.OnMiss != nil {
		c.OnMiss()
	}
}

// materialize scans desc's archive in order, writing the matching
// member's body to a temp file and renaming it into place so no partial
// file is ever observable at key.
func (c *Cache) materialize(desc catalog.ArchiveDescriptor, entry catalog.IndexedEntry, key string) error {
	r, err := archive.Open(desc.Path)
	if err != nil {
		return &ExtractFailedError{Archive: desc.LeafName, Member: entry.FullPath, Err: err}
	}
	defer r.Close()

	tmp := key + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return &ExtractFailedError{Archive: desc.LeafName, Member: entry.FullPath, Err: err}
	}

	found := false
	for {
		hdr, body, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return &ExtractFailedError{Archive: desc.LeafName, Member: entry.FullPath, Err: err}
		}
		if hdr.Path != entry.FullPath {
			continue
		}
		found = true
		if _, err := io.Copy(out, body); err != nil {
			out.Close()
			os.Remove(tmp)
			return &ExtractFailedError{Archive: desc.LeafName, Member: entry.FullPath, Err: err}
		}
		break
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return &ExtractFailedError{Archive: desc.LeafName, Member: entry.FullPath, Err: err}
	}
	if !found {
		os.Remove(tmp)
		return &ExtractFailedError{Archive: desc.LeafName, Member: entry.FullPath, Err: ErrMemberNotFound}
	}

	if err := os.Rename(tmp, key); err != nil {
		os.Remove(tmp)
		return &ExtractFailedError{Archive: desc.LeafName, Member: entry.FullPath, Err: err}
	}

	c.log.Debug("materialized archive member", "archive", desc.LeafName, "member", entry.FullPath, "size", entry.Size)
	return nil
}
