// Package catalog indexes a folder of .tar.gz archives into a persistent
// store, assigning every archive and every archive member a stable virtual
// inode number that never changes or gets reused for the lifetime of the
// store.
package catalog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blitze-fs/blitze/internal/archive"
	"github.com/blitze-fs/blitze/internal/store"
)

const tarTreePrefix = "tar::"

// Catalog is the persistent index of archives and their members. All public
// methods take a single mutex for their duration; the catalog does not
// support finer-grained concurrency because indexing runs are rare and
// short relative to filesystem traffic.
type Catalog struct {
	mu          sync.Mutex
	store       *store.Store
	inputFolder string
	log         *slog.Logger
}

// New wraps a store opened against the given input folder. The store is
// not owned by the Catalog; callers close it themselves.
func New(s *store.Store, inputFolder string, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{store: s, inputFolder: inputFolder, log: log}
}

func inoString(ino uint64) []byte { return []byte(strconv.FormatUint(ino, 10)) }

func parseIno(b []byte) (uint64, error) {
	return strconv.ParseUint(string(b), 10, 64)
}

func (c *Catalog) nextIno(key string, initial uint64) (uint64, error) {
	v, ok, err := c.store.Get(defaultTree, []byte(key))
	if err != nil {
		return 0, &StoreIOError{Err: err}
	}
	last := initial
	if ok {
		last, err = parseIno(v)
		if err != nil {
			return 0, &StoreIOError{Err: err}
		}
	}
	last++
	if err := c.store.Put(defaultTree, []byte(key), inoString(last)); err != nil {
		return 0, &StoreIOError{Err: err}
	}
	return last, nil
}

// IsIndexed reports whether archive is already present in the catalog,
// i.e. whether its tar:: subtree holds at least one key.
func (c *Catalog) IsIndexed(leaf string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isIndexedLocked(leaf)
}

func (c *Catalog) isIndexedLocked(leaf string) (bool, error) {
	n, err := c.store.Count(treeName(leaf))
	if err != nil {
		return false, &StoreIOError{Err: err}
	}
	return n > 0, nil
}

// Catalog indexes the archive at path, minting a fresh inode for the
// archive's notional root bucket and for every member it contains. It is a no-op error
// (SkipError) if path is not a regular file, does not carry a .tar.gz
// leaf name, or is already indexed.
//
// If the archive's headers cannot be read past some point, any subtree
// already written for it is rolled back before ArchiveMalformedError is
// returned, so a half-indexed archive never lingers in the store.
func (c *Catalog) Catalog(path string) (ArchiveDescriptor, error) {
	leaf := filepath.Base(path)
	if !archive.HasArchiveExtension(leaf) {
		return ArchiveDescriptor{}, &SkipError{Path: path, Reason: SkipWrongExtension}
	}

	fi, err := os.Stat(path)
	if err != nil {
		return ArchiveDescriptor{}, &SkipError{Path: path, Reason: SkipNotAFile}
	}
	if !fi.Mode().IsRegular() {
		return ArchiveDescriptor{}, &SkipError{Path: path, Reason: SkipNotAFile}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if indexed, err := c.isIndexedLocked(leaf); err != nil {
		return ArchiveDescriptor{}, err
	} else if indexed {
		return ArchiveDescriptor{}, &SkipError{Path: path, Reason: SkipAlreadyIndexed}
	}

	// A fresh inode reserved purely as the notional root bucket for this
	// archive's top-level (depth == 1) entries. It is never exposed as a
	// filesystem inode -- the VFS Adapter mints its own small inode for an
	// archive's mount-root directory entry and lists depth-1 members by
	// filtering entries(), not by looking up this bucket.
	rootBucketIno, err := c.nextIno(lastInoKey, initialLastIno)
	if err != nil {
		return ArchiveDescriptor{}, err
	}

	r, err := archive.Open(path)
	if err != nil {
		return ArchiveDescriptor{}, &ArchiveMalformedError{Archive: leaf, Err: err}
	}
	defer r.Close()

	tree := treeName(leaf)
	children := map[uint64][]uint64{}
	var writtenInoTrees []uint64

	rollback := func() {
		_ = c.store.Drop(tree)
		for _, ino := range writtenInoTrees {
			_ = c.store.Drop(inoTreeName(ino))
		}
	}

	for {
		hdr, body, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			rollback()
			return ArchiveDescriptor{}, &ArchiveMalformedError{Archive: leaf, Err: err}
		}

		entryIno, err := c.nextIno(lastInoKey, initialLastIno)
		if err != nil {
			rollback()
			return ArchiveDescriptor{}, err
		}

		depth := entryDepth(hdr.Path, hdr.Kind == archive.KindFile)
		entry := IndexedEntry{
			FullPath: hdr.Path,
			LeafName: leaf,
			ModTime:  hdr.ModTime,
			Size:     hdr.Size,
			IsFile:   hdr.Kind == archive.KindFile,
			Depth:    depth,
			Ino:      entryIno,
		}

		if err := c.store.Put(tree, []byte(entry.FullPath), encodeEntry(entry)); err != nil {
			rollback()
			return ArchiveDescriptor{}, &StoreIOError{Err: err}
		}

		_, parentPath := splitEntryPath(hdr.Path)
		parentIno := rootBucketIno
		linked := true
		if parentPath != "" {
			parentIno, linked, err = c.resolveParentIno(tree, parentPath)
			if err != nil {
				rollback()
				return ArchiveDescriptor{}, err
			}
		}
		// An archive member whose parent directory header never appeared
		// (or appears later in the stream) is still indexed and
		// downloadable by full path, just orphaned from any parent's
		// child listing -- it will never show up in a ReadDir.
		if linked {
			children[parentIno] = append(children[parentIno], entryIno)
		}

		if hdr.Kind == archive.KindFile && body != nil {
			if _, err := io.Copy(io.Discard, body); err != nil {
				rollback()
				return ArchiveDescriptor{}, &ArchiveMalformedError{Archive: leaf, Err: err}
			}
		}
	}

	for parentIno, kids := range children {
		childTree := inoTreeName(parentIno)
		writtenInoTrees = append(writtenInoTrees, parentIno)
		for _, kid := range kids {
			if err := c.store.Put(childTree, inoString(kid), inoString(kid)); err != nil {
				rollback()
				return ArchiveDescriptor{}, &StoreIOError{Err: err}
			}
		}
	}

	if err := c.store.Flush(); err != nil {
		return ArchiveDescriptor{}, &StoreIOError{Err: err}
	}

	c.log.Info("catalogued archive", "leaf", leaf, "members", memberCount(children))
	return ArchiveDescriptor{LeafName: leaf, Path: path}, nil
}

func memberCount(children map[uint64][]uint64) int {
	n := 0
	for _, kids := range children {
		n += len(kids)
	}
	return n
}

// resolveParentIno looks up the inode already assigned to the directory
// entry at parentPath within tree. Archive members usually arrive
// depth-first from tar headers, so the directory header for parentPath
// has typically already been written by the time a child under it is
// seen -- but a malformed or unusual archive can list a child before its
// parent directory's own header. When that happens this reports
// ok=false rather than failing the whole archive: the child entry is
// still indexed, just not linked into any parent's child list.
func (c *Catalog) resolveParentIno(tree, parentPath string) (ino uint64, ok bool, err error) {
	v, found, err := c.store.Get(tree, []byte(parentPath))
	if err != nil {
		return 0, false, &StoreIOError{Err: err}
	}
	if !found {
		return 0, false, nil
	}
	e, err := decodeEntry(v)
	if err != nil {
		return 0, false, &StoreIOError{Err: err}
	}
	return e.Ino, true, nil
}

func inoTreeName(ino uint64) string { return "inotree::" + strconv.FormatUint(ino, 10) }

// Catalogs enumerates every subtree whose name begins with "tar::",
// strips the prefix, and returns the descriptor built from each leaf name.
func (c *Catalog) Catalogs() ([]ArchiveDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.store.Trees()
	if err != nil {
		return nil, &StoreIOError{Err: err}
	}

	var out []ArchiveDescriptor
	for _, name := range names {
		if !strings.HasPrefix(name, tarTreePrefix) {
			continue
		}
		leaf := strings.TrimPrefix(name, tarTreePrefix)
		out = append(out, ArchiveDescriptor{
			LeafName: leaf,
			Path:     filepath.Join(c.inputFolder, leaf),
		})
	}
	return out, nil
}

// Stats reports the aggregate counters C10's metrics gauges sample:
// number of catalogued archives, total indexed entries across all of
// them, and the most recently minted inode number.
type Stats struct {
	Archives int
	Entries  int
	LastIno  uint64
}

func (c *Catalog) Stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.store.Trees()
	if err != nil {
		return Stats{}, &StoreIOError{Err: err}
	}

	var stats Stats
	for _, name := range names {
		if !strings.HasPrefix(name, tarTreePrefix) {
			continue
		}
		stats.Archives++
		n, err := c.store.Count(name)
		if err != nil {
			return Stats{}, &StoreIOError{Err: err}
		}
		stats.Entries += n
	}

	v, ok, err := c.store.Get(defaultTree, []byte(lastInoKey))
	if err != nil {
		return Stats{}, &StoreIOError{Err: err}
	}
	if ok {
		stats.LastIno, err = parseIno(v)
		if err != nil {
			return Stats{}, &StoreIOError{Err: err}
		}
	}
	return stats, nil
}

// Entries returns every member indexed for archive, in no particular
// order.
func (c *Catalog) Entries(archiveLeaf string) ([]IndexedEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []IndexedEntry
	err := c.store.Iterate(treeName(archiveLeaf), func(_, v []byte) error {
		e, err := decodeEntry(v)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, &StoreIOError{Err: err}
	}
	return out, nil
}

// Entry looks up a single member of archiveLeaf by its full in-archive
// path.
func (c *Catalog) Entry(archiveLeaf, fullPath string) (IndexedEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok, err := c.store.Get(treeName(archiveLeaf), []byte(fullPath))
	if err != nil {
		return IndexedEntry{}, false, &StoreIOError{Err: err}
	}
	if !ok {
		return IndexedEntry{}, false, nil
	}
	e, err := decodeEntry(v)
	if err != nil {
		return IndexedEntry{}, false, &StoreIOError{Err: err}
	}
	return e, true, nil
}

// ChildrenInos returns the inodes directly beneath parentIno, as recorded
// at index time. The set is empty, never an error, for an inode with no
// registered children.
func (c *Catalog) ChildrenInos(parentIno uint64) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []uint64
	err := c.store.Iterate(inoTreeName(parentIno), func(k, _ []byte) error {
		ino, err := parseIno(k)
		if err != nil {
			return err
		}
		out = append(out, ino)
		return nil
	})
	if err != nil {
		return nil, &StoreIOError{Err: err}
	}
	return out, nil
}

// Burn removes an archive's own member tree and its entry in the archive
// index, so it can be re-catalogued from scratch with fresh inodes. The
// inotree:: buckets keyed by the archive's former member inodes are left
// behind; nothing ever looks them up again once their owning archive is
// burned, so they are harmless clutter rather than a correctness issue;
// nothing reclaims them.
func (c *Catalog) Burn(leaf string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Drop(treeName(leaf)); err != nil {
		return &StoreIOError{Err: err}
	}
	if err := c.store.Flush(); err != nil {
		return &StoreIOError{Err: err}
	}
	return nil
}
