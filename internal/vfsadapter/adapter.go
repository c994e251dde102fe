// Package vfsadapter translates kernel FUSE callbacks into Catalog queries
// and Extraction Cache reads, presenting the indexed contents of a folder
// of .tar.gz archives as a read-only directory tree.
package vfsadapter

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/blitze-fs/blitze/internal/catalog"
	"github.com/blitze-fs/blitze/internal/extract"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// childKey identifies one directory entry by its parent inode and name, the
// same pairing the kernel uses for a lookup call.
type childKey struct {
	parent fuseops.InodeID
	name   string
}

type childVal struct {
	ino   fuseops.InodeID
	entry catalog.IndexedEntry
}

// Adapter implements fuseutil.FileSystem over a Catalog and an Extraction
// Cache. Every write-path operation is inherited from
// fuseutil.NotImplementedFileSystem and answers ENOSYS, since the mount is
// read-only.
//
// The runtime inode map below is deliberately unsynchronized: jacobsa/fuse
// serializes operations the kernel itself expects to be ordered, and this
// adapter is built around that guarantee rather than adding its own lock,
// matching the concurrency model the core is specified against.
type Adapter struct {
	fuseutil.NotImplementedFileSystem

	catalog *catalog.Catalog
	cache   *extract.Cache
	log     *slog.Logger

	nextArchiveIno fuseops.InodeID
	archiveIno     map[string]fuseops.InodeID // leaf -> small inode
	archiveByIno   map[fuseops.InodeID]catalog.ArchiveDescriptor

	children   map[childKey]childVal
	inoArchive map[fuseops.InodeID]catalog.ArchiveDescriptor
	inoEntry   map[fuseops.InodeID]catalog.IndexedEntry
}

var _ fuseutil.FileSystem = &Adapter{}

// New returns an Adapter ready to be wrapped with fuseutil.NewFileSystemServer.
func New(cat *catalog.Catalog, cache *extract.Cache, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		catalog:        cat,
		cache:          cache,
		log:            log,
		nextArchiveIno: catalog.FirstArchiveIno,
		archiveIno:     map[string]fuseops.InodeID{},
		archiveByIno:   map[fuseops.InodeID]catalog.ArchiveDescriptor{},
		children:       map[childKey]childVal{},
		inoArchive:     map[fuseops.InodeID]catalog.ArchiveDescriptor{},
		inoEntry:       map[fuseops.InodeID]catalog.IndexedEntry{},
	}
}

func (a *Adapter) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (a *Adapter) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

// archiveInoFor returns the small mount-root inode assigned to desc,
// minting one on first sight. Archive inodes are a purely runtime
// concept: the catalog never persists them (see catalog.Catalog.Catalog).
func (a *Adapter) archiveInoFor(desc catalog.ArchiveDescriptor) fuseops.InodeID {
	if ino, ok := a.archiveIno[desc.LeafName]; ok {
		return ino
	}
	ino := a.nextArchiveIno
	a.nextArchiveIno++
	a.archiveIno[desc.LeafName] = ino
	a.archiveByIno[ino] = desc
	return ino
}

// Every entry, directory or file, carries permission 0444, link count 2,
// and uid/gid 0 -- archive-member ownership and permission bits are
// deliberately not preserved or emulated on the mount surface.
func rootAttributes() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 2,
		Mode:  os.ModeDir | 0444,
		Mtime: time.Unix(0, 0),
	}
}

func entryAttributes(e catalog.IndexedEntry) fuseops.InodeAttributes {
	mode := os.FileMode(0444)
	size := uint64(0)
	mtime := time.Unix(0, 0)
	if e.IsFile {
		size = uint64(e.Size)
		mtime = time.Unix(e.ModTime, 0)
	} else {
		mode |= os.ModeDir
	}
	return fuseops.InodeAttributes{
		Nlink: 2,
		Mode:  mode,
		Size:  size,
		Mtime: mtime,
	}
}

// LookUpInode consults the runtime map for (parent, name). On a miss it
// responds with the parent's own inode and the mount root's default
// directory attributes rather than ENOENT, which would be the accurate
// answer for a name the directory does not hold -- a design quirk kept as
// documented rather than corrected.
func (a *Adapter) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	key := childKey{parent: op.Parent, name: op.Name}
	if cv, ok := a.children[key]; ok {
		op.Entry.Child = cv.ino
		op.Entry.Attributes = entryAttributes(cv.entry)
		return nil
	}

	op.Entry.Child = op.Parent
	op.Entry.Attributes = rootAttributes()
	return nil
}

func (a *Adapter) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	if op.Inode == fuseops.RootInodeID {
		op.Attributes = rootAttributes()
		return nil
	}
	if desc, ok := a.archiveByIno[op.Inode]; ok {
		_ = desc
		op.Attributes = rootAttributes()
		return nil
	}
	if e, ok := a.inoEntry[op.Inode]; ok {
		op.Attributes = entryAttributes(e)
		return nil
	}
	return fuse.ENOENT
}

func (a *Adapter) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	return nil
}

// ReadDir only serves offset == 0; pagination is not implemented, matching
// the documented limitation of the system this adapter is built against.
// Callers re-issuing with a nonzero offset get an empty reply instead of
// repeated entries.
func (a *Adapter) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	if op.Offset != 0 {
		return nil
	}

	var dirents []fuseutil.Dirent
	dirents = append(dirents,
		fuseutil.Dirent{Offset: 1, Inode: op.Inode, Name: ".", Type: fuseutil.DT_Directory},
		fuseutil.Dirent{Offset: 2, Inode: op.Inode, Name: "..", Type: fuseutil.DT_Directory},
	)

	switch {
	case op.Inode == fuseops.RootInodeID:
		descs, err := a.catalog.Catalogs()
		if err != nil {
			a.log.Error("readdir: catalogs", "error", err)
			return fuse.EIO
		}
		for _, desc := range descs {
			ino := a.archiveInoFor(desc)
			dirents = append(dirents, fuseutil.Dirent{
				Inode: ino,
				Name:  desc.LeafName,
				Type:  fuseutil.DT_Directory,
			})
			a.registerChild(op.Inode, desc.LeafName, ino, catalog.IndexedEntry{IsFile: false})
		}

	default:
		if desc, ok := a.archiveByIno[op.Inode]; ok {
			entries, err := a.catalog.Entries(desc.LeafName)
			if err != nil {
				a.log.Error("readdir: entries", "archive", desc.LeafName, "error", err)
				return fuse.EIO
			}
			for _, e := range entries {
				if e.Depth != 1 {
					continue
				}
				a.appendEntryDirent(&dirents, op.Inode, desc, e)
			}
		} else if desc, ok := a.inoArchive[op.Inode]; ok {
			kids, err := a.catalog.ChildrenInos(uint64(op.Inode))
			if err != nil {
				a.log.Error("readdir: children", "ino", op.Inode, "error", err)
				return fuse.EIO
			}
			entries, err := a.catalog.Entries(desc.LeafName)
			if err != nil {
				a.log.Error("readdir: entries", "archive", desc.LeafName, "error", err)
				return fuse.EIO
			}
			kidSet := map[uint64]bool{}
			for _, k := range kids {
				kidSet[k] = true
			}
			for _, e := range entries {
				if !kidSet[e.Ino] {
					continue
				}
				a.appendEntryDirent(&dirents, op.Inode, desc, e)
			}
		}
	}

	for i := range dirents {
		dirents[i].Offset = fuseops.DirOffset(i + 1)
	}

	for _, d := range dirents[minInt(int(op.Offset), len(dirents)):] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], d)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (a *Adapter) appendEntryDirent(dirents *[]fuseutil.Dirent, parent fuseops.InodeID, desc catalog.ArchiveDescriptor, e catalog.IndexedEntry) {
	ino := fuseops.InodeID(e.Ino)
	typ := fuseutil.DT_Directory
	if e.IsFile {
		typ = fuseutil.DT_File
	}
	name := leafOf(e.FullPath)
	*dirents = append(*dirents, fuseutil.Dirent{Inode: ino, Name: name, Type: typ})
	a.registerChild(parent, name, ino, e)
	a.inoArchive[ino] = desc
}

func (a *Adapter) registerChild(parent fuseops.InodeID, name string, ino fuseops.InodeID, e catalog.IndexedEntry) {
	a.children[childKey{parent: parent, name: name}] = childVal{ino: ino, entry: e}
	a.inoEntry[ino] = e
}

func leafOf(fullPath string) string {
	trimmed := fullPath
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == '/' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	for i := len(trimmed) - 1; i >= 0; i-- {
		if trimmed[i] == '/' {
			return trimmed[i+1:]
		}
	}
	return trimmed
}

func (a *Adapter) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	if _, ok := a.inoEntry[op.Inode]; !ok {
		return fuse.ENOENT
	}
	return nil
}

// ReadFile locates the entry by inode, materializes its whole body via the
// Extraction Cache, then serves the requested [offset, offset+size) window
// from the materialized bytes -- random windows into a gzipped, sequential
// archive member are otherwise impossible.
func (a *Adapter) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	entry, ok := a.inoEntry[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	if !entry.IsFile {
		return fuse.EIO
	}
	desc, ok := a.inoArchive[op.Inode]
	if !ok {
		return fuse.ENOENT
	}

	var buf writeBuffer
	if err := a.cache.Extract(desc, entry, &buf); err != nil {
		a.log.Error("readfile: extract", "archive", desc.LeafName, "member", entry.FullPath, "error", err)
		return fuse.EIO
	}

	data := buf.Bytes()
	if op.Offset > int64(len(data)) {
		op.BytesRead = 0
		return nil
	}
	data = data[op.Offset:]
	op.BytesRead = copy(op.Dst, data)
	return nil
}

// writeBuffer is an io.Writer that accumulates bytes, letting ReadFile reuse
// the Extraction Cache's streaming Extract signature without an intermediate
// temp file of its own.
type writeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (w *writeBuffer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *writeBuffer) Bytes() []byte { return w.buf }
