package catalog

// Inode range boundaries, per the virtual inode scheme: 1 is the mount
// root, 2..19999 are archive directories, 20000.. are indexed entries.
const (
	RootIno         uint64 = 1
	FirstArchiveIno uint64 = 2
	LastArchiveIno  uint64 = 19999
	FirstEntryIno   uint64 = 20000
	initialLastIno  uint64 = FirstEntryIno - 1
)

const lastInoKey = "last_ino"
const defaultTree = "default"

// ArchiveDescriptor identifies a catalogued archive by its stable leaf name
// and its full on-disk path. Two archives with the same leaf name collide;
// the leaf name, not the path, is the catalog key.
type ArchiveDescriptor struct {
	LeafName string
	Path     string
}

func treeName(leaf string) string { return "tar::" + leaf }

// IndexedEntry represents one member of one archive.
type IndexedEntry struct {
	FullPath string
	LeafName string
	ModTime  int64
	Size     int64
	IsFile   bool
	Depth    int
	Ino      uint64
}
