package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// encodeEntry renders an IndexedEntry as self-describing key=value text,
// one field per line, so each field can be parsed independently of the
// others -- this is what lets the bbolt value bytes double as ad hoc
// debugging output.
func encodeEntry(e IndexedEntry) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "fullpath=%s\n", e.FullPath)
	fmt.Fprintf(&b, "leaf=%s\n", e.LeafName)
	fmt.Fprintf(&b, "mtime=%d\n", e.ModTime)
	fmt.Fprintf(&b, "size=%d\n", e.Size)
	fmt.Fprintf(&b, "isfile=%t\n", e.IsFile)
	fmt.Fprintf(&b, "depth=%d\n", e.Depth)
	fmt.Fprintf(&b, "ino=%d\n", e.Ino)
	return []byte(b.String())
}

// decodeEntry parses the format encodeEntry produces.
func decodeEntry(data []byte) (IndexedEntry, error) {
	var e IndexedEntry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return e, fmt.Errorf("catalog: malformed entry line %q", line)
		}
		switch k {
		case "fullpath":
			e.FullPath = v
		case "leaf":
			e.LeafName = v
		case "mtime":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return e, fmt.Errorf("catalog: malformed mtime %q: %w", v, err)
			}
			e.ModTime = n
		case "size":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return e, fmt.Errorf("catalog: malformed size %q: %w", v, err)
			}
			e.Size = n
		case "isfile":
			e.IsFile = v == "true"
		case "depth":
			n, err := strconv.Atoi(v)
			if err != nil {
				return e, fmt.Errorf("catalog: malformed depth %q: %w", v, err)
			}
			e.Depth = n
		case "ino":
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return e, fmt.Errorf("catalog: malformed ino %q: %w", v, err)
			}
			e.Ino = n
		}
	}
	return e, nil
}

// splitEntryPath returns the leaf name and parent-bucket key for an
// archive-internal path. Directory paths carry their trailing slash, which
// is what lets a later child's parent key match the bucket key registered
// when the directory itself was indexed.
func splitEntryPath(full string) (leaf, parent string) {
	trimmed := strings.TrimSuffix(full, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 {
		return trimmed, ""
	}
	return trimmed[idx+1:], trimmed[:idx+1]
}

// entryDepth implements the normalization described in the indexing
// algorithm: depth is the slash count of the full path, plus one for
// regular files (whose archive header never carries a trailing slash).
func entryDepth(full string, isFile bool) int {
	depth := strings.Count(full, "/")
	if isFile {
		depth++
	}
	return depth
}
