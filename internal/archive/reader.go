// Package archive provides a streaming, forward-only reader over gzipped
// tape archives. It is the Archive Reader component: it never seeks, and it
// hands each entry's body to the caller as an io.Reader that must be
// consumed (or discarded) before the next call to Next.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var (
	// ErrNotAnArchive is returned when the leaf name does not end in .tar.gz.
	ErrNotAnArchive = errors.New("archive: not a .tar.gz file")
	// ErrNotAFile is returned when the path does not name a regular file.
	ErrNotAFile = errors.New("archive: not a regular file")
)

// IoError wraps an underlying read failure from the gzip or tar layer.
type IoError struct {
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("archive: io error: %v", e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// Kind distinguishes a regular file entry from a directory entry.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

// Header describes one entry of an archive, independent of tar's own
// on-disk representation.
type Header struct {
	// Path is the entry's full path exactly as stored in the archive,
	// including any trailing slash for directories.
	Path string
	Kind Kind
	Size int64
	// ModTime is seconds since the epoch, matching the granularity the
	// catalog persists.
	ModTime int64
}

// HasArchiveExtension reports whether name ends in ".tar.gz", the only
// extension the catalog will index.
func HasArchiveExtension(name string) bool {
	return strings.HasSuffix(name, ".tar.gz")
}

// Reader yields archive entries in declaration order. It is single-pass:
// once Next has been called, the previous entry's body reader is no longer
// valid to read from.
type Reader struct {
	file *os.File
	gz   *gzip.Reader
	tr   *tar.Reader
}

// Open validates path and prepares it for streaming. The file is not read
// until the first call to Next.
func Open(path string) (*Reader, error) {
	if !HasArchiveExtension(leafName(path)) {
		return nil, ErrNotAnArchive
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &IoError{Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotAFile
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &IoError{Err: err}
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, &IoError{Err: err}
	}

	return &Reader{file: f, gz: gz, tr: tar.NewReader(gz)}, nil
}

// Next advances to the next entry, returning io.EOF once the archive is
// exhausted. The returned io.Reader is only valid until the next call to
// Next or Close.
func (r *Reader) Next() (*Header, io.Reader, error) {
	th, err := r.tr.Next()
	if err == io.EOF {
		return nil, nil, io.EOF
	}
	if err != nil {
		return nil, nil, &IoError{Err: err}
	}

	kind := KindFile
	if th.Typeflag == tar.TypeDir || strings.HasSuffix(th.Name, "/") {
		kind = KindDir
	}

	hdr := &Header{
		Path:    th.Name,
		Kind:    kind,
		Size:    th.Size,
		ModTime: th.ModTime.Unix(),
	}

	return hdr, r.tr, nil
}

// Close releases the underlying file and gzip stream.
func (r *Reader) Close() error {
	gzErr := r.gz.Close()
	fErr := r.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}

func leafName(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}
