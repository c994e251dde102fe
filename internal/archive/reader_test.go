package archive_test

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blitze-fs/blitze/internal/archive"
	"github.com/stretchr/testify/require"
)

type fixtureEntry struct {
	name    string
	body    string
	isDir   bool
	modTime time.Time
}

func writeFixture(t *testing.T, path string, entries []fixtureEntry) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		hdr := &tar.Header{
			Name:    e.name,
			ModTime: e.modTime,
		}
		if e.isDir {
			hdr.Typeflag = tar.TypeDir
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.isDir {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func TestReaderYieldsEntriesInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tar.gz")
	mt := time.Unix(1000, 0)
	writeFixture(t, path, []fixtureEntry{
		{name: "x/", isDir: true, modTime: mt},
		{name: "x/y.txt", body: "hello", modTime: mt},
		{name: "z.txt", body: "hi", modTime: time.Unix(2000, 0)},
	})

	r, err := archive.Open(path)
	require.NoError(t, err)
	defer r.Close()

	var headers []*archive.Header
	for {
		hdr, body, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if body != nil {
			_, _ = io.ReadAll(body)
		}
		headers = append(headers, hdr)
	}

	require.Len(t, headers, 3)
	require.Equal(t, "x/", headers[0].Path)
	require.Equal(t, archive.KindDir, headers[0].Kind)
	require.Equal(t, "x/y.txt", headers[1].Path)
	require.Equal(t, archive.KindFile, headers[1].Kind)
	require.EqualValues(t, 5, headers[1].Size)
	require.Equal(t, "z.txt", headers[2].Path)
}

func TestOpenRejectsWrongExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	_, err := archive.Open(path)
	require.ErrorIs(t, err, archive.ErrNotAnArchive)
}

func TestOpenRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub.tar.gz")
	require.NoError(t, os.Mkdir(sub, 0o755))

	_, err := archive.Open(sub)
	require.ErrorIs(t, err, archive.ErrNotAFile)
}

func TestReaderBodyContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tar.gz")
	writeFixture(t, path, []fixtureEntry{
		{name: "y.txt", body: "hello", modTime: time.Unix(1000, 0)},
	})

	r, err := archive.Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, body, err := r.Next()
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	_, _, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}
