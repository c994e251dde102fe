package store_test

import (
	"path/filepath"
	"testing"

	"github.com/blitze-fs/blitze/internal/store"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blitze.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("tar::a.tar.gz", []byte("x/y.txt"), []byte("entry-data")))

	v, ok, err := s.Get("tar::a.tar.gz", []byte("x/y.txt"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "entry-data", string(v))

	_, ok, err = s.Get("tar::a.tar.gz", []byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.Get("tar::missing", []byte("x"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIterateOrdered(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("t", []byte("b"), []byte("2")))
	require.NoError(t, s.Put("t", []byte("a"), []byte("1")))
	require.NoError(t, s.Put("t", []byte("c"), []byte("3")))

	var keys []string
	require.NoError(t, s.Iterate("t", func(k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	}))

	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestDropRemovesTree(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("tar::a.tar.gz", []byte("k"), []byte("v")))

	n, err := s.Count("tar::a.tar.gz")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, s.Drop("tar::a.tar.gz"))

	n, err = s.Count("tar::a.tar.gz")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestTreesEnumeratesNames(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("tar::a.tar.gz", []byte("k"), []byte("v")))
	require.NoError(t, s.Put("inotree::5", []byte("20001"), []byte("20001")))

	names, err := s.Trees()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"tar::a.tar.gz", "inotree::5"}, names)
}

func TestFlushDoesNotError(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("t", []byte("k"), []byte("v")))
	require.NoError(t, s.Flush())
}
