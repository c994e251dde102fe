package tcpserver_test

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/blitze-fs/blitze/internal/tcpserver"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	searchResults map[string][]string
	downloads     map[string]string
}

func (f *fakeHandler) Search(text string) []string {
	return f.searchResults[text]
}

func (f *fakeHandler) Download(archiveLeaf, entryPath string, w io.Writer) error {
	body, ok := f.downloads[archiveLeaf+":"+entryPath]
	if !ok {
		return fmt.Errorf("not found: %s:%s", archiveLeaf, entryPath)
	}
	_, err := w.Write([]byte(body))
	return err
}

func startServer(t *testing.T, h *fakeHandler) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := tcpserver.New(addr, h, nil)
	go func() { _ = srv.ListenAndServe() }()
	t.Cleanup(func() { _ = srv.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			_ = conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return addr
}

func TestSearchCommandStreamsResults(t *testing.T) {
	h := &fakeHandler{searchResults: map[string][]string{
		"report": {"a.tar.gz:report.pdf", "b.tar.gz:old-report.txt"},
	}}
	addr := startServer(t, h)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "/search/report\n")
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())
	require.Equal(t, "a.tar.gz:report.pdf", scanner.Text())
	require.True(t, scanner.Scan())
	require.Equal(t, "b.tar.gz:old-report.txt", scanner.Text())
}

func TestDownloadCommandStreamsBytesThenCloses(t *testing.T) {
	h := &fakeHandler{downloads: map[string]string{
		"a.tar.gz:report.pdf": "pdf bytes here",
	}}
	addr := startServer(t, h)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "/download/a.tar.gz:report.pdf\n")
	require.NoError(t, err)

	body, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "pdf bytes here", string(body))
}

func TestUnrecognizedCommandRepliesAndCloses(t *testing.T) {
	h := &fakeHandler{}
	addr := startServer(t, h)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "/bogus/thing\n")
	require.NoError(t, err)

	body, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "Invalid command\n", string(body))
}

func TestOnCommandFiresPerRecognizedCommand(t *testing.T) {
	h := &fakeHandler{searchResults: map[string][]string{"x": nil}}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := tcpserver.New(addr, h, nil)
	var mu sync.Mutex
	var seen []string
	srv.OnCommand = func(command string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, command)
	}
	go func() { _ = srv.ListenAndServe() }()
	t.Cleanup(func() { _ = srv.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			_ = conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = fmt.Fprintf(conn, "/search/x\n")
	require.NoError(t, err)
	_ = conn.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == "search"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDownloadMissingEntryClosesConnection(t *testing.T) {
	h := &fakeHandler{downloads: map[string]string{}}
	addr := startServer(t, h)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "/download/a.tar.gz:missing.txt\n")
	require.NoError(t, err)

	body, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Empty(t, body)
}
