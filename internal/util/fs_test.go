package util

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingReader struct {
	data []byte
	sent bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.sent {
		f.sent = true
		return copy(p, f.data), nil
	}
	return 0, errors.New("connection reset")
}

func TestWriteStreamAtomicSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "2401.00001.pdf")
	n, err := WriteStreamAtomic(path, strings.NewReader("%PDF-1.7 body"))
	require.NoError(t, err)
	require.EqualValues(t, 13, n)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7 body", string(b))
	require.EqualValues(t, 13, FileSize(path))
}

func TestWriteStreamAtomicFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.pdf")
	_, err := WriteStreamAtomic(path, &failingReader{data: []byte("%PDF-partial")})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Zero(t, FileSize(path))
}

func TestSHA256File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	sum, err := SHA256File(path)
	require.NoError(t, err)
	require.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)

	viaReader, err := SHA256HexFromReader(io.LimitReader(strings.NewReader("abc"), 3))
	require.NoError(t, err)
	require.Equal(t, sum, viaReader)
}

func TestSafeJoinDropsDirectories(t *testing.T) {
	require.Equal(t, filepath.Join("/cache", "x.pdf"), SafeJoin("/cache", "../../etc/x.pdf"))
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "r1", "summary.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"indexed": 2}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `"indexed": 2`)
}
