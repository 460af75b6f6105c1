//go:build linux

package backend

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	b, err := OpenFile(path, 64*1024)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, int64(64*1024), b.Size())

	data := []byte("sector data")
	_, err = b.WriteAt(data, 4096)
	require.NoError(t, err)
	require.NoError(t, b.Flush())

	buf := make([]byte, len(data))
	_, err = b.ReadAt(buf, 4096)
	require.NoError(t, err)
	assert.Equal(t, data, buf)

	require.NoError(t, b.Discard(4096, 4096))
	_, err = b.ReadAt(buf, 4096)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, len(data)), buf)
	assert.Equal(t, int64(64*1024), b.Size(), "discard keeps the size")

	_, err = b.WriteAt(data, 64*1024-4)
	assert.Error(t, err)

	n, err := b.ReadAt(make([]byte, 100), 64*1024-10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestFileBackendReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	b, err := OpenFile(path, 8192)
	require.NoError(t, err)
	_, err = b.WriteAt([]byte{1, 2, 3}, 0)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = OpenFile(path, 0)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, int64(8192), b.Size())

	buf := make([]byte, 3)
	_, err = b.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf)
}
