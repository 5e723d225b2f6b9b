package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapped.db")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestMappedStoreReads(t *testing.T) {
	payload := bytes.Repeat([]byte("mapped"), 1000)
	ms, err := OpenMappedStore(writeFile(t, payload))
	require.NoError(t, err)
	defer ms.Close()

	// Before Lock reads go to the file.
	assert.False(t, ms.Mapped())
	got := make([]byte, 6)
	n, err := ms.Read(6, got)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte("mapped"), got)

	require.NoError(t, ms.Lock(true))
	if runtime.GOOS != "windows" {
		assert.True(t, ms.Mapped())
	}

	got = make([]byte, len(payload))
	n, err = ms.Read(0, got)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)

	// Reads crossing the end are short.
	n, err = ms.Read(int64(len(payload)-2), make([]byte, 10))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = ms.Read(int64(len(payload)+10), make([]byte, 10))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = ms.Read(-1, got)
	assert.ErrorIs(t, err, ErrInvalidPosition)

	require.NoError(t, ms.Unlock())
	assert.False(t, ms.Mapped())
}

func TestMappedStoreIsReadOnly(t *testing.T) {
	ms, err := OpenMappedStore(writeFile(t, []byte("data")))
	require.NoError(t, err)
	defer ms.Close()

	assert.ErrorIs(t, ms.Write(0, []byte("x")), ErrReadOnly)
	assert.NoError(t, ms.Sync())
}

func TestMappedStoreEmptyFile(t *testing.T) {
	ms, err := OpenMappedStore(writeFile(t, nil))
	require.NoError(t, err)
	defer ms.Close()

	require.NoError(t, ms.Lock(true))
	assert.False(t, ms.Mapped())
	n, err := ms.Read(0, make([]byte, 4))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMappedStoreMissingFile(t *testing.T) {
	_, err := OpenMappedStore(filepath.Join(t.TempDir(), "missing.db"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMappedStoreSharesLocks(t *testing.T) {
	path := writeFile(t, []byte("data"))

	a, err := OpenMappedStore(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenMappedStore(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Lock(true))
	require.NoError(t, b.Lock(true))

	w, err := OpenFileStore(path, DefaultFileOptions())
	require.NoError(t, err)
	defer w.Close()
	assert.ErrorIs(t, w.Lock(false), ErrLocked)
}

func TestMappedStoreClosed(t *testing.T) {
	ms, err := OpenMappedStore(writeFile(t, []byte("data")))
	require.NoError(t, err)
	require.NoError(t, ms.Lock(true))
	require.NoError(t, ms.Close())
	require.NoError(t, ms.Close())

	_, err = ms.Read(0, make([]byte, 1))
	assert.ErrorIs(t, err, ErrStoreClosed)
}
