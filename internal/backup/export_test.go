package backup

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
)

func sampleStore(t *testing.T, n int) *storage.MemoryStore {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 97)
	}
	return storage.NewMemoryStoreFrom(data)
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "gzip"
		}
		t.Run(name, func(t *testing.T) {
			src := sampleStore(t, 4096*5+100)

			var buf bytes.Buffer
			stats, err := Export(src, &buf, Options{Compress: compress, PageSize: 4096})
			require.NoError(t, err)
			assert.Equal(t, uint64(6), stats.TotalPages)
			assert.Equal(t, int64(4096*5+100), stats.TotalBytes)
			if compress {
				assert.Greater(t, stats.CompressionRatio(), 0.0)
			} else {
				assert.Equal(t, BackupHeaderSize+4096*5+100, buf.Len())
			}

			dst := storage.NewMemoryStore()
			rstats, err := Import(bytes.NewReader(buf.Bytes()), dst, RestoreOptions{Verify: true})
			require.NoError(t, err)
			assert.Equal(t, uint64(6), rstats.TotalPages)
			assert.Equal(t, src.Bytes(), dst.Bytes())
			assert.Equal(t, 1, dst.Syncs())
		})
	}
}

func TestExportEmptyStore(t *testing.T) {
	var buf bytes.Buffer
	stats, err := Export(storage.NewMemoryStore(), &buf, Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.TotalPages)

	header, err := VerifyBackup(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint32(storage.DefaultPageSize), header.PageSize)
}

func TestImportDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(sampleStore(t, 3000), &buf, Options{PageSize: 1024})
	require.NoError(t, err)

	corrupt := append([]byte(nil), buf.Bytes()...)
	corrupt[BackupHeaderSize+1500] ^= 0xFF

	t.Run("verify writes nothing", func(t *testing.T) {
		dst := storage.NewMemoryStore()
		_, err := Import(bytes.NewReader(corrupt), dst, RestoreOptions{Verify: true})
		assert.ErrorIs(t, err, ErrChecksumMismatch)
		assert.Empty(t, dst.Bytes())
	})

	t.Run("checked after write", func(t *testing.T) {
		dst := storage.NewMemoryStore()
		_, err := Import(bytes.NewReader(corrupt), dst, RestoreOptions{})
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Import(bytes.NewReader(buf.Bytes()[:BackupHeaderSize+100]), storage.NewMemoryStore(), RestoreOptions{})
		assert.ErrorIs(t, err, ErrInvalidBackup)
	})

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte(nil), buf.Bytes()...)
		copy(bad, "NOPE")
		_, err := VerifyBackup(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})
}

func TestImportRequiresEmptyTarget(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(sampleStore(t, 10), &buf, Options{})
	require.NoError(t, err)

	_, err = Import(&buf, sampleStore(t, 1), RestoreOptions{})
	assert.ErrorIs(t, err, ErrTargetNotEmpty)
}

func TestImportVerifyNeedsSeeker(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(sampleStore(t, 10), &buf, Options{})
	require.NoError(t, err)

	_, err = Import(io.MultiReader(&buf), storage.NewMemoryStore(), RestoreOptions{Verify: true})
	assert.ErrorIs(t, err, ErrRestoreFailed)
}

func TestBackupAndRestoreFiles(t *testing.T) {
	dir := t.TempDir()
	backupPath := filepath.Join(dir, "data.obsb")
	dbPath := filepath.Join(dir, "restored.obs")

	src := sampleStore(t, 9000)
	_, err := BackupToFile(src, backupPath, Options{Compress: true})
	require.NoError(t, err)

	_, err = os.Stat(backupPath + ".tmp")
	assert.ErrorIs(t, err, os.ErrNotExist)

	header, err := ReadInfo(backupPath)
	require.NoError(t, err)
	assert.True(t, header.IsCompressed())
	assert.Equal(t, uint64(9000), header.StoreLength)

	_, err = VerifyFile(backupPath)
	require.NoError(t, err)

	_, err = RestoreToFile(backupPath, dbPath, RestoreOptions{Verify: true})
	require.NoError(t, err)

	restored, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, src.Bytes(), restored)

	_, err = RestoreToFile(backupPath, dbPath, RestoreOptions{})
	assert.ErrorIs(t, err, ErrTargetExists)

	_, err = RestoreToFile(backupPath, dbPath, RestoreOptions{Overwrite: true})
	assert.NoError(t, err)
}

func TestFilePathsRequired(t *testing.T) {
	_, err := BackupToFile(storage.NewMemoryStore(), "", Options{})
	assert.ErrorIs(t, err, ErrOutputPathEmpty)

	_, err = RestoreToFile("", "x", RestoreOptions{})
	assert.ErrorIs(t, err, ErrInputPathEmpty)
}
