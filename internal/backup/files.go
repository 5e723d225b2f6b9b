package backup

import (
	"errors"
	"fmt"
	"os"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
)

// BackupToFile exports store to a new file at path. The backup is written
// to a temporary file and renamed into place once synced.
func BackupToFile(store storage.Store, path string, opts Options) (*Stats, error) {
	if path == "" {
		return nil, ErrOutputPathEmpty
	}

	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}

	stats, err := Export(store, out, opts)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}
	return stats, nil
}

// RestoreToFile restores the backup at backupPath into a new database file
// at dbPath. An existing dbPath is only replaced with opts.Overwrite.
func RestoreToFile(backupPath, dbPath string, opts RestoreOptions) (*RestoreStats, error) {
	if backupPath == "" {
		return nil, ErrInputPathEmpty
	}
	if dbPath == "" {
		return nil, ErrOutputPathEmpty
	}
	if _, err := os.Stat(dbPath); err == nil && !opts.Overwrite {
		return nil, fmt.Errorf("%w: %s", ErrTargetExists, dbPath)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}

	in, err := os.Open(backupPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}
	defer in.Close()

	tmp := dbPath + ".restore"
	os.Remove(tmp)
	store, err := storage.OpenFileStore(tmp, storage.DefaultFileOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}

	stats, err := Import(in, store, opts)
	if cerr := store.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}

	if err := os.Rename(tmp, dbPath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}
	return stats, nil
}

// VerifyFile checks the backup at path and returns its header.
func VerifyFile(path string) (*BackupHeader, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return VerifyBackup(in)
}

// ReadInfo returns the header of the backup at path without reading the
// page data.
func ReadInfo(path string) (*BackupHeader, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return ReadBackupHeader(in)
}
