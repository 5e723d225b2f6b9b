package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// FileStore is a Store backed by a single operating system file.
type FileStore struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	readOnly bool
	noFlush  atomic.Bool
	locked   bool
	closed   bool
}

// OpenFileStore opens or creates the file at path.
func OpenFileStore(path string, opts FileOptions) (*FileStore, error) {
	if opts.FileMode == 0 {
		opts.FileMode = 0644
	}

	_, err := os.Stat(path)
	fileExists := err == nil

	if !fileExists && (!opts.CreateIfNotExists || opts.ReadOnly) {
		return nil, os.ErrNotExist
	}

	flags := os.O_RDWR
	if opts.ReadOnly {
		flags = os.O_RDONLY
	} else if !fileExists {
		flags |= os.O_CREATE
	}

	file, err := os.OpenFile(path, flags, os.FileMode(opts.FileMode))
	if err != nil {
		return nil, fmt.Errorf("failed to open store file: %w", err)
	}

	fs := &FileStore{
		file:     file,
		path:     path,
		readOnly: opts.ReadOnly,
	}
	fs.noFlush.Store(opts.NoFlush)
	return fs, nil
}

// Path returns the file path.
func (fs *FileStore) Path() string {
	return fs.path
}

// Read reads into buf at pos. Reads past the end of the file are short.
func (fs *FileStore) Read(pos int64, buf []byte) (int, error) {
	if pos < 0 {
		return 0, ErrInvalidPosition
	}
	file, err := fs.handle()
	if err != nil {
		return 0, err
	}

	n, err := file.ReadAt(buf, pos)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// Write writes buf at pos, extending the file if needed.
func (fs *FileStore) Write(pos int64, buf []byte) error {
	if pos < 0 {
		return ErrInvalidPosition
	}
	if fs.readOnly {
		return ErrReadOnly
	}
	file, err := fs.handle()
	if err != nil {
		return err
	}

	if _, err := file.WriteAt(buf, pos); err != nil {
		return fmt.Errorf("failed to write at %d: %w", pos, err)
	}
	return nil
}

// Sync flushes the file to stable storage unless NoFlush is set.
func (fs *FileStore) Sync() error {
	if fs.noFlush.Load() || fs.readOnly {
		return nil
	}
	file, err := fs.handle()
	if err != nil {
		return err
	}
	return file.Sync()
}

// Length returns the current file size.
func (fs *FileStore) Length() (int64, error) {
	file, err := fs.handle()
	if err != nil {
		return 0, err
	}
	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Lock takes an advisory lock on the file without blocking.
func (fs *FileStore) Lock(shared bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrStoreClosed
	}
	if err := lockFile(fs.file, shared); err != nil {
		return err
	}
	fs.locked = true
	return nil
}

// Unlock releases the advisory lock.
func (fs *FileStore) Unlock() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrStoreClosed
	}
	if !fs.locked {
		return ErrNotLocked
	}
	if err := unlockFile(fs.file); err != nil {
		return err
	}
	fs.locked = false
	return nil
}

// Close releases any lock and closes the file.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return nil
	}
	fs.closed = true

	if fs.locked {
		unlockFile(fs.file)
		fs.locked = false
	}
	return fs.file.Close()
}

// IsEncrypted reports false; encryption is layered by EncryptedStore.
func (fs *FileStore) IsEncrypted() bool {
	return false
}

// NoFlush reports whether Sync is suppressed.
func (fs *FileStore) NoFlush() bool {
	return fs.noFlush.Load()
}

// SetNoFlush toggles Sync suppression.
func (fs *FileStore) SetNoFlush(noFlush bool) {
	fs.noFlush.Store(noFlush)
}

func (fs *FileStore) handle() (*os.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return nil, ErrStoreClosed
	}
	return fs.file, nil
}
