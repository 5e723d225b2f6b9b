package storage

import (
	"sync"
)

// MappedStore is a read-only Store that serves reads from a memory
// mapping of a database file. The mapping is taken when the store is
// locked, so it covers the file as it stands once writers are excluded.
// Before Lock, and on platforms without mmap, reads go to the file.
type MappedStore struct {
	*FileStore

	mu     sync.RWMutex
	data   []byte
	closed bool
}

// OpenMappedStore opens the existing file at path for mapped reads.
func OpenMappedStore(path string) (*MappedStore, error) {
	fs, err := OpenFileStore(path, DefaultFileOptions().
		WithReadOnly(true).
		WithCreateIfNotExists(false))
	if err != nil {
		return nil, err
	}
	return &MappedStore{FileStore: fs}, nil
}

// Read copies from the mapping at pos. Reads past the end are short.
func (ms *MappedStore) Read(pos int64, buf []byte) (int, error) {
	if pos < 0 {
		return 0, ErrInvalidPosition
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.closed {
		return 0, ErrStoreClosed
	}
	if ms.data == nil {
		return ms.FileStore.Read(pos, buf)
	}
	if pos >= int64(len(ms.data)) {
		return 0, nil
	}
	return copy(buf, ms.data[pos:]), nil
}

// Write always fails; a mapped store is read-only.
func (ms *MappedStore) Write(pos int64, buf []byte) error {
	return ErrReadOnly
}

// Lock locks the file and maps it.
func (ms *MappedStore) Lock(shared bool) error {
	if err := ms.FileStore.Lock(shared); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := ms.remapLocked(); err != nil {
		ms.FileStore.Unlock()
		return err
	}
	return nil
}

// Unlock drops the mapping and releases the lock.
func (ms *MappedStore) Unlock() error {
	ms.mu.Lock()
	err := ms.unmapLocked()
	ms.mu.Unlock()

	if uerr := ms.FileStore.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// Mapped reports whether reads are currently served from memory.
func (ms *MappedStore) Mapped() bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.data != nil
}

// Close unmaps the file and closes it.
func (ms *MappedStore) Close() error {
	ms.mu.Lock()
	if ms.closed {
		ms.mu.Unlock()
		return nil
	}
	ms.closed = true
	err := ms.unmapLocked()
	ms.mu.Unlock()

	if cerr := ms.FileStore.Close(); err == nil {
		err = cerr
	}
	return err
}

func (ms *MappedStore) remapLocked() error {
	if err := ms.unmapLocked(); err != nil {
		return err
	}
	size, err := ms.FileStore.Length()
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	data, err := mapFile(ms.FileStore.file, size)
	if err != nil {
		return err
	}
	ms.data = data
	return nil
}

func (ms *MappedStore) unmapLocked() error {
	if ms.data == nil {
		return nil
	}
	err := unmapFile(ms.data)
	ms.data = nil
	return err
}
