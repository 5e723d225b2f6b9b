package storage

import "sync"

// MemoryStore is a Store held entirely in memory. Every Lock call counts
// as a separate holder, so conflicting locks on the same instance fail
// with ErrLocked.
type MemoryStore struct {
	mu        sync.RWMutex
	data      []byte
	noFlush   bool
	shared    int
	exclusive bool
	closed    bool
	syncs     int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreFrom creates an in-memory store holding a copy of data.
func NewMemoryStoreFrom(data []byte) *MemoryStore {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &MemoryStore{data: buf}
}

// Read copies stored bytes at pos into buf.
func (ms *MemoryStore) Read(pos int64, buf []byte) (int, error) {
	if pos < 0 {
		return 0, ErrInvalidPosition
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.closed {
		return 0, ErrStoreClosed
	}
	if pos >= int64(len(ms.data)) {
		return 0, nil
	}
	return copy(buf, ms.data[pos:]), nil
}

// Write stores buf at pos, growing the store with zeros as needed.
func (ms *MemoryStore) Write(pos int64, buf []byte) error {
	if pos < 0 {
		return ErrInvalidPosition
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStoreClosed
	}

	end := pos + int64(len(buf))
	if end > int64(len(ms.data)) {
		if end > int64(cap(ms.data)) {
			grown := make([]byte, end, end+end/4)
			copy(grown, ms.data)
			ms.data = grown
		} else {
			ms.data = ms.data[:end]
		}
	}
	copy(ms.data[pos:end], buf)
	return nil
}

// Sync counts sync requests; memory needs no flushing.
func (ms *MemoryStore) Sync() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStoreClosed
	}
	if !ms.noFlush {
		ms.syncs++
	}
	return nil
}

// Syncs returns how many effective Sync calls were made.
func (ms *MemoryStore) Syncs() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.syncs
}

// Length returns the stored size.
func (ms *MemoryStore) Length() (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(ms.data)), nil
}

// Bytes returns a copy of the stored bytes.
func (ms *MemoryStore) Bytes() []byte {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	buf := make([]byte, len(ms.data))
	copy(buf, ms.data)
	return buf
}

// Lock takes a shared or exclusive lock.
func (ms *MemoryStore) Lock(shared bool) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStoreClosed
	}
	if ms.exclusive || (!shared && ms.shared > 0) {
		return ErrLocked
	}
	if shared {
		ms.shared++
	} else {
		ms.exclusive = true
	}
	return nil
}

// Unlock releases the exclusive lock, or one shared holder.
func (ms *MemoryStore) Unlock() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	switch {
	case ms.closed:
		return ErrStoreClosed
	case ms.exclusive:
		ms.exclusive = false
	case ms.shared > 0:
		ms.shared--
	default:
		return ErrNotLocked
	}
	return nil
}

// Close marks the store closed. The contents are kept for Bytes.
func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.closed = true
	ms.shared = 0
	ms.exclusive = false
	return nil
}

// IsEncrypted reports false.
func (ms *MemoryStore) IsEncrypted() bool {
	return false
}

// NoFlush reports whether Sync is suppressed.
func (ms *MemoryStore) NoFlush() bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.noFlush
}

// SetNoFlush toggles Sync suppression.
func (ms *MemoryStore) SetNoFlush(noFlush bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.noFlush = noFlush
}
