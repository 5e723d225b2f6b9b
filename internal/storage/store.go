package storage

import "errors"

// Store errors.
var (
	// ErrReadOnly is returned when writing to a store opened read-only.
	ErrReadOnly = errors.New("store is read-only")

	// ErrLocked is returned when another holder owns a conflicting lock.
	ErrLocked = errors.New("store is locked by another process")

	// ErrNotLocked is returned by Unlock when no lock is held.
	ErrNotLocked = errors.New("store is not locked")

	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidPosition is returned for negative positions.
	ErrInvalidPosition = errors.New("invalid store position")
)

// Store is a byte-addressable persistent medium.
//
// Read returns the number of bytes read; a read that crosses the end of
// the store is short and returns a nil error. Write extends the store as
// needed. Sync makes previous writes durable unless NoFlush is set.
//
// Lock takes an advisory lock on the whole store: shared locks may be
// held together, an exclusive lock excludes every other holder. Lock
// never blocks; a conflicting lock returns ErrLocked.
type Store interface {
	Read(pos int64, buf []byte) (int, error)
	Write(pos int64, buf []byte) error
	Sync() error
	Length() (int64, error)
	Lock(shared bool) error
	Unlock() error
	Close() error
	IsEncrypted() bool
	NoFlush() bool
	SetNoFlush(noFlush bool)
}

// ReadFull reads exactly len(buf) bytes at pos, zero-filling whatever lies
// past the end of the store. It returns the number of bytes that existed.
func ReadFull(s Store, pos int64, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.Read(pos+int64(total), buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	for i := total; i < len(buf); i++ {
		buf[i] = 0
	}
	return total, nil
}
