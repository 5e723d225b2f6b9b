// Package storage provides the byte-addressable backing stores of obastore,
// the crash-safe file header and the error taxonomy shared by the
// allocator, the indexes and the page stream.
//
// # Backing Stores
//
// Every structure persists through the Store interface:
//
//	type Store interface {
//	    Read(pos int64, buf []byte) (int, error)
//	    Write(pos int64, buf []byte) error
//	    Sync() error
//	    Length() (int64, error)
//	    Lock(shared bool) error
//	    Unlock() error
//	    Close() error
//	    IsEncrypted() bool
//	    NoFlush() bool
//	    SetNoFlush(noFlush bool)
//	}
//
// Three implementations are provided:
//
//   - FileStore: a single file with advisory flock/LockFileEx locking
//   - MemoryStore: an in-memory store for tests and scratch databases
//   - EncryptedStore: AES-256-XTS page encryption over another store
//
// # File Header
//
// Page 0 holds two 512-byte header slots. Generation n is written to slot
// n%2 and carries the position of the committed meta record, so the
// newest slot with a valid checksum always names a complete image:
//
//	h, err := storage.ReadHeader(store)
//	if err != nil {
//	    return err
//	}
//	h.Generation++
//	h.MetaPos, h.MetaSize = pos, size
//	if err := storage.WriteHeader(store, h); err != nil {
//	    return err
//	}
//	return store.Sync()
//
// # Errors
//
// ErrKeyNotFound, ErrOutOfSpace, ErrUnsupportedOperation, ErrInvalidKey
// and ErrCorrupted are matched with errors.Is. Invariant violations are
// reported as *CorruptionError values which unwrap to ErrCorrupted.
package storage
