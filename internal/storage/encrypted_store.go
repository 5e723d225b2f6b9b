package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/KilimcininKorOglu/obastore/internal/crypto"
)

// ErrInvalidPageSize is returned for page sizes the cipher cannot handle.
var ErrInvalidPageSize = errors.New("invalid page size")

// EncryptedStore encrypts every page of an inner store except page 0,
// which holds the plaintext file header. Each page is encrypted with
// AES-XTS using its page number as tweak, so writes are done as
// read-modify-write of whole pages.
type EncryptedStore struct {
	mu       sync.Mutex
	inner    Store
	cipher   *crypto.PageCipher
	pageSize int64
}

// NewEncryptedStore layers page encryption over inner.
func NewEncryptedStore(inner Store, cipher *crypto.PageCipher, pageSize int) (*EncryptedStore, error) {
	if pageSize <= 0 || pageSize%crypto.SectorAlign != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageSize, pageSize)
	}
	return &EncryptedStore{
		inner:    inner,
		cipher:   cipher,
		pageSize: int64(pageSize),
	}, nil
}

// Inner returns the wrapped store.
func (es *EncryptedStore) Inner() Store {
	return es.inner
}

// Read decrypts the pages covering [pos, pos+len(buf)).
func (es *EncryptedStore) Read(pos int64, buf []byte) (int, error) {
	if pos < 0 {
		return 0, ErrInvalidPosition
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	length, err := es.inner.Length()
	if err != nil {
		return 0, err
	}

	page := make([]byte, es.pageSize)
	total := 0
	for total < len(buf) && pos < length {
		pageNo := pos / es.pageSize
		offset := pos % es.pageSize

		if _, err := es.readPage(pageNo, page); err != nil {
			return total, err
		}

		n := copy(buf[total:], page[offset:])
		if remaining := length - pos; int64(n) > remaining {
			n = int(remaining)
		}
		total += n
		pos += int64(n)
	}
	return total, nil
}

// Write encrypts buf into the pages covering [pos, pos+len(buf)).
func (es *EncryptedStore) Write(pos int64, buf []byte) error {
	if pos < 0 {
		return ErrInvalidPosition
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	page := make([]byte, es.pageSize)
	sealed := make([]byte, es.pageSize)
	for len(buf) > 0 {
		pageNo := pos / es.pageSize
		offset := pos % es.pageSize

		if _, err := es.readPage(pageNo, page); err != nil {
			return err
		}
		n := copy(page[offset:], buf)

		out := page
		if pageNo > 0 {
			if err := es.cipher.EncryptPage(sealed, page, uint64(pageNo)); err != nil {
				return err
			}
			out = sealed
		}
		if err := es.inner.Write(pageNo*es.pageSize, out); err != nil {
			return err
		}

		buf = buf[n:]
		pos += int64(n)
	}
	return nil
}

// readPage loads plaintext page pageNo into page. Missing pages read as zeros.
func (es *EncryptedStore) readPage(pageNo int64, page []byte) (int, error) {
	n, err := ReadFull(es.inner, pageNo*es.pageSize, page)
	if err != nil {
		return n, err
	}
	if n == 0 || pageNo == 0 {
		return n, nil
	}
	if int64(n) != es.pageSize {
		return n, Corruptf("encrypted store", "page %d is truncated to %d bytes", pageNo, n)
	}
	return n, es.cipher.DecryptPage(page, page, uint64(pageNo))
}

// Sync syncs the inner store.
func (es *EncryptedStore) Sync() error {
	return es.inner.Sync()
}

// Length returns the inner length; encrypted stores grow in whole pages.
func (es *EncryptedStore) Length() (int64, error) {
	return es.inner.Length()
}

// Lock locks the inner store.
func (es *EncryptedStore) Lock(shared bool) error {
	return es.inner.Lock(shared)
}

// Unlock unlocks the inner store.
func (es *EncryptedStore) Unlock() error {
	return es.inner.Unlock()
}

// Close clears the key material and closes the inner store.
func (es *EncryptedStore) Close() error {
	es.cipher.Clear()
	return es.inner.Close()
}

// IsEncrypted reports true.
func (es *EncryptedStore) IsEncrypted() bool {
	return true
}

// NoFlush reports the inner store's setting.
func (es *EncryptedStore) NoFlush() bool {
	return es.inner.NoFlush()
}

// SetNoFlush toggles the inner store's setting.
func (es *EncryptedStore) SetNoFlush(noFlush bool) {
	es.inner.SetNoFlush(noFlush)
}
