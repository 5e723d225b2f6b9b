package crypto

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/xts"
)

// KeySize is the AES-256-XTS key size (two 32-byte AES keys).
const KeySize = 64

// SectorAlign is the granularity XTS requires for encrypted data.
const SectorAlign = 16

// Errors returned by crypto operations.
var (
	ErrInvalidKey       = errors.New("invalid encryption key: must be 64 bytes")
	ErrKeyFileNotFound  = errors.New("encryption key file not found")
	ErrInvalidKeyFormat = errors.New("invalid key format: must be 64 bytes or 128 hex chars")
	ErrInvalidPageSize  = errors.New("page size must be a non-zero multiple of 16")
)

// PageCipher encrypts and decrypts fixed-size pages in place of the
// plaintext, using the page number as tweak.
type PageCipher struct {
	key    []byte
	cipher *xts.Cipher
}

// NewPageCipher creates a page cipher from raw key bytes.
func NewPageCipher(key []byte) (*PageCipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, err
	}

	keyCopy := make([]byte, KeySize)
	copy(keyCopy, key)

	return &PageCipher{
		key:    keyCopy,
		cipher: c,
	}, nil
}

// GenerateKey generates a new random XTS key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadKeyFromFile loads a page cipher from a key file.
// The file can contain either raw 64 bytes or 128 hex characters.
func LoadKeyFromFile(path string) (*PageCipher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyFileNotFound
		}
		return nil, err
	}

	key, err := ParseKey(data)
	if err != nil {
		return nil, err
	}
	return NewPageCipher(key)
}

// ParseKey decodes key material in raw or hex form.
func ParseKey(data []byte) ([]byte, error) {
	if len(data) == KeySize {
		return data, nil
	}

	trimmed := []byte(strings.TrimSpace(string(data)))
	switch len(trimmed) {
	case KeySize:
		return trimmed, nil
	case KeySize * 2:
		key := make([]byte, KeySize)
		if _, err := hex.Decode(key, trimmed); err != nil {
			return nil, ErrInvalidKeyFormat
		}
		return key, nil
	default:
		return nil, ErrInvalidKeyFormat
	}
}

// SaveKeyToFile saves key material to a file in hex format.
func SaveKeyToFile(key []byte, path string) error {
	if len(key) != KeySize {
		return ErrInvalidKey
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(key)), 0600)
}

// EncryptPage encrypts src into dst using pageNo as the sector number.
// dst and src must have the same length, a multiple of SectorAlign.
func (pc *PageCipher) EncryptPage(dst, src []byte, pageNo uint64) error {
	if len(src) == 0 || len(src)%SectorAlign != 0 || len(dst) < len(src) {
		return ErrInvalidPageSize
	}
	pc.cipher.Encrypt(dst[:len(src)], src, pageNo)
	return nil
}

// DecryptPage decrypts src into dst using pageNo as the sector number.
func (pc *PageCipher) DecryptPage(dst, src []byte, pageNo uint64) error {
	if len(src) == 0 || len(src)%SectorAlign != 0 || len(dst) < len(src) {
		return ErrInvalidPageSize
	}
	pc.cipher.Decrypt(dst[:len(src)], src, pageNo)
	return nil
}

// KeyBytes returns a copy of the raw key bytes.
func (pc *PageCipher) KeyBytes() []byte {
	keyCopy := make([]byte, KeySize)
	copy(keyCopy, pc.key)
	return keyCopy
}

// Clear zeros out the retained key material.
func (pc *PageCipher) Clear() {
	for i := range pc.key {
		pc.key[i] = 0
	}
}
