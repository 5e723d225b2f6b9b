// Package backup provides native backup and restore of obastore files.
package backup

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"time"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
)

// Backup format constants.
const (
	// BackupVersion is the current backup format version.
	BackupVersion uint32 = 1

	// BackupHeaderSize is the size of the backup header in bytes.
	BackupHeaderSize = 64
)

// BackupMagic is the magic number for obastore backup files ("OBSB").
var BackupMagic = [4]byte{'O', 'B', 'S', 'B'}

// Backup errors.
var (
	ErrBackupFailed      = errors.New("backup failed")
	ErrRestoreFailed     = errors.New("restore failed")
	ErrInvalidBackup     = errors.New("invalid backup file")
	ErrInvalidMagic      = errors.New("invalid backup magic number")
	ErrUnsupportedFormat = errors.New("unsupported backup format")
	ErrChecksumMismatch  = errors.New("backup checksum mismatch")
	ErrOutputPathEmpty   = errors.New("output path is empty")
	ErrInputPathEmpty    = errors.New("input path is empty")
	ErrTargetExists      = errors.New("restore target already exists")
	ErrTargetNotEmpty    = errors.New("restore target is not empty")
)

// Options configures a backup.
type Options struct {
	// Compress gzips the page data.
	Compress bool

	// PageSize is the transfer unit. It is recorded in the header and
	// reused on restore.
	// Default: storage.DefaultPageSize.
	PageSize int
}

// Validate fills in defaults and checks the options.
func (o *Options) Validate() error {
	if o.PageSize == 0 {
		o.PageSize = storage.DefaultPageSize
	}
	if o.PageSize < 0 {
		return storage.ErrInvalidPageSize
	}
	return nil
}

// RestoreOptions configures a restore.
type RestoreOptions struct {
	// Verify checks the page checksum before anything is written. Without
	// it the checksum is still checked, after the data has been written.
	Verify bool

	// Overwrite allows RestoreToFile to replace an existing file.
	Overwrite bool
}

// BackupHeader represents the header of a native backup file.
// Layout (64 bytes):
//   - Bytes 0-3:   Magic number ("OBSB")
//   - Bytes 4-7:   Version (uint32)
//   - Bytes 8-15:  Timestamp (int64, Unix timestamp)
//   - Bytes 16-19: Flags (uint32)
//   - Bytes 20-23: PageSize (uint32)
//   - Bytes 24-31: TotalPages (uint64)
//   - Bytes 32-39: StoreLength (uint64)
//   - Bytes 40-43: Checksum (uint32, CRC32 of all page data)
//   - Bytes 44-63: Reserved
type BackupHeader struct {
	Magic       [4]byte
	Version     uint32
	Timestamp   int64
	Flags       uint32
	PageSize    uint32
	TotalPages  uint64
	StoreLength uint64
	Checksum    uint32
	Reserved    [20]byte
}

// Backup flags.
const (
	// BackupFlagCompressed indicates the page data is gzip compressed.
	BackupFlagCompressed uint32 = 1 << iota
)

// NewBackupHeader creates a new backup header with default values.
func NewBackupHeader() *BackupHeader {
	return &BackupHeader{
		Magic:     BackupMagic,
		Version:   BackupVersion,
		Timestamp: time.Now().Unix(),
	}
}

// IsCompressed returns true if the backup is compressed.
func (h *BackupHeader) IsCompressed() bool {
	return h.Flags&BackupFlagCompressed != 0
}

// SetCompressed sets the compressed flag.
func (h *BackupHeader) SetCompressed(compressed bool) {
	if compressed {
		h.Flags |= BackupFlagCompressed
	} else {
		h.Flags &^= BackupFlagCompressed
	}
}

// Time returns the backup timestamp.
func (h *BackupHeader) Time() time.Time {
	return time.Unix(h.Timestamp, 0)
}

// Serialize writes the backup header to a byte slice.
func (h *BackupHeader) Serialize() ([]byte, error) {
	buf := make([]byte, BackupHeaderSize)
	return buf, h.SerializeTo(buf)
}

// SerializeTo writes the backup header to an existing byte slice.
func (h *BackupHeader) SerializeTo(buf []byte) error {
	if len(buf) < BackupHeaderSize {
		return ErrInvalidBackup
	}

	for i := range buf[:BackupHeaderSize] {
		buf[i] = 0
	}

	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Timestamp))
	binary.LittleEndian.PutUint32(buf[16:20], h.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], h.PageSize)
	binary.LittleEndian.PutUint64(buf[24:32], h.TotalPages)
	binary.LittleEndian.PutUint64(buf[32:40], h.StoreLength)
	binary.LittleEndian.PutUint32(buf[40:44], h.Checksum)

	// Reserved bytes are already zeroed

	return nil
}

// Deserialize reads the backup header from a byte slice.
func (h *BackupHeader) Deserialize(buf []byte) error {
	if len(buf) < BackupHeaderSize {
		return ErrInvalidBackup
	}

	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.Timestamp = int64(binary.LittleEndian.Uint64(buf[8:16]))
	h.Flags = binary.LittleEndian.Uint32(buf[16:20])
	h.PageSize = binary.LittleEndian.Uint32(buf[20:24])
	h.TotalPages = binary.LittleEndian.Uint64(buf[24:32])
	h.StoreLength = binary.LittleEndian.Uint64(buf[32:40])
	h.Checksum = binary.LittleEndian.Uint32(buf[40:44])
	copy(h.Reserved[:], buf[44:64])

	return nil
}

// Validate validates the backup header.
func (h *BackupHeader) Validate() error {
	if h.Magic != BackupMagic {
		return ErrInvalidMagic
	}

	if h.Version == 0 || h.Version > BackupVersion {
		return ErrUnsupportedFormat
	}

	if h.PageSize == 0 {
		return ErrInvalidBackup
	}

	pages := (h.StoreLength + uint64(h.PageSize) - 1) / uint64(h.PageSize)
	if pages != h.TotalPages {
		return ErrInvalidBackup
	}

	return nil
}

// ReadBackupHeader reads and validates a header from r.
func ReadBackupHeader(r io.Reader) (*BackupHeader, error) {
	buf := make([]byte, BackupHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrInvalidBackup
	}

	h := &BackupHeader{}
	if err := h.Deserialize(buf); err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Stats contains statistics about a backup operation.
type Stats struct {
	// TotalPages is the total number of pages backed up.
	TotalPages uint64

	// TotalBytes is the number of page bytes backed up.
	TotalBytes int64

	// CompressedBytes is the size of the compressed page data (if
	// compression enabled).
	CompressedBytes int64

	// Checksum is the CRC32 of the page data.
	Checksum uint32

	// Duration is the time taken to complete the backup.
	Duration time.Duration
}

// CompressionRatio returns the compression ratio (0-1).
// Returns 0 if compression is not enabled or no data was written.
func (s *Stats) CompressionRatio() float64 {
	if s.TotalBytes == 0 || s.CompressedBytes == 0 {
		return 0
	}
	return 1.0 - float64(s.CompressedBytes)/float64(s.TotalBytes)
}

// RestoreStats contains statistics about a restore operation.
type RestoreStats struct {
	// TotalPages is the total number of pages restored.
	TotalPages uint64

	// TotalBytes is the total size of restored data in bytes.
	TotalBytes int64

	// Duration is the time taken to complete the restore.
	Duration time.Duration
}

// checksumWriter wraps an io.Writer and calculates checksum of written data.
type checksumWriter struct {
	w        io.Writer
	checksum uint32
	written  int64
}

func newChecksumWriter(w io.Writer) *checksumWriter {
	return &checksumWriter{w: w}
}

// Write writes data and updates the checksum.
func (cw *checksumWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 {
		cw.checksum = crc32.Update(cw.checksum, crc32.IEEETable, p[:n])
		cw.written += int64(n)
	}
	return n, err
}

// countingWriter counts bytes passed to w.
type countingWriter struct {
	w       io.Writer
	written int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.written += int64(n)
	return n, err
}
