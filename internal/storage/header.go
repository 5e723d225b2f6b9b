package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
)

// File header constants.
const (
	// HeaderSlotSize is the size of one header slot.
	HeaderSlotSize = 512

	// HeaderSlots is the number of alternating header slots in page 0.
	HeaderSlots = 2

	// MaxSegments is the number of segment entries a header can hold.
	MaxSegments = 8

	// CurrentVersion is the current file format version.
	CurrentVersion uint32 = 1

	// DefaultPageSize is the default page size in bytes.
	DefaultPageSize = 4096

	// MinPageSize is the smallest page that fits both header slots.
	MinPageSize = HeaderSlots * HeaderSlotSize

	// MaxPageSize is the largest supported page size.
	MaxPageSize = 64 * 1024

	// MaxSegmentName is the longest segment name a header entry holds.
	MaxSegmentName = 16

	segmentEntrySize = 40
	segmentTableOff  = 54
	checksumOff      = HeaderSlotSize - 4
)

// Header flags.
const (
	// FlagEncrypted marks a database whose pages after page 0 are encrypted.
	FlagEncrypted uint32 = 1 << 0
)

// Segment flags.
const (
	// SegmentFlagLarge marks the segment that receives large binaries.
	SegmentFlagLarge uint32 = 1 << 0
)

// Magic identifies an obastore file: "OBS\x00".
var Magic = [4]byte{'O', 'B', 'S', 0x00}

// Errors for file header operations.
var (
	ErrInvalidMagic       = errors.New("invalid magic number: not an obastore file")
	ErrUnsupportedVersion = errors.New("unsupported file format version")
	ErrHeaderChecksum     = errors.New("file header checksum mismatch")
	ErrInvalidHeaderSize  = errors.New("invalid header size")
	ErrNoValidHeader      = errors.New("no valid header slot")
	ErrTooManySegments    = errors.New("too many segments for header")
)

// SegmentEntry describes one segment in the header's segment table.
type SegmentEntry struct {
	Name    string
	Base    uint64
	Size    uint64
	Quantum uint32
	Flags   uint32
}

// Header is one slot of the database header.
// Layout (little endian):
//   - Bytes 0-3:     Magic ("OBS\x00")
//   - Bytes 4-7:     Version
//   - Bytes 8-11:    PageSize
//   - Bytes 12-15:   Flags
//   - Bytes 16-23:   Generation
//   - Bytes 24-39:   DatabaseID (UUID)
//   - Bytes 40-47:   MetaPos
//   - Bytes 48-51:   MetaSize
//   - Bytes 52-53:   Segment count
//   - Bytes 54-373:  Segment table, 40 bytes per entry
//   - Bytes 508-511: CRC32 of bytes 0-507
//
// Generation n is written to slot n%2, so a torn write never destroys the
// previous committed header.
type Header struct {
	Version    uint32
	PageSize   uint32
	Flags      uint32
	Generation uint64
	DatabaseID uuid.UUID
	MetaPos    uint64
	MetaSize   uint32
	Segments   []SegmentEntry
}

// NewHeader creates a generation-zero header for a fresh database.
func NewHeader(pageSize uint32, segments []SegmentEntry) *Header {
	return &Header{
		Version:    CurrentVersion,
		PageSize:   pageSize,
		DatabaseID: uuid.New(),
		Segments:   segments,
	}
}

// Encrypted reports whether FlagEncrypted is set.
func (h *Header) Encrypted() bool {
	return h.Flags&FlagEncrypted != 0
}

// Slot returns the slot index this header's generation is written to.
func (h *Header) Slot() int {
	return int(h.Generation % HeaderSlots)
}

// Serialize encodes the header into a HeaderSlotSize buffer.
func (h *Header) Serialize() ([]byte, error) {
	buf := make([]byte, HeaderSlotSize)
	return buf, h.SerializeTo(buf)
}

// SerializeTo encodes the header into buf.
func (h *Header) SerializeTo(buf []byte) error {
	if len(buf) < HeaderSlotSize {
		return ErrInvalidHeaderSize
	}
	if len(h.Segments) > MaxSegments {
		return fmt.Errorf("%w: %d", ErrTooManySegments, len(h.Segments))
	}

	buf = buf[:HeaderSlotSize]
	for i := range buf {
		buf[i] = 0
	}

	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.PageSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], h.Generation)
	copy(buf[24:40], h.DatabaseID[:])
	binary.LittleEndian.PutUint64(buf[40:48], h.MetaPos)
	binary.LittleEndian.PutUint32(buf[48:52], h.MetaSize)
	binary.LittleEndian.PutUint16(buf[52:54], uint16(len(h.Segments)))

	for i, seg := range h.Segments {
		if len(seg.Name) > MaxSegmentName {
			return fmt.Errorf("segment name %q longer than %d bytes", seg.Name, MaxSegmentName)
		}
		entry := buf[segmentTableOff+i*segmentEntrySize:]
		copy(entry[0:16], seg.Name)
		binary.LittleEndian.PutUint64(entry[16:24], seg.Base)
		binary.LittleEndian.PutUint64(entry[24:32], seg.Size)
		binary.LittleEndian.PutUint32(entry[32:36], seg.Quantum)
		binary.LittleEndian.PutUint32(entry[36:40], seg.Flags)
	}

	binary.LittleEndian.PutUint32(buf[checksumOff:], crc32.ChecksumIEEE(buf[:checksumOff]))
	return nil
}

// Deserialize decodes and validates one header slot.
func (h *Header) Deserialize(buf []byte) error {
	if len(buf) < HeaderSlotSize {
		return ErrInvalidHeaderSize
	}

	var magic [4]byte
	copy(magic[:], buf[0:4])
	if magic != Magic {
		return ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(buf[checksumOff:]) != crc32.ChecksumIEEE(buf[:checksumOff]) {
		return ErrHeaderChecksum
	}

	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	if h.Version == 0 || h.Version > CurrentVersion {
		return ErrUnsupportedVersion
	}
	h.PageSize = binary.LittleEndian.Uint32(buf[8:12])
	h.Flags = binary.LittleEndian.Uint32(buf[12:16])
	h.Generation = binary.LittleEndian.Uint64(buf[16:24])
	copy(h.DatabaseID[:], buf[24:40])
	h.MetaPos = binary.LittleEndian.Uint64(buf[40:48])
	h.MetaSize = binary.LittleEndian.Uint32(buf[48:52])

	count := int(binary.LittleEndian.Uint16(buf[52:54]))
	if count > MaxSegments {
		return fmt.Errorf("%w: %d", ErrTooManySegments, count)
	}

	h.Segments = make([]SegmentEntry, count)
	for i := range h.Segments {
		entry := buf[segmentTableOff+i*segmentEntrySize:]
		name := entry[0:16]
		end := 0
		for end < len(name) && name[end] != 0 {
			end++
		}
		h.Segments[i] = SegmentEntry{
			Name:    string(name[:end]),
			Base:    binary.LittleEndian.Uint64(entry[16:24]),
			Size:    binary.LittleEndian.Uint64(entry[24:32]),
			Quantum: binary.LittleEndian.Uint32(entry[32:36]),
			Flags:   binary.LittleEndian.Uint32(entry[36:40]),
		}
	}

	if !ValidPageSize(int(h.PageSize)) {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, h.PageSize)
	}
	return nil
}

// ValidPageSize reports whether size is a power of two in
// [MinPageSize, MaxPageSize].
func ValidPageSize(size int) bool {
	return size >= MinPageSize && size <= MaxPageSize && size&(size-1) == 0
}

// ReadHeader reads both header slots and returns the valid one with the
// highest generation. It returns ErrNoValidHeader when neither slot is
// valid, wrapping the error of the first slot.
func ReadHeader(s Store) (*Header, error) {
	buf := make([]byte, HeaderSlots*HeaderSlotSize)
	if _, err := ReadFull(s, 0, buf); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var best *Header
	var firstErr error
	for slot := 0; slot < HeaderSlots; slot++ {
		h := &Header{}
		if err := h.Deserialize(buf[slot*HeaderSlotSize:]); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if h.Slot() != slot {
			continue
		}
		if best == nil || h.Generation > best.Generation {
			best = h
		}
	}

	if best == nil {
		if firstErr == nil {
			firstErr = ErrInvalidMagic
		}
		return nil, fmt.Errorf("%w: %w", ErrNoValidHeader, firstErr)
	}
	return best, nil
}

// WriteHeader writes h into its generation's slot.
func WriteHeader(s Store, h *Header) error {
	buf, err := h.Serialize()
	if err != nil {
		return err
	}
	return s.Write(int64(h.Slot()*HeaderSlotSize), buf)
}

// IsStoreFile reports whether buf starts with the obastore magic number.
func IsStoreFile(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	var magic [4]byte
	copy(magic[:], buf[0:4])
	return magic == Magic
}
