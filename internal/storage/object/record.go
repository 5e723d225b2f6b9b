package object

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
)

// Record layout (little endian):
//
//	oid u32 | class u16 | length u32 | payload | crc32 u32
//
// The checksum covers the header and the payload.
const (
	recordHeaderSize = 10
	recordCRCSize    = 4

	// RecordOverhead is the framing added around every payload.
	RecordOverhead = recordHeaderSize + recordCRCSize

	// MaxPayloadSize is the largest payload a record can frame.
	MaxPayloadSize = math.MaxUint32 - RecordOverhead
)

// ErrObjectTooLarge is returned for payloads above MaxPayloadSize.
var ErrObjectTooLarge = errors.New("object too large")

func encodeRecord(oid OID, class ClassID, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: oid %d: %d bytes", ErrObjectTooLarge, oid, len(payload))
	}

	buf := make([]byte, RecordOverhead+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(oid))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(class))
	binary.LittleEndian.PutUint32(buf[6:10], uint32(len(payload)))
	copy(buf[recordHeaderSize:], payload)

	end := recordHeaderSize + len(payload)
	binary.LittleEndian.PutUint32(buf[end:], crc32.ChecksumIEEE(buf[:end]))
	return buf, nil
}

// decodeRecord validates a framed record for oid and returns its class
// and payload.
func decodeRecord(buf []byte, oid OID) (ClassID, []byte, error) {
	if len(buf) < RecordOverhead {
		return 0, nil, storage.Corruptf("object record", "oid %d: record truncated to %d bytes", oid, len(buf))
	}

	stored := OID(binary.LittleEndian.Uint32(buf[0:4]))
	class := ClassID(binary.LittleEndian.Uint16(buf[4:6]))
	length := int(binary.LittleEndian.Uint32(buf[6:10]))

	if stored != oid {
		return 0, nil, storage.Corruptf("object record", "oid %d: record belongs to oid %d", oid, stored)
	}
	if recordHeaderSize+length+recordCRCSize != len(buf) {
		return 0, nil, storage.Corruptf("object record", "oid %d: length %d does not match record size %d", oid, length, len(buf))
	}

	end := recordHeaderSize + length
	if binary.LittleEndian.Uint32(buf[end:]) != crc32.ChecksumIEEE(buf[:end]) {
		return 0, nil, storage.Corruptf("object record", "oid %d: checksum mismatch", oid)
	}
	return class, buf[recordHeaderSize:end], nil
}
