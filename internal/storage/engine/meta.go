package engine

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
	"github.com/KilimcininKorOglu/obastore/internal/storage/alloc"
	"github.com/KilimcininKorOglu/obastore/internal/storage/object"
)

// metaMagic tags meta records ("OBSM").
var metaMagic = [4]byte{'O', 'B', 'S', 'M'}

// metaOverhead is magic, payload length and trailing CRC32.
const metaOverhead = 12

// maxMetaAttempts bounds the size negotiation in writeMeta.
const maxMetaAttempts = 4

// meta is the committed state referenced by a header generation. It
// records its own run as allocated, so it describes exactly the image the
// header points at.
type meta struct {
	Generation uint64                         `cbor:"1,keyasint"`
	NextOID    object.OID                     `cbor:"2,keyasint"`
	Objects    map[object.OID]object.Location `cbor:"3,keyasint"`
	Roots      map[string]object.OID          `cbor:"4,keyasint"`
	Segments   map[string]alloc.State         `cbor:"5,keyasint"`
}

func encodeMeta(m *meta) ([]byte, error) {
	payload, err := object.EncodeCBOR(m)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, metaOverhead+len(payload))
	copy(buf[0:4], metaMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	binary.LittleEndian.PutUint32(buf[8+len(payload):], crc32.ChecksumIEEE(buf[:8+len(payload)]))
	return buf, nil
}

func decodeMeta(buf []byte) (*meta, error) {
	if len(buf) < metaOverhead {
		return nil, storage.Corruptf("meta record", "short record: %d bytes", len(buf))
	}
	var magic [4]byte
	copy(magic[:], buf[0:4])
	if magic != metaMagic {
		return nil, storage.Corruptf("meta record", "bad magic %x", magic)
	}

	n := int(binary.LittleEndian.Uint32(buf[4:8]))
	if n > len(buf)-metaOverhead {
		return nil, storage.Corruptf("meta record", "payload length %d exceeds run of %d bytes", n, len(buf))
	}
	want := binary.LittleEndian.Uint32(buf[8+n:])
	if got := crc32.ChecksumIEEE(buf[:8+n]); got != want {
		return nil, storage.Corruptf("meta record", "checksum %08x, want %08x", got, want)
	}

	m := &meta{}
	if err := object.DecodeCBOR(buf[8:8+n], m); err != nil {
		return nil, storage.Corruptf("meta record", "decode: %v", err)
	}
	return m, nil
}
