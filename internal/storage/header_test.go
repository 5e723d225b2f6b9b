package storage

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// =============================================================================
// Header Tests
// =============================================================================

func testSegments() []SegmentEntry {
	return []SegmentEntry{
		{Name: "default", Base: 4096, Size: 1<<40 - 4096, Quantum: 16},
		{Name: "large", Base: 1 << 40, Size: 1 << 40, Quantum: 4096, Flags: SegmentFlagLarge},
	}
}

func TestNewHeader(t *testing.T) {
	header := NewHeader(DefaultPageSize, testSegments())

	if header.Version != CurrentVersion {
		t.Errorf("Version = %v, want %v", header.Version, CurrentVersion)
	}
	if header.PageSize != DefaultPageSize {
		t.Errorf("PageSize = %v, want %v", header.PageSize, DefaultPageSize)
	}
	if header.Generation != 0 {
		t.Errorf("Generation = %v, want 0", header.Generation)
	}
	if header.DatabaseID == uuid.Nil {
		t.Error("DatabaseID should not be nil")
	}
	if header.Encrypted() {
		t.Error("Encrypted() = true, want false")
	}
}

func TestHeaderSerializeDeserialize(t *testing.T) {
	original := NewHeader(8192, testSegments())
	original.Flags = FlagEncrypted
	original.Generation = 41
	original.MetaPos = 123456
	original.MetaSize = 789

	buf, err := original.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if len(buf) != HeaderSlotSize {
		t.Errorf("Serialized buffer length = %v, want %v", len(buf), HeaderSlotSize)
	}
	if !IsStoreFile(buf) {
		t.Error("IsStoreFile() = false for serialized header")
	}

	restored := &Header{}
	if err := restored.Deserialize(buf); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}

	if restored.PageSize != original.PageSize {
		t.Errorf("PageSize = %v, want %v", restored.PageSize, original.PageSize)
	}
	if !restored.Encrypted() {
		t.Error("Encrypted() = false, want true")
	}
	if restored.Generation != original.Generation {
		t.Errorf("Generation = %v, want %v", restored.Generation, original.Generation)
	}
	if restored.DatabaseID != original.DatabaseID {
		t.Errorf("DatabaseID = %v, want %v", restored.DatabaseID, original.DatabaseID)
	}
	if restored.MetaPos != original.MetaPos || restored.MetaSize != original.MetaSize {
		t.Errorf("Meta = (%d, %d), want (%d, %d)",
			restored.MetaPos, restored.MetaSize, original.MetaPos, original.MetaSize)
	}
	if len(restored.Segments) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(restored.Segments))
	}
	for i, seg := range restored.Segments {
		if seg != original.Segments[i] {
			t.Errorf("Segments[%d] = %+v, want %+v", i, seg, original.Segments[i])
		}
	}
}

func TestHeaderSerializeToInvalidSize(t *testing.T) {
	header := NewHeader(DefaultPageSize, nil)
	if err := header.SerializeTo(make([]byte, 100)); err != ErrInvalidHeaderSize {
		t.Errorf("SerializeTo() error = %v, want %v", err, ErrInvalidHeaderSize)
	}
}

func TestHeaderTooManySegments(t *testing.T) {
	header := NewHeader(DefaultPageSize, make([]SegmentEntry, MaxSegments+1))
	if _, err := header.Serialize(); !errors.Is(err, ErrTooManySegments) {
		t.Errorf("Serialize() error = %v, want %v", err, ErrTooManySegments)
	}
}

func TestHeaderDeserializeErrors(t *testing.T) {
	valid, err := NewHeader(DefaultPageSize, testSegments()).Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(buf []byte)
		wantErr error
	}{
		{"bad magic", func(buf []byte) { buf[0] = 'X' }, ErrInvalidMagic},
		{"bad checksum", func(buf []byte) { buf[20] ^= 0xFF }, ErrHeaderChecksum},
		{"short buffer", nil, ErrInvalidHeaderSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := bytes.Clone(valid)
			if tt.mutate == nil {
				buf = buf[:10]
			} else {
				tt.mutate(buf)
			}
			h := &Header{}
			if err := h.Deserialize(buf); !errors.Is(err, tt.wantErr) {
				t.Errorf("Deserialize() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidPageSize(t *testing.T) {
	tests := []struct {
		size int
		want bool
	}{
		{512, false},
		{1024, true},
		{4096, true},
		{5000, false},
		{65536, true},
		{131072, false},
	}

	for _, tt := range tests {
		if got := ValidPageSize(tt.size); got != tt.want {
			t.Errorf("ValidPageSize(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

// =============================================================================
// Dual Slot Tests
// =============================================================================

func TestReadHeaderPicksNewestGeneration(t *testing.T) {
	store := NewMemoryStore()
	header := NewHeader(DefaultPageSize, testSegments())

	for gen := uint64(0); gen < 5; gen++ {
		header.Generation = gen
		header.MetaPos = 1000 + gen
		if err := WriteHeader(store, header); err != nil {
			t.Fatalf("WriteHeader(%d) failed: %v", gen, err)
		}
	}

	got, err := ReadHeader(store)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if got.Generation != 4 {
		t.Errorf("Generation = %d, want 4", got.Generation)
	}
	if got.MetaPos != 1004 {
		t.Errorf("MetaPos = %d, want 1004", got.MetaPos)
	}
}

func TestReadHeaderSurvivesTornSlot(t *testing.T) {
	store := NewMemoryStore()
	header := NewHeader(DefaultPageSize, testSegments())

	header.Generation = 6
	if err := WriteHeader(store, header); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	header.Generation = 7
	if err := WriteHeader(store, header); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}

	// Tear slot 1 (generation 7).
	if err := store.Write(HeaderSlotSize+30, []byte{0xDE, 0xAD}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := ReadHeader(store)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if got.Generation != 6 {
		t.Errorf("Generation = %d, want 6", got.Generation)
	}
}

func TestReadHeaderEmptyStore(t *testing.T) {
	_, err := ReadHeader(NewMemoryStore())
	if !errors.Is(err, ErrNoValidHeader) {
		t.Errorf("ReadHeader() error = %v, want %v", err, ErrNoValidHeader)
	}
}

func TestIsStoreFile(t *testing.T) {
	if IsStoreFile([]byte{'O', 'B'}) {
		t.Error("IsStoreFile() = true for short buffer")
	}
	if IsStoreFile([]byte("OBA\x00")) {
		t.Error("IsStoreFile() = true for foreign magic")
	}
	if !IsStoreFile([]byte("OBS\x00rest")) {
		t.Error("IsStoreFile() = false for obastore magic")
	}
}
