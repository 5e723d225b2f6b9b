package bitmask

import (
	"fmt"
	"sort"
	"sync"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
	"github.com/KilimcininKorOglu/obastore/internal/storage/object"
)

// Index maps objects to 32-bit property masks.
type Index struct {
	mu    sync.RWMutex
	table *object.Table
	masks map[object.OID]uint32
}

// New creates an empty index resolving objects through table.
func New(table *object.Table) *Index {
	return &Index{
		table: table,
		masks: make(map[object.OID]uint32),
	}
}

// Register installs the index factory for table's class registry.
func Register(table *object.Table) error {
	return table.Classes().Register(object.ClassBitmaskIndex, func() object.Object {
		return New(table)
	})
}

// ClassID returns object.ClassBitmaskIndex.
func (ix *Index) ClassID() object.ClassID {
	return object.ClassBitmaskIndex
}

// Len returns the number of indexed objects.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.masks)
}

// Get returns the mask stored for obj, or storage.ErrKeyNotFound.
func (ix *Index) Get(obj object.Object) (uint32, error) {
	oid, ok := ix.table.Lookup(obj)
	if !ok {
		return 0, storage.ErrKeyNotFound
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	mask, ok := ix.masks[oid]
	if !ok {
		return 0, storage.ErrKeyNotFound
	}
	return mask, nil
}

// Put stores mask for obj, replacing any previous mask. obj is registered
// with the identity table if it is not yet persistent.
func (ix *Index) Put(obj object.Object, mask uint32) error {
	if obj == nil {
		return object.ErrNilObject
	}
	oid, err := ix.table.EnsureRegistered(obj)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.masks[oid] = mask
	return ix.table.MarkDirty(ix)
}

// Remove deletes the entry for obj and reports whether one existed. obj
// itself is not deallocated.
func (ix *Index) Remove(obj object.Object) (bool, error) {
	oid, ok := ix.table.Lookup(obj)
	if !ok {
		return false, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.masks[oid]; !ok {
		return false, nil
	}
	delete(ix.masks, oid)
	return true, ix.table.MarkDirty(ix)
}

// Select returns an iterator over every object whose mask m satisfies
// m&setBits == setBits and m&clearBits == 0, in ascending OID order.
// Masks are tested as the iterator advances.
func (ix *Index) Select(setBits, clearBits uint32) *Iterator {
	ix.mu.RLock()
	oids := make([]object.OID, 0, len(ix.masks))
	for oid := range ix.masks {
		oids = append(oids, oid)
	}
	ix.mu.RUnlock()

	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })

	return &Iterator{
		index:     ix,
		oids:      oids,
		setBits:   setBits,
		clearBits: clearBits,
	}
}

// matches reports the current mask of oid against the predicate. Entries
// removed after the scan started do not match.
func (ix *Index) matches(oid object.OID, setBits, clearBits uint32) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	m, ok := ix.masks[oid]
	return ok && m&setBits == setBits && m&clearBits == 0
}

// DeallocateMembers deallocates every indexed object and clears the
// index. If any member cannot be deallocated, neither the index nor the
// members change.
//
// This is dangerous: objects still referenced from elsewhere are left
// dangling.
func (ix *Index) DeallocateMembers() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	oids := make([]object.OID, 0, len(ix.masks))
	for oid := range ix.masks {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })

	if err := ix.table.DeallocateOIDs(oids); err != nil {
		return fmt.Errorf("failed to deallocate members: %w", err)
	}
	ix.masks = make(map[object.OID]uint32)
	return ix.table.MarkDirty(ix)
}

// record is the persisted form of one entry.
type record struct {
	_    struct{} `cbor:",toarray"`
	OID  object.OID
	Mask uint32
}

// MarshalBinary encodes the entries in OID order.
func (ix *Index) MarshalBinary() ([]byte, error) {
	ix.mu.RLock()
	recs := make([]record, 0, len(ix.masks))
	for oid, mask := range ix.masks {
		recs = append(recs, record{OID: oid, Mask: mask})
	}
	ix.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].OID < recs[j].OID })
	return object.EncodeCBOR(recs)
}

// UnmarshalBinary replaces the entries with encoded ones.
func (ix *Index) UnmarshalBinary(data []byte) error {
	var recs []record
	if err := object.DecodeCBOR(data, &recs); err != nil {
		return storage.Corruptf("bitmask index", "decode: %v", err)
	}

	masks := make(map[object.OID]uint32, len(recs))
	for _, r := range recs {
		if r.OID == object.NilOID {
			return storage.Corruptf("bitmask index", "entry with nil oid")
		}
		if _, dup := masks[r.OID]; dup {
			return storage.Corruptf("bitmask index", "duplicate oid %d", r.OID)
		}
		masks[r.OID] = r.Mask
	}

	ix.mu.Lock()
	ix.masks = masks
	ix.mu.Unlock()
	return nil
}
