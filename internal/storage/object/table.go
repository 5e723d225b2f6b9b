package object

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/KilimcininKorOglu/obastore/internal/logging"
	"github.com/KilimcininKorOglu/obastore/internal/storage"
	"github.com/KilimcininKorOglu/obastore/internal/storage/alloc"
)

// DefaultLargeObjectThreshold is the record size from which objects are
// placed in the large segment.
const DefaultLargeObjectThreshold = 64 * 1024

// Table errors.
var (
	ErrNilObject     = errors.New("nil object")
	ErrUnknownOID    = errors.New("unknown oid")
	ErrNotRegistered = errors.New("object is not registered")
	ErrOIDExhausted  = errors.New("object identifiers exhausted")
)

// Location is where the current record of an object lives.
type Location struct {
	Pos   uint64  `cbor:"1,keyasint"`
	Size  uint32  `cbor:"2,keyasint"`
	Class ClassID `cbor:"3,keyasint"`
}

// TableOptions configures a Table.
type TableOptions struct {
	// LargeObjectThreshold is the record size from which objects go to
	// the large segment. Default: 64KB.
	LargeObjectThreshold int

	// Logger receives flush diagnostics. Default: no-op.
	Logger logging.Logger
}

type entry struct {
	obj     Object // nil until resolved
	loc     Location
	stored  bool   // loc is valid
	fresh   bool   // loc was allocated after the last commit
	dirty   bool   // obj must be written at the next flush
	version uint64 // bumped by every MarkDirty
}

// Table maps OIDs to objects and their stored records.
//
// OIDs are assigned from a monotonic counter and are never reused, even
// after the object is deallocated. The table lock is never held while an
// object is marshalled or unmarshalled, so objects may call back into the
// table from those methods.
type Table struct {
	mu        sync.Mutex
	store     storage.Store
	registry  *alloc.Registry
	classes   *Classes
	threshold int
	logger    logging.Logger

	nextOID  OID
	entries  map[OID]*entry
	byObject map[Object]OID
}

// NewTable creates an empty table writing through store and allocating
// from registry.
func NewTable(store storage.Store, registry *alloc.Registry, classes *Classes, opts TableOptions) *Table {
	if opts.LargeObjectThreshold <= 0 {
		opts.LargeObjectThreshold = DefaultLargeObjectThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if classes == nil {
		classes = NewClasses()
	}

	return &Table{
		store:     store,
		registry:  registry,
		classes:   classes,
		threshold: opts.LargeObjectThreshold,
		logger:    opts.Logger.Named("object"),
		nextOID:   1,
		entries:   make(map[OID]*entry),
		byObject:  make(map[Object]OID),
	}
}

// Classes returns the class registry used to decode records.
func (t *Table) Classes() *Classes {
	return t.classes
}

// EnsureRegistered returns the OID of obj, assigning a new one and
// marking obj dirty if obj is not yet known.
func (t *Table) EnsureRegistered(obj Object) (OID, error) {
	if obj == nil {
		return NilOID, ErrNilObject
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ensureRegisteredLocked(obj)
}

func (t *Table) ensureRegisteredLocked(obj Object) (OID, error) {
	if oid, ok := t.byObject[obj]; ok {
		return oid, nil
	}
	if t.nextOID == NilOID {
		return NilOID, ErrOIDExhausted
	}

	oid := t.nextOID
	t.nextOID++
	t.entries[oid] = &entry{obj: obj, dirty: true, version: 1}
	t.byObject[obj] = oid
	return oid, nil
}

// Lookup returns the OID of obj if it is registered.
func (t *Table) Lookup(obj Object) (OID, bool) {
	if obj == nil {
		return NilOID, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	oid, ok := t.byObject[obj]
	return oid, ok
}

// Resolve returns the object for oid, loading it from the store on first
// use. Resolving NilOID returns a nil object and no error.
func (t *Table) Resolve(oid OID) (Object, error) {
	if oid == NilOID {
		return nil, nil
	}

	t.mu.Lock()
	e, ok := t.entries[oid]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownOID, oid)
	}
	if e.obj != nil {
		obj := e.obj
		t.mu.Unlock()
		return obj, nil
	}
	loc := e.loc
	t.mu.Unlock()

	obj, err := t.load(oid, loc)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok = t.entries[oid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOID, oid)
	}
	if e.obj != nil {
		// Loaded concurrently; keep the first instance.
		return e.obj, nil
	}
	e.obj = obj
	t.byObject[obj] = oid
	return obj, nil
}

// load reads and decodes the record at loc.
func (t *Table) load(oid OID, loc Location) (Object, error) {
	payload, err := t.readRecord(oid, loc)
	if err != nil {
		return nil, err
	}

	obj, err := t.classes.New(loc.Class)
	if err != nil {
		return nil, fmt.Errorf("oid %d: %w", oid, err)
	}
	if err := obj.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("failed to decode oid %d: %w", oid, err)
	}
	return obj, nil
}

func (t *Table) readRecord(oid OID, loc Location) ([]byte, error) {
	buf := make([]byte, loc.Size)
	n, err := storage.ReadFull(t.store, int64(loc.Pos), buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read oid %d: %w", oid, err)
	}
	if n != len(buf) {
		return nil, storage.Corruptf("object record", "oid %d: record at %d past end of store", oid, loc.Pos)
	}

	class, payload, err := decodeRecord(buf, oid)
	if err != nil {
		return nil, err
	}
	if class != loc.Class {
		return nil, storage.Corruptf("object record", "oid %d: class %d, location says %d", oid, class, loc.Class)
	}
	return payload, nil
}

// MarkDirty schedules obj to be rewritten at the next Flush, registering
// it first if needed.
func (t *Table) MarkDirty(obj Object) error {
	if obj == nil {
		return ErrNilObject
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	oid, err := t.ensureRegisteredLocked(obj)
	if err != nil {
		return err
	}
	e := t.entries[oid]
	e.dirty = true
	e.version++
	return nil
}

// Deallocate releases the storage of obj and forgets its OID.
//
// This is dangerous: any other object still holding the OID will fail to
// resolve it.
func (t *Table) Deallocate(obj Object) error {
	oid, ok := t.Lookup(obj)
	if !ok {
		return ErrNotRegistered
	}
	return t.DeallocateOID(oid)
}

// DeallocateOID releases the storage of oid and forgets it. The OID is
// never handed out again. See Deallocate.
func (t *Table) DeallocateOID(oid OID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deallocateLocked(oid)
}

// DeallocateOIDs releases every OID in oids. All of them are checked
// first; if any is unknown or its run is not live, nothing is released.
func (t *Table) DeallocateOIDs(oids []OID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, oid := range oids {
		e, ok := t.entries[oid]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownOID, oid)
		}
		if !e.stored {
			continue
		}
		a, err := t.registry.ForPosition(e.loc.Pos)
		if err != nil {
			return fmt.Errorf("oid %d: %w", oid, err)
		}
		if !a.IsAllocated(e.loc.Pos, uint64(e.loc.Size)) {
			return fmt.Errorf("%w: oid %d at %d", alloc.ErrInvalidRun, oid, e.loc.Pos)
		}
	}

	for _, oid := range oids {
		if err := t.deallocateLocked(oid); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) deallocateLocked(oid OID) error {
	e, ok := t.entries[oid]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOID, oid)
	}
	if e.stored {
		if err := t.freeLocked(e.loc); err != nil {
			return fmt.Errorf("failed to free oid %d: %w", oid, err)
		}
	}

	if e.obj != nil {
		delete(t.byObject, e.obj)
	}
	delete(t.entries, oid)
	return nil
}

func (t *Table) freeLocked(loc Location) error {
	a, err := t.registry.ForPosition(loc.Pos)
	if err != nil {
		return err
	}
	return a.Free(loc.Pos, uint64(loc.Size))
}

type pending struct {
	oid     OID
	obj     Object
	version uint64
}

// Flush writes every dirty object.
//
// A record first written after the last commit is resized in place with
// Reallocate. A committed record is never overwritten: the new record
// goes to a fresh run and the old run is freed, so it stays intact until
// the allocator commits.
func (t *Table) Flush() error {
	t.mu.Lock()
	var work []pending
	for oid, e := range t.entries {
		if e.dirty && e.obj != nil {
			work = append(work, pending{oid: oid, obj: e.obj, version: e.version})
		}
	}
	t.mu.Unlock()

	sort.Slice(work, func(i, j int) bool { return work[i].oid < work[j].oid })

	var written, bytes int
	for _, p := range work {
		payload, err := p.obj.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to encode oid %d: %w", p.oid, err)
		}
		record, err := encodeRecord(p.oid, p.obj.ClassID(), payload)
		if err != nil {
			return err
		}

		ok, err := t.writeRecord(p, record)
		if err != nil {
			return err
		}
		if ok {
			written++
			bytes += len(record)
		}
	}

	if written > 0 {
		t.logger.Debug("flush", "objects", written, "bytes", bytes)
	}
	return nil
}

// writeRecord places record for p. It returns false if the entry was
// deallocated or replaced while p was being marshalled.
func (t *Table) writeRecord(p pending, record []byte) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[p.oid]
	if !ok || e.obj != p.obj {
		return false, nil
	}

	target, err := t.targetLocked(len(record))
	if err != nil {
		return false, err
	}

	size := uint64(len(record))
	inPlace := e.stored && e.fresh && target.Contains(e.loc.Pos)

	var pos uint64
	if inPlace {
		pos, err = target.Reallocate(e.loc.Pos, uint64(e.loc.Size), size)
	} else {
		pos, err = target.Allocate(size)
	}
	if err != nil {
		return false, fmt.Errorf("failed to place oid %d: %w", p.oid, err)
	}

	if err := t.store.Write(int64(pos), record); err != nil {
		err = fmt.Errorf("failed to write oid %d: %w", p.oid, err)
		if ferr := target.Free(pos, size); ferr != nil {
			return false, errors.Join(err, ferr)
		}
		if inPlace {
			// The uncommitted record went with its run; the object stays
			// dirty and is placed afresh by the next flush.
			e.stored = false
			e.loc = Location{}
		}
		return false, err
	}

	if e.stored && !inPlace {
		if err := t.freeLocked(e.loc); err != nil {
			err = fmt.Errorf("failed to release old record of oid %d: %w", p.oid, err)
			if ferr := target.Free(pos, size); ferr != nil {
				return false, errors.Join(err, ferr)
			}
			return false, err
		}
	}

	e.loc = Location{Pos: pos, Size: uint32(len(record)), Class: p.obj.ClassID()}
	e.stored = true
	e.fresh = true
	if e.version == p.version {
		e.dirty = false
	}
	return true, nil
}

func (t *Table) targetLocked(recordSize int) (*alloc.Allocator, error) {
	if recordSize >= t.threshold {
		return t.registry.Large()
	}
	return t.registry.Default()
}

// Committed marks every stored record as part of the committed image.
// Later flushes of those objects use copy-on-write.
func (t *Table) Committed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		e.fresh = false
	}
}

// Locations returns the record location of every stored object.
func (t *Table) Locations() map[OID]Location {
	t.mu.Lock()
	defer t.mu.Unlock()

	locs := make(map[OID]Location, len(t.entries))
	for oid, e := range t.entries {
		if e.stored {
			locs[oid] = e.loc
		}
	}
	return locs
}

// NextOID returns the OID the next registration will receive.
func (t *Table) NextOID() OID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextOID
}

// LoadLocations discards every resident object and replaces the table
// with committed locations.
func (t *Table) LoadLocations(locs map[OID]Location, nextOID OID) error {
	entries := make(map[OID]*entry, len(locs))
	for oid, loc := range locs {
		if oid == NilOID || (nextOID != NilOID && oid >= nextOID) {
			return storage.Corruptf("object table", "oid %d outside assigned range (next %d)", oid, nextOID)
		}
		if loc.Size < RecordOverhead {
			return storage.Corruptf("object table", "oid %d: record size %d", oid, loc.Size)
		}
		entries[oid] = &entry{loc: loc, stored: true}
	}
	if nextOID == NilOID && len(locs) == 0 {
		nextOID = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = entries
	t.byObject = make(map[Object]OID)
	t.nextOID = nextOID
	return nil
}

// Len returns the number of registered objects.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// DirtyCount returns the number of objects waiting for a flush.
func (t *Table) DirtyCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.entries {
		if e.dirty {
			n++
		}
	}
	return n
}

// OIDs returns every registered OID in ascending order.
func (t *Table) OIDs() []OID {
	t.mu.Lock()
	defer t.mu.Unlock()

	oids := make([]OID, 0, len(t.entries))
	for oid := range t.entries {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })
	return oids
}

// Verify reads back every stored record and checks its framing and that
// its run is live in its segment.
func (t *Table) Verify() error {
	locs := t.Locations()

	oids := make([]OID, 0, len(locs))
	for oid := range locs {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })

	for _, oid := range oids {
		loc := locs[oid]
		a, err := t.registry.ForPosition(loc.Pos)
		if err != nil {
			return storage.Corruptf("object table", "oid %d: %v", oid, err)
		}
		if !a.IsAllocated(loc.Pos, uint64(loc.Size)) {
			return storage.Corruptf("object table", "oid %d: record %d+%d is not allocated", oid, loc.Pos, loc.Size)
		}
		if _, err := t.readRecord(oid, loc); err != nil {
			return err
		}
	}
	return nil
}
