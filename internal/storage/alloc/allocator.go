package alloc

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/KilimcininKorOglu/obastore/internal/logging"
	"github.com/KilimcininKorOglu/obastore/internal/storage"
)

// Errors for allocator operations.
var (
	ErrInvalidSize    = errors.New("invalid allocation size")
	ErrInvalidRun     = errors.New("run is not a live allocation of this segment")
	ErrInvalidSegment = errors.New("invalid segment configuration")
)

// SegmentConfig defines the address window of one allocator.
type SegmentConfig struct {
	Name    string
	Base    uint64
	Size    uint64
	Quantum uint32
	Large   bool
}

// End returns the first position past the segment.
func (c SegmentConfig) End() uint64 {
	return c.Base + c.Size
}

// Validate checks the segment bounds and quantum.
func (c SegmentConfig) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidSegment)
	case c.Size == 0:
		return fmt.Errorf("%w: %s: size must be positive", ErrInvalidSegment, c.Name)
	case c.Quantum == 0:
		return fmt.Errorf("%w: %s: quantum must be positive", ErrInvalidSegment, c.Name)
	case c.Base+c.Size < c.Base:
		return fmt.Errorf("%w: %s: segment wraps the address space", ErrInvalidSegment, c.Name)
	}
	return nil
}

// Stats reports allocator occupancy.
type Stats struct {
	Name        string
	Base        uint64
	Size        uint64
	FreeBytes   uint64
	ShadowBytes uint64
	UsedBytes   uint64
	FreeRuns    int
	ShadowRuns  int
	Allocations uint64
	Frees       uint64
	Commits     uint64
	ReadOnly    bool
}

// State is the persisted bookkeeping of an allocator.
type State struct {
	Free   []Run `cbor:"1,keyasint"`
	Shadow []Run `cbor:"2,keyasint"`
}

// Allocator manages the free space of one segment.
//
// Free runs and shadow runs are kept in two disjoint sets. A run passed
// to Free, or released by Reallocate, enters the shadow set and is only
// moved to the free set by Commit, so space released by an unfinished
// transaction is never handed out again before that transaction's image
// has been superseded.
type Allocator struct {
	mu      sync.Mutex
	cfg     SegmentConfig
	free    *runSet
	shadow  *runSet
	corrupt error
	logger  logging.Logger

	allocations uint64
	frees       uint64
	commits     uint64
}

// New creates an allocator whose whole segment is free.
func New(cfg SegmentConfig, logger logging.Logger) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Allocator{
		cfg:    cfg,
		free:   newRunSet([]Run{{Pos: cfg.Base, Size: cfg.Size}}),
		shadow: newRunSet(nil),
		logger: logger.Named("alloc").WithFields("segment", cfg.Name),
	}, nil
}

// Config returns the segment configuration.
func (a *Allocator) Config() SegmentConfig {
	return a.cfg
}

// SegmentBase returns the first position of the segment.
func (a *Allocator) SegmentBase() uint64 {
	return a.cfg.Base
}

// SegmentSize returns the size of the segment in bytes.
func (a *Allocator) SegmentSize() uint64 {
	return a.cfg.Size
}

// Contains reports whether pos lies inside the segment.
func (a *Allocator) Contains(pos uint64) bool {
	return pos >= a.cfg.Base && pos < a.cfg.End()
}

// Quantize rounds size up to the segment quantum. Sizes larger than the
// segment are returned unchanged.
func (a *Allocator) Quantize(size uint64) uint64 {
	if q, ok := a.quantize(size); ok {
		return q
	}
	return size
}

// quantize rounds size up to the quantum. ok is false when the rounded
// size cannot fit in the segment.
func (a *Allocator) quantize(size uint64) (uint64, bool) {
	q := uint64(a.cfg.Quantum)
	if size > a.cfg.Size || size > math.MaxUint64-q+1 {
		return 0, false
	}
	rounded := (size + q - 1) / q * q
	return rounded, rounded <= a.cfg.Size
}

// Allocate reserves a run of at least size bytes and returns its position.
// The smallest free run that fits is used, lowest position first. On
// ErrOutOfSpace the allocator is unchanged.
func (a *Allocator) Allocate(size uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.corrupt != nil {
		return 0, a.corrupt
	}
	if size == 0 {
		return 0, ErrInvalidSize
	}
	want, ok := a.quantize(size)
	if !ok {
		return 0, fmt.Errorf("%w: segment %s: %d bytes exceeds the segment", storage.ErrOutOfSpace, a.cfg.Name, size)
	}
	return a.allocateLocked(want)
}

func (a *Allocator) allocateLocked(size uint64) (uint64, error) {
	i := a.free.bestFit(size)
	if i < 0 {
		return 0, fmt.Errorf("%w: segment %s: %d bytes", storage.ErrOutOfSpace, a.cfg.Name, size)
	}
	a.allocations++
	return a.free.takeFront(i, size), nil
}

// Reallocate resizes the run at pos from oldSize to newSize bytes.
//
// Shrinking and equal-size requests keep the position; the released tail
// becomes a shadow run. Growth first extends into a free run adjacent to
// the end of the old run. Otherwise a fresh run is allocated and the old
// run becomes a shadow run; copying the bytes is the caller's job. On
// error the allocator is unchanged.
func (a *Allocator) Reallocate(pos, oldSize, newSize uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.corrupt != nil {
		return 0, a.corrupt
	}
	if oldSize == 0 || newSize == 0 {
		return 0, ErrInvalidSize
	}

	oldQ, ok := a.quantize(oldSize)
	if !ok {
		return 0, fmt.Errorf("%w: %d bytes exceeds segment %s", ErrInvalidRun, oldSize, a.cfg.Name)
	}
	old := Run{Pos: pos, Size: oldQ}
	if err := a.checkLiveLocked(old); err != nil {
		return 0, err
	}

	want, ok := a.quantize(newSize)
	if !ok {
		return 0, fmt.Errorf("%w: segment %s: %d bytes exceeds the segment", storage.ErrOutOfSpace, a.cfg.Name, newSize)
	}
	switch {
	case want == old.Size:
		return pos, nil

	case want < old.Size:
		a.shadow.insert(Run{Pos: pos + want, Size: old.Size - want})
		a.frees++
		return pos, nil
	}

	grow := want - old.Size
	if i := a.free.startingAt(old.End()); i >= 0 && a.free.runs[i].Size >= grow {
		a.free.takeFront(i, grow)
		return pos, nil
	}

	newPos, err := a.allocateLocked(want)
	if err != nil {
		return 0, err
	}
	a.shadow.insert(old)
	a.frees++
	return newPos, nil
}

// Free marks the run at pos as a shadow run. It becomes reusable at the
// next Commit.
func (a *Allocator) Free(pos, size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.corrupt != nil {
		return a.corrupt
	}
	if size == 0 {
		return ErrInvalidSize
	}

	q, ok := a.quantize(size)
	if !ok {
		return fmt.Errorf("%w: %d bytes exceeds segment %s", ErrInvalidSize, size, a.cfg.Name)
	}
	r := Run{Pos: pos, Size: q}
	if err := a.checkLiveLocked(r); err != nil {
		return err
	}
	a.shadow.insert(r)
	a.frees++
	return nil
}

// checkLiveLocked verifies r lies inside the segment and is neither free
// nor pending free.
func (a *Allocator) checkLiveLocked(r Run) error {
	if r.Pos < a.cfg.Base || r.End() > a.cfg.End() || r.End() < r.Pos {
		return fmt.Errorf("%w: %s outside segment %s", ErrInvalidRun, r, a.cfg.Name)
	}
	if f, ok := a.free.overlapping(r); ok {
		return fmt.Errorf("%w: %s overlaps free run %s", ErrInvalidRun, r, f)
	}
	if s, ok := a.shadow.overlapping(r); ok {
		return fmt.Errorf("%w: %s overlaps shadow run %s", ErrInvalidRun, r, s)
	}
	return nil
}

// Commit moves every shadow run into the free set. It is a no-op when no
// shadow runs are pending. An overlap between the two sets is reported as
// corruption and makes the allocator read-only.
func (a *Allocator) Commit() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.corrupt != nil {
		return a.corrupt
	}
	if a.shadow.len() == 0 {
		return nil
	}

	merged := a.free.clone()
	for _, r := range a.shadow.runs {
		if !merged.insert(r) {
			f, _ := merged.overlapping(r)
			return a.markCorruptLocked("shadow run %s overlaps free run %s", r, f)
		}
	}

	released := a.shadow.bytes
	a.free = merged
	a.shadow = newRunSet(nil)
	a.commits++

	a.logger.Debug("commit", "released", released, "freeBytes", a.free.bytes, "freeRuns", a.free.len())
	return nil
}

// markCorruptLocked records an invariant violation and turns the
// allocator read-only.
func (a *Allocator) markCorruptLocked(format string, args ...interface{}) error {
	a.corrupt = storage.Corruptf("allocator "+a.cfg.Name, format, args...)
	a.logger.Error("allocator corrupted", "error", a.corrupt)
	return a.corrupt
}

// Err returns the corruption error that made the allocator read-only.
func (a *Allocator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.corrupt
}

// State returns a snapshot of the free and shadow sets.
func (a *Allocator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return State{
		Free:   a.free.list(),
		Shadow: a.shadow.list(),
	}
}

// Restore replaces the bookkeeping with a persisted snapshot. A snapshot
// with runs outside the segment, unsorted runs, or runs present in both
// sets is corruption.
func (a *Allocator) Restore(st State) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.corrupt != nil {
		return a.corrupt
	}

	free, err := a.buildSetLocked("free", st.Free)
	if err != nil {
		return err
	}
	shadow, err := a.buildSetLocked("shadow", st.Shadow)
	if err != nil {
		return err
	}
	for _, r := range shadow.runs {
		if f, ok := free.overlapping(r); ok {
			return a.markCorruptLocked("shadow run %s overlaps free run %s", r, f)
		}
	}

	a.free = free
	a.shadow = shadow
	return nil
}

func (a *Allocator) buildSetLocked(name string, runs []Run) (*runSet, error) {
	var prevEnd uint64
	for i, r := range runs {
		if r.Size == 0 || r.Pos < a.cfg.Base || r.End() > a.cfg.End() || r.End() < r.Pos {
			return nil, a.markCorruptLocked("%s run %s outside segment", name, r)
		}
		if i > 0 && r.Pos < prevEnd {
			return nil, a.markCorruptLocked("%s runs unordered or overlapping at %s", name, r)
		}
		prevEnd = r.End()
	}
	return newRunSet(runs), nil
}

// Validate checks the bookkeeping invariants without changing state.
func (a *Allocator) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.corrupt != nil {
		return a.corrupt
	}
	for _, set := range []struct {
		name string
		runs []Run
	}{{"free", a.free.runs}, {"shadow", a.shadow.runs}} {
		var prevEnd uint64
		for i, r := range set.runs {
			if r.Pos < a.cfg.Base || r.End() > a.cfg.End() {
				return storage.Corruptf("allocator "+a.cfg.Name, "%s run %s outside segment", set.name, r)
			}
			if i > 0 && r.Pos < prevEnd {
				return storage.Corruptf("allocator "+a.cfg.Name, "%s runs overlap at %s", set.name, r)
			}
			prevEnd = r.End()
		}
	}
	for _, r := range a.shadow.runs {
		if f, ok := a.free.overlapping(r); ok {
			return storage.Corruptf("allocator "+a.cfg.Name, "shadow run %s overlaps free run %s", r, f)
		}
	}
	return nil
}

// IsAllocated reports whether the run at pos is live: inside the segment
// and neither free nor pending free.
func (a *Allocator) IsAllocated(pos, size uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkLiveLocked(Run{Pos: pos, Size: a.Quantize(size)}) == nil
}

// Stats returns current occupancy figures.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		Name:        a.cfg.Name,
		Base:        a.cfg.Base,
		Size:        a.cfg.Size,
		FreeBytes:   a.free.bytes,
		ShadowBytes: a.shadow.bytes,
		UsedBytes:   a.cfg.Size - a.free.bytes - a.shadow.bytes,
		FreeRuns:    a.free.len(),
		ShadowRuns:  a.shadow.len(),
		Allocations: a.allocations,
		Frees:       a.frees,
		Commits:     a.commits,
		ReadOnly:    a.corrupt != nil,
	}
}
