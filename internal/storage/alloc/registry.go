package alloc

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/KilimcininKorOglu/obastore/internal/logging"
)

// Registry errors.
var (
	ErrSegmentExists   = errors.New("segment already registered")
	ErrSegmentOverlap  = errors.New("segment overlaps a registered segment")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrNoSegments      = errors.New("no segments registered")
	ErrRegistryClosed  = errors.New("segment registry is closed")
)

// Registry owns the allocators of one open database. Segments are
// registered once and never move.
type Registry struct {
	mu         sync.RWMutex
	allocators []*Allocator // ordered by base
	byName     map[string]*Allocator
	logger     logging.Logger
	closed     bool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		byName: make(map[string]*Allocator),
		logger: logger,
	}
}

// Add creates and registers an allocator for cfg.
func (r *Registry) Add(cfg SegmentConfig) (*Allocator, error) {
	a, err := New(cfg, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, ok := r.byName[cfg.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSegmentExists, cfg.Name)
	}
	for _, other := range r.allocators {
		o := other.Config()
		if cfg.Base < o.End() && o.Base < cfg.End() {
			return nil, fmt.Errorf("%w: %s overlaps %s", ErrSegmentOverlap, cfg.Name, o.Name)
		}
	}

	r.allocators = append(r.allocators, a)
	sort.Slice(r.allocators, func(i, j int) bool {
		return r.allocators[i].cfg.Base < r.allocators[j].cfg.Base
	})
	r.byName[cfg.Name] = a
	return a, nil
}

// Get returns the allocator registered under name.
func (r *Registry) Get(name string) (*Allocator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, name)
	}
	return a, nil
}

// ForPosition returns the allocator whose segment contains pos.
func (r *Registry) ForPosition(pos uint64) (*Allocator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := sort.Search(len(r.allocators), func(i int) bool {
		return r.allocators[i].cfg.End() > pos
	})
	if i < len(r.allocators) && r.allocators[i].Contains(pos) {
		return r.allocators[i], nil
	}
	return nil, fmt.Errorf("%w: no segment contains position %d", ErrSegmentNotFound, pos)
}

// Default returns the allocator for ordinary objects: the lowest segment
// not marked large.
func (r *Registry) Default() (*Allocator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.allocators {
		if !a.cfg.Large {
			return a, nil
		}
	}
	return nil, ErrNoSegments
}

// Large returns the allocator for large binaries, falling back to the
// default segment when no segment is marked large.
func (r *Registry) Large() (*Allocator, error) {
	r.mu.RLock()
	for _, a := range r.allocators {
		if a.cfg.Large {
			r.mu.RUnlock()
			return a, nil
		}
	}
	r.mu.RUnlock()
	return r.Default()
}

// All returns the allocators ordered by segment base.
func (r *Registry) All() []*Allocator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Allocator, len(r.allocators))
	copy(out, r.allocators)
	return out
}

// CommitAll commits every allocator, stopping at the first error.
func (r *Registry) CommitAll() error {
	for _, a := range r.All() {
		if err := a.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// States snapshots every allocator keyed by segment name.
func (r *Registry) States() map[string]State {
	all := r.All()
	states := make(map[string]State, len(all))
	for _, a := range all {
		states[a.cfg.Name] = a.State()
	}
	return states
}

// RestoreAll restores every allocator from states. Segments missing from
// states are reset to fully free.
func (r *Registry) RestoreAll(states map[string]State) error {
	for _, a := range r.All() {
		st, ok := states[a.cfg.Name]
		if !ok {
			st = State{Free: []Run{{Pos: a.cfg.Base, Size: a.cfg.Size}}}
		}
		if err := a.Restore(st); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every allocator.
func (r *Registry) Validate() error {
	for _, a := range r.All() {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns occupancy for every segment.
func (r *Registry) Stats() []Stats {
	all := r.All()
	out := make([]Stats, len(all))
	for i, a := range all {
		out[i] = a.Stats()
	}
	return out
}

// Close drops every allocator. The registry cannot be reused.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.allocators = nil
	r.byName = make(map[string]*Allocator)
	r.closed = true
	return nil
}
