package alloc

import (
	"fmt"
	"sort"
)

// Run is a contiguous byte range [Pos, Pos+Size) inside a segment.
type Run struct {
	Pos  uint64 `cbor:"1,keyasint"`
	Size uint64 `cbor:"2,keyasint"`
}

// End returns the first position past the run.
func (r Run) End() uint64 {
	return r.Pos + r.Size
}

// Overlaps reports whether r and o share at least one byte.
func (r Run) Overlaps(o Run) bool {
	return r.Pos < o.End() && o.Pos < r.End()
}

// String returns the run as [pos, end).
func (r Run) String() string {
	return fmt.Sprintf("[%d, %d)", r.Pos, r.End())
}

// runSet is a set of disjoint runs ordered by position. Adjacent runs are
// coalesced on insert.
type runSet struct {
	runs  []Run
	bytes uint64
}

func newRunSet(runs []Run) *runSet {
	s := &runSet{runs: make([]Run, 0, len(runs))}
	for _, r := range runs {
		s.runs = append(s.runs, r)
		s.bytes += r.Size
	}
	return s
}

func (s *runSet) clone() *runSet {
	c := &runSet{runs: make([]Run, len(s.runs)), bytes: s.bytes}
	copy(c.runs, s.runs)
	return c
}

func (s *runSet) len() int {
	return len(s.runs)
}

// search returns the index of the first run whose end is past pos.
func (s *runSet) search(pos uint64) int {
	return sort.Search(len(s.runs), func(i int) bool {
		return s.runs[i].End() > pos
	})
}

// overlapping returns the first run overlapping r, if any.
func (s *runSet) overlapping(r Run) (Run, bool) {
	i := s.search(r.Pos)
	if i < len(s.runs) && s.runs[i].Overlaps(r) {
		return s.runs[i], true
	}
	return Run{}, false
}

// insert adds r, coalescing with its neighbours. It returns false and
// leaves the set unchanged if r overlaps a member.
func (s *runSet) insert(r Run) bool {
	if r.Size == 0 {
		return true
	}
	if _, ok := s.overlapping(r); ok {
		return false
	}

	i := sort.Search(len(s.runs), func(i int) bool {
		return s.runs[i].Pos >= r.End()
	})

	mergePrev := i > 0 && s.runs[i-1].End() == r.Pos
	mergeNext := i < len(s.runs) && s.runs[i].Pos == r.End()

	switch {
	case mergePrev && mergeNext:
		s.runs[i-1].Size += r.Size + s.runs[i].Size
		s.runs = append(s.runs[:i], s.runs[i+1:]...)
	case mergePrev:
		s.runs[i-1].Size += r.Size
	case mergeNext:
		s.runs[i].Pos = r.Pos
		s.runs[i].Size += r.Size
	default:
		s.runs = append(s.runs, Run{})
		copy(s.runs[i+1:], s.runs[i:])
		s.runs[i] = r
	}
	s.bytes += r.Size
	return true
}

// bestFit returns the index of the smallest run holding at least size
// bytes, preferring the lowest position among equal sizes.
func (s *runSet) bestFit(size uint64) int {
	best := -1
	for i, r := range s.runs {
		if r.Size < size {
			continue
		}
		if best < 0 || r.Size < s.runs[best].Size {
			best = i
			if r.Size == size {
				break
			}
		}
	}
	return best
}

// takeFront removes size bytes from the front of run i.
func (s *runSet) takeFront(i int, size uint64) uint64 {
	pos := s.runs[i].Pos
	if s.runs[i].Size == size {
		s.runs = append(s.runs[:i], s.runs[i+1:]...)
	} else {
		s.runs[i].Pos += size
		s.runs[i].Size -= size
	}
	s.bytes -= size
	return pos
}

// startingAt returns the index of the run beginning exactly at pos.
func (s *runSet) startingAt(pos uint64) int {
	i := sort.Search(len(s.runs), func(i int) bool {
		return s.runs[i].Pos >= pos
	})
	if i < len(s.runs) && s.runs[i].Pos == pos {
		return i
	}
	return -1
}

func (s *runSet) list() []Run {
	out := make([]Run, len(s.runs))
	copy(out, s.runs)
	return out
}
