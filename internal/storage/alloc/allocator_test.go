package alloc

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
)

func newTestAllocator(t *testing.T, base, size uint64, quantum uint32) *Allocator {
	t.Helper()
	a, err := New(SegmentConfig{Name: "test", Base: base, Size: size, Quantum: quantum}, nil)
	require.NoError(t, err)
	return a
}

// =============================================================================
// Allocate / Free / Commit
// =============================================================================

func TestAllocateFreeCommitScenario(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 1)

	p1, err := a.Allocate(100)
	require.NoError(t, err)
	p2, err := a.Allocate(200)
	require.NoError(t, err)
	p3, err := a.Allocate(50)
	require.NoError(t, err)

	runs := []Run{{p1, 100}, {p2, 200}, {p3, 50}}
	for i := range runs {
		for j := i + 1; j < len(runs); j++ {
			assert.False(t, runs[i].Overlaps(runs[j]), "%s overlaps %s", runs[i], runs[j])
		}
	}

	require.NoError(t, a.Free(p2, 200))
	freed := Run{p2, 200}

	p4, err := a.Allocate(200)
	require.NoError(t, err)
	assert.False(t, freed.Overlaps(Run{p4, 200}), "shadow run reused before commit")

	require.NoError(t, a.Commit())

	p5, err := a.Allocate(200)
	require.NoError(t, err)
	assert.Equal(t, p2, p5, "best fit should reuse the committed run")
}

func TestAllocateOutOfSpaceLeavesStateUnchanged(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 1)

	_, err := a.Allocate(600)
	require.NoError(t, err)
	before := a.State()

	_, err = a.Allocate(401)
	assert.ErrorIs(t, err, storage.ErrOutOfSpace)
	assert.Equal(t, before, a.State())

	pos, err := a.Allocate(400)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), pos)
}

func TestAllocateShadowForcesOutOfSpace(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 1)

	pos, err := a.Allocate(1000)
	require.NoError(t, err)
	require.NoError(t, a.Free(pos, 1000))

	_, err = a.Allocate(10)
	assert.ErrorIs(t, err, storage.ErrOutOfSpace)

	require.NoError(t, a.Commit())
	_, err = a.Allocate(10)
	assert.NoError(t, err)
}

func TestAllocateBestFitLowestPosition(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 1)

	var pos []uint64
	for _, size := range []uint64{100, 10, 100, 10, 50, 10} {
		p, err := a.Allocate(size)
		require.NoError(t, err)
		pos = append(pos, p)
	}
	// Free the two 100-byte runs and the 50-byte run.
	require.NoError(t, a.Free(pos[0], 100))
	require.NoError(t, a.Free(pos[2], 100))
	require.NoError(t, a.Free(pos[4], 50))
	require.NoError(t, a.Commit())

	p, err := a.Allocate(40)
	require.NoError(t, err)
	assert.Equal(t, pos[4], p, "smallest fitting run")

	p, err = a.Allocate(90)
	require.NoError(t, err)
	assert.Equal(t, pos[0], p, "lowest position among equal sizes")
}

func TestAllocateQuantizes(t *testing.T) {
	a := newTestAllocator(t, 4096, 1<<20, 16)

	p1, err := a.Allocate(1)
	require.NoError(t, err)
	p2, err := a.Allocate(17)
	require.NoError(t, err)
	p3, err := a.Allocate(16)
	require.NoError(t, err)

	assert.Equal(t, uint64(4096), p1)
	assert.Equal(t, uint64(4112), p2)
	assert.Equal(t, uint64(4144), p3)
	assert.Equal(t, uint64(48), a.Stats().UsedBytes)
}

func TestAllocateInvalidSize(t *testing.T) {
	a := newTestAllocator(t, 0, 100, 1)
	_, err := a.Allocate(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestAllocateOversizedRequest(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 16)

	for _, size := range []uint64{1001, math.MaxUint64 - 3, math.MaxUint64} {
		before := a.State()
		_, err := a.Allocate(size)
		assert.ErrorIs(t, err, storage.ErrOutOfSpace, "size %d", size)
		assert.Equal(t, before, a.State())
	}

	// 993 rounds up to 1008, past the segment end.
	_, err := a.Allocate(993)
	assert.ErrorIs(t, err, storage.ErrOutOfSpace)

	pos, err := a.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pos)
	assert.Equal(t, uint64(112), a.Stats().UsedBytes)
}

func TestPositionsStayInsideSegment(t *testing.T) {
	a := newTestAllocator(t, 5000, 3000, 8)
	for {
		pos, err := a.Allocate(123)
		if err != nil {
			assert.ErrorIs(t, err, storage.ErrOutOfSpace)
			break
		}
		assert.True(t, a.Contains(pos))
		assert.LessOrEqual(t, pos+a.Quantize(123), a.SegmentBase()+a.SegmentSize())
	}
}

func TestFreeRejectsInvalidRuns(t *testing.T) {
	a := newTestAllocator(t, 100, 1000, 1)

	pos, err := a.Allocate(100)
	require.NoError(t, err)

	tests := []struct {
		name string
		pos  uint64
		size uint64
	}{
		{"outside segment", 0, 10},
		{"past segment end", 1050, 100},
		{"free space", 500, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, a.Free(tt.pos, tt.size), ErrInvalidRun)
		})
	}

	assert.ErrorIs(t, a.Free(pos, math.MaxUint64), ErrInvalidSize)
	assert.Empty(t, a.State().Shadow)
	assert.True(t, a.IsAllocated(pos, 100))

	require.NoError(t, a.Free(pos, 100))
	assert.ErrorIs(t, a.Free(pos, 100), ErrInvalidRun, "double free")
}

func TestCommitIsIdempotent(t *testing.T) {
	once := newTestAllocator(t, 0, 1000, 1)
	twice := newTestAllocator(t, 0, 1000, 1)

	for _, a := range []*Allocator{once, twice} {
		p, err := a.Allocate(300)
		require.NoError(t, err)
		_, err = a.Allocate(300)
		require.NoError(t, err)
		require.NoError(t, a.Free(p, 300))
		require.NoError(t, a.Commit())
	}

	before := twice.State()
	require.NoError(t, twice.Commit())
	require.NoError(t, twice.Commit())
	assert.Equal(t, before, twice.State())
	assert.Equal(t, once.Stats().Commits, twice.Stats().Commits, "empty commits are not counted")

	for _, size := range []uint64{100, 250, 50, 300} {
		p1, err1 := once.Allocate(size)
		p2, err2 := twice.Allocate(size)
		assert.Equal(t, err1, err2)
		assert.Equal(t, p1, p2)
	}
}

func TestCommitWithoutPendingRuns(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 1)
	before := a.State()
	require.NoError(t, a.Commit())
	assert.Equal(t, before, a.State())
}

func TestCommitCoalescesRuns(t *testing.T) {
	a := newTestAllocator(t, 0, 300, 1)

	p1, _ := a.Allocate(100)
	p2, _ := a.Allocate(100)
	p3, _ := a.Allocate(100)
	require.NoError(t, a.Free(p1, 100))
	require.NoError(t, a.Free(p3, 100))
	require.NoError(t, a.Free(p2, 100))
	require.NoError(t, a.Commit())

	st := a.State()
	assert.Equal(t, []Run{{0, 300}}, st.Free)
	assert.Empty(t, st.Shadow)
}

// =============================================================================
// Reallocate
// =============================================================================

func TestReallocateShrinkInPlace(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 1)

	pos, err := a.Allocate(200)
	require.NoError(t, err)

	newPos, err := a.Reallocate(pos, 200, 120)
	require.NoError(t, err)
	assert.Equal(t, pos, newPos)

	st := a.State()
	assert.Equal(t, []Run{{pos + 120, 80}}, st.Shadow, "released tail is a shadow run")
}

func TestReallocateGrowIntoAdjacentFreeRun(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 1)

	pos, err := a.Allocate(100)
	require.NoError(t, err)

	newPos, err := a.Reallocate(pos, 100, 400)
	require.NoError(t, err)
	assert.Equal(t, pos, newPos)
	assert.Equal(t, uint64(400), a.Stats().UsedBytes)
	assert.Empty(t, a.State().Shadow)
}

func TestReallocateMovesWhenBlocked(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 1)

	pos, err := a.Allocate(100)
	require.NoError(t, err)
	_, err = a.Allocate(100) // blocks in-place growth
	require.NoError(t, err)

	newPos, err := a.Reallocate(pos, 100, 300)
	require.NoError(t, err)
	assert.NotEqual(t, pos, newPos)

	old := Run{pos, 100}
	assert.False(t, old.Overlaps(Run{newPos, 300}))
	assert.Equal(t, []Run{old}, a.State().Shadow, "old run waits for commit")
	assert.False(t, a.IsAllocated(pos, 100))
	assert.True(t, a.IsAllocated(newPos, 300))
}

func TestReallocateOutOfSpaceKeepsOldRun(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 1)

	pos, err := a.Allocate(500)
	require.NoError(t, err)
	_, err = a.Allocate(100)
	require.NoError(t, err)

	before := a.State()
	_, err = a.Reallocate(pos, 500, 600)
	assert.ErrorIs(t, err, storage.ErrOutOfSpace)
	assert.Equal(t, before, a.State())
	assert.True(t, a.IsAllocated(pos, 500))
}

func TestReallocateOversizedRequest(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 16)

	pos, err := a.Allocate(100)
	require.NoError(t, err)

	before := a.State()
	_, err = a.Reallocate(pos, 100, math.MaxUint64-3)
	assert.ErrorIs(t, err, storage.ErrOutOfSpace)
	_, err = a.Reallocate(pos, math.MaxUint64, 50)
	assert.ErrorIs(t, err, ErrInvalidRun)

	assert.Equal(t, before, a.State())
	assert.True(t, a.IsAllocated(pos, 100))
	assert.Equal(t, uint64(0), a.Stats().ShadowBytes)
}

func TestReallocateRejectsFreeRun(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 1)
	_, err := a.Reallocate(0, 100, 200)
	assert.ErrorIs(t, err, ErrInvalidRun)
}

// =============================================================================
// Shadow isolation (randomized)
// =============================================================================

func TestShadowIsolationRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := newTestAllocator(t, 1024, 64*1024, 16)

	live := map[uint64]uint64{}
	var shadows []Run

	for step := 0; step < 5000; step++ {
		switch op := rng.Intn(10); {
		case op < 5:
			size := uint64(rng.Intn(900) + 1)
			pos, err := a.Allocate(size)
			if err != nil {
				require.ErrorIs(t, err, storage.ErrOutOfSpace)
				continue
			}
			r := Run{pos, a.Quantize(size)}
			for _, s := range shadows {
				require.False(t, r.Overlaps(s), "step %d: %s reuses shadow %s", step, r, s)
			}
			for p, sz := range live {
				require.False(t, r.Overlaps(Run{p, sz}), "step %d: %s overlaps live run", step, r)
			}
			live[pos] = r.Size

		case op < 8:
			for pos, size := range live {
				require.NoError(t, a.Free(pos, size))
				shadows = append(shadows, Run{pos, size})
				delete(live, pos)
				break
			}

		default:
			require.NoError(t, a.Commit())
			shadows = shadows[:0]
		}
		require.NoError(t, a.Validate())
	}
}

// =============================================================================
// State / Restore / corruption
// =============================================================================

func TestStateRestoreRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 0, 1000, 1)
	p, _ := a.Allocate(100)
	_, _ = a.Allocate(100)
	require.NoError(t, a.Free(p, 100))
	st := a.State()

	b := newTestAllocator(t, 0, 1000, 1)
	require.NoError(t, b.Restore(st))
	assert.Equal(t, st, b.State())
	assert.Equal(t, a.Stats().UsedBytes, b.Stats().UsedBytes)
}

func TestRestoreCorruptStateMakesReadOnly(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{"run outside segment", State{Free: []Run{{2000, 10}}}},
		{"overlapping free runs", State{Free: []Run{{0, 100}, {50, 100}}}},
		{"shadow overlaps free", State{Free: []Run{{0, 100}}, Shadow: []Run{{90, 20}}}},
		{"empty run", State{Free: []Run{{10, 0}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAllocator(t, 0, 1000, 1)
			before := a.State()

			err := a.Restore(tt.state)
			require.ErrorIs(t, err, storage.ErrCorrupted)

			var ce *storage.CorruptionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "allocator test", ce.Structure)

			assert.Equal(t, before, a.State(), "corrupt state is not applied")
			assert.True(t, a.Stats().ReadOnly)

			_, err = a.Allocate(10)
			assert.ErrorIs(t, err, storage.ErrCorrupted)
			assert.ErrorIs(t, a.Free(0, 10), storage.ErrCorrupted)
			assert.ErrorIs(t, a.Commit(), storage.ErrCorrupted)
			assert.ErrorIs(t, a.Err(), storage.ErrCorrupted)
		})
	}
}

func TestSegmentConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  SegmentConfig
	}{
		{"no name", SegmentConfig{Size: 10, Quantum: 1}},
		{"zero size", SegmentConfig{Name: "x", Quantum: 1}},
		{"zero quantum", SegmentConfig{Name: "x", Size: 10}},
		{"wraps", SegmentConfig{Name: "x", Base: ^uint64(0) - 5, Size: 10, Quantum: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			assert.ErrorIs(t, err, ErrInvalidSegment)
		})
	}
}
