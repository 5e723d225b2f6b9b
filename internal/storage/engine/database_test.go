package engine

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obastore/internal/backup"
	"github.com/KilimcininKorOglu/obastore/internal/crypto"
	"github.com/KilimcininKorOglu/obastore/internal/storage"
	"github.com/KilimcininKorOglu/obastore/internal/storage/alloc"
	"github.com/KilimcininKorOglu/obastore/internal/storage/bitmask"
	"github.com/KilimcininKorOglu/obastore/internal/storage/object"
	"github.com/KilimcininKorOglu/obastore/internal/storage/patricia"
)

// smallSegments keeps in-memory stores small.
func smallSegments() []alloc.SegmentConfig {
	return []alloc.SegmentConfig{
		{Name: DefaultSegmentName, Base: 4096, Size: 1<<20 - 4096, Quantum: 16},
		{Name: LargeSegmentName, Base: 1 << 20, Size: 1 << 22, Quantum: 4096, Large: true},
	}
}

func testOptions() Options {
	return DefaultOptions().
		WithSegments(smallSegments()...).
		WithLargeObjectThreshold(1024)
}

func openMemory(t *testing.T, store storage.Store, opts Options) *DB {
	t.Helper()
	db, err := OpenStore(store, opts)
	require.NoError(t, err)
	return db
}

// reopen closes db and opens a copy of its bytes.
func reopen(t *testing.T, db *DB, store *storage.MemoryStore, opts Options) (*DB, *storage.MemoryStore) {
	t.Helper()
	require.NoError(t, db.Close())
	next := storage.NewMemoryStoreFrom(store.Bytes())
	return openMemory(t, next, opts), next
}

func rawData(t *testing.T, obj object.Object) string {
	t.Helper()
	raw, ok := obj.(*object.Raw)
	require.True(t, ok, "got %T", obj)
	return string(raw.Data)
}

func TestCreateWritesFirstGeneration(t *testing.T) {
	store := storage.NewMemoryStore()
	db := openMemory(t, store, testOptions())

	assert.Equal(t, uint64(1), db.Generation())
	assert.Equal(t, storage.DefaultPageSize, db.PageSize())
	assert.False(t, db.IsEncrypted())

	h, err := storage.ReadHeader(store)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.Generation)
	assert.Equal(t, db.ID(), h.DatabaseID)
	assert.NotZero(t, h.MetaPos)
	assert.Len(t, h.Segments, 2)

	// Nothing changed, nothing written.
	require.NoError(t, db.Commit())
	assert.Equal(t, uint64(1), db.Generation())
	require.NoError(t, db.Close())
}

func TestRootsAndIndexesSurviveReopen(t *testing.T) {
	store := storage.NewMemoryStore()
	opts := testOptions()
	db := openMemory(t, store, opts)

	trie, err := db.CreatePatriciaTrie()
	require.NoError(t, err)
	require.NoError(t, db.SetRoot("routes", trie))

	for _, r := range []struct {
		mask   uint64
		length int
		hop    string
	}{
		{0x0A, 8, "ten"},
		{0x0A01, 16, "ten-one"},
		{0, 0, "default"},
	} {
		hop, err := db.StoreRaw([]byte(r.hop))
		require.NoError(t, err)
		_, err = trie.Add(patricia.MustKey(r.mask, r.length), hop)
		require.NoError(t, err)
	}

	ix, err := db.CreateBitmaskIndex()
	require.NoError(t, err)
	require.NoError(t, db.SetRoot("flags", ix))
	tagged, err := db.StoreRaw([]byte("tagged"))
	require.NoError(t, err)
	require.NoError(t, ix.Put(tagged, 0b101))

	require.NoError(t, db.Commit())
	assert.Equal(t, uint64(2), db.Generation())

	db, store = reopen(t, db, store, opts)
	defer db.Close()
	assert.Equal(t, []string{"flags", "routes"}, db.Roots())

	obj, err := db.Root("routes")
	require.NoError(t, err)
	routes := obj.(*patricia.Trie)
	assert.Equal(t, 3, routes.Len())

	best, err := routes.FindBestMatch(patricia.MustKey(0x0A0102, 24))
	require.NoError(t, err)
	assert.Equal(t, "ten-one", rawData(t, best))

	best, err = routes.FindBestMatch(patricia.MustKey(0xC0, 8))
	require.NoError(t, err)
	assert.Equal(t, "default", rawData(t, best))

	obj, err = db.Root("flags")
	require.NoError(t, err)
	got, err := obj.(*bitmask.Index).Select(0b100, 0b010).Collect()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tagged", rawData(t, got[0]))

	require.NoError(t, db.Check())
}

func TestFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.obs")

	db, err := Open(path, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, path, db.Path())

	raw, err := db.StoreRaw([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, db.SetRoot("greeting", raw))
	require.NoError(t, db.Close())

	for _, mmap := range []bool{false, true} {
		db, err = Open(path, DefaultOptions().WithReadOnly(true).WithMmap(mmap))
		require.NoError(t, err)

		obj, err := db.Root("greeting")
		require.NoError(t, err)
		assert.Equal(t, "hello", rawData(t, obj))
		require.NoError(t, db.Check())
		require.NoError(t, db.Close())
	}
}

func TestFileLocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.obs")
	db, err := Open(path, DefaultOptions())
	require.NoError(t, err)

	_, err = Open(path, DefaultOptions())
	assert.ErrorIs(t, err, storage.ErrLocked)
	require.NoError(t, db.Close())

	// Shared locks admit a second reader but no writer.
	r1, err := Open(path, DefaultOptions().WithReadOnly(true))
	require.NoError(t, err)
	r2, err := Open(path, DefaultOptions().WithReadOnly(true))
	require.NoError(t, err)

	_, err = Open(path, DefaultOptions())
	assert.ErrorIs(t, err, storage.ErrLocked)

	require.NoError(t, r2.Close())
	require.NoError(t, r1.Close())
}

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.obs")
	_, err := Open(path, DefaultOptions().WithCreateIfNotExists(false))
	assert.Error(t, err)
}

func TestRollbackDiscardsChanges(t *testing.T) {
	db := openMemory(t, storage.NewMemoryStore(), testOptions())
	defer db.Close()

	keep, err := db.StoreRaw([]byte("keep"))
	require.NoError(t, err)
	require.NoError(t, db.SetRoot("keep", keep))
	require.NoError(t, db.Commit())
	gen := db.Generation()
	objects := db.Table().Len()

	drop, err := db.StoreRaw([]byte("drop"))
	require.NoError(t, err)
	require.NoError(t, db.SetRoot("drop", drop))
	require.NoError(t, db.SetRoot("keep", nil))

	require.NoError(t, db.Rollback())
	assert.Equal(t, gen, db.Generation())
	assert.Equal(t, objects, db.Table().Len())
	assert.Equal(t, []string{"keep"}, db.Roots())

	obj, err := db.Root("keep")
	require.NoError(t, err)
	assert.Equal(t, "keep", rawData(t, obj))

	_, err = db.Root("drop")
	assert.ErrorIs(t, err, ErrRootNotFound)
}

func TestDeallocatedOIDsNotReused(t *testing.T) {
	store := storage.NewMemoryStore()
	opts := testOptions()
	db := openMemory(t, store, opts)

	raw, err := db.StoreRaw([]byte("a"))
	require.NoError(t, err)
	first, _ := db.Table().Lookup(raw)
	require.NoError(t, db.Commit())
	require.NoError(t, db.Deallocate(raw))

	db, _ = reopen(t, db, store, opts)
	defer db.Close()

	_, err = db.Resolve(first)
	assert.ErrorIs(t, err, object.ErrUnknownOID)

	next, err := db.StoreRaw([]byte("b"))
	require.NoError(t, err)
	second, _ := db.Table().Lookup(next)
	assert.Greater(t, second, first)
}

// failingStore fails writes into the header page once armed.
type failingStore struct {
	*storage.MemoryStore
	armed bool
}

var errInjected = errors.New("injected failure")

func (f *failingStore) Write(pos int64, buf []byte) error {
	if f.armed && pos < storage.HeaderSlots*storage.HeaderSlotSize {
		return errInjected
	}
	return f.MemoryStore.Write(pos, buf)
}

func TestFailedCommitLeavesPreviousImage(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := &failingStore{MemoryStore: mem}
	opts := testOptions()
	db := openMemory(t, store, opts)

	trie, err := db.CreatePatriciaTrie()
	require.NoError(t, err)
	require.NoError(t, db.SetRoot("t", trie))
	for i := 0; i < 50; i++ {
		v, err := db.StoreRaw([]byte{byte(i)})
		require.NoError(t, err)
		_, err = trie.Add(patricia.MustKey(uint64(i), 8), v)
		require.NoError(t, err)
	}
	require.NoError(t, db.Commit())

	// Rewrite every object, then fail at the header write.
	for i := 0; i < 50; i++ {
		v, err := db.StoreRaw([]byte{byte(i), byte(i)})
		require.NoError(t, err)
		_, err = trie.Add(patricia.MustKey(uint64(i), 8), v)
		require.NoError(t, err)
	}
	store.armed = true
	assert.ErrorIs(t, db.Commit(), errInjected)

	crashed := openMemory(t, storage.NewMemoryStoreFrom(mem.Bytes()), opts)
	defer crashed.Close()

	obj, err := crashed.Root("t")
	require.NoError(t, err)
	recovered := obj.(*patricia.Trie)
	require.Equal(t, 50, recovered.Len())
	for i := 0; i < 50; i++ {
		v, err := recovered.FindExactMatch(patricia.MustKey(uint64(i), 8))
		require.NoError(t, err)
		assert.Equal(t, string([]byte{byte(i)}), rawData(t, v))
	}
	require.NoError(t, crashed.Check())

	store.armed = false
	require.NoError(t, db.Rollback())
	require.NoError(t, db.Close())
}

func TestFreedSpaceReusedAfterCommit(t *testing.T) {
	db := openMemory(t, storage.NewMemoryStore(), testOptions())
	defer db.Close()

	raw, err := db.StoreRaw(make([]byte, 512))
	require.NoError(t, err)
	require.NoError(t, db.Commit())
	used := db.Registry().Stats()[0].UsedBytes

	require.NoError(t, db.Deallocate(raw))
	s := db.Registry().Stats()[0]
	assert.NotZero(t, s.ShadowBytes, "freed run waits for commit")

	require.NoError(t, db.Commit())
	s = db.Registry().Stats()[0]
	assert.Zero(t, s.ShadowBytes)
	assert.Less(t, s.UsedBytes, used)
}

func TestLargeObjectsUseLargeSegment(t *testing.T) {
	db := openMemory(t, storage.NewMemoryStore(), testOptions())
	defer db.Close()

	small, err := db.StoreRaw(make([]byte, 100))
	require.NoError(t, err)
	big, err := db.StoreRaw(bytes.Repeat([]byte{7}, 5000))
	require.NoError(t, err)
	require.NoError(t, db.Commit())

	locs := db.Table().Locations()
	smallOID, _ := db.Table().Lookup(small)
	bigOID, _ := db.Table().Lookup(big)

	assert.Less(t, locs[smallOID].Pos, uint64(1<<20))
	assert.GreaterOrEqual(t, locs[bigOID].Pos, uint64(1<<20))
	assert.Zero(t, locs[bigOID].Pos%4096)
}

func TestEncryptedDatabase(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	opts := testOptions().WithEncryptionKey(key)

	store := storage.NewMemoryStore()
	db := openMemory(t, store, opts)
	assert.True(t, db.IsEncrypted())

	secret, err := db.StoreRaw([]byte("top secret payload"))
	require.NoError(t, err)
	require.NoError(t, db.SetRoot("secret", secret))

	db, store = reopen(t, db, store, opts)
	obj, err := db.Root("secret")
	require.NoError(t, err)
	assert.Equal(t, "top secret payload", rawData(t, obj))
	require.NoError(t, db.Close())

	assert.False(t, bytes.Contains(store.Bytes(), []byte("top secret")))

	h, err := storage.ReadHeader(store)
	require.NoError(t, err)
	assert.True(t, h.Encrypted())

	_, err = OpenStore(storage.NewMemoryStoreFrom(store.Bytes()), testOptions())
	assert.ErrorIs(t, err, ErrEncryptionRequired)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = OpenStore(storage.NewMemoryStoreFrom(store.Bytes()), testOptions().WithEncryptionKey(other))
	assert.ErrorIs(t, err, ErrWrongKey)
}

func TestKeyOnPlainDatabase(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, openMemory(t, store, testOptions()).Close())

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = OpenStore(storage.NewMemoryStoreFrom(store.Bytes()), testOptions().WithEncryptionKey(key))
	assert.ErrorIs(t, err, ErrNotEncrypted)
}

func TestReadOnly(t *testing.T) {
	_, err := OpenStore(storage.NewMemoryStore(), testOptions().WithReadOnly(true))
	assert.ErrorIs(t, err, ErrDatabaseReadOnly)

	store := storage.NewMemoryStore()
	require.NoError(t, openMemory(t, store, testOptions()).Close())

	ro := storage.NewMemoryStoreFrom(store.Bytes())
	db := openMemory(t, ro, testOptions().WithReadOnly(true))

	assert.True(t, db.IsReadOnly())
	assert.ErrorIs(t, db.Commit(), ErrDatabaseReadOnly)
	assert.ErrorIs(t, db.SetRoot("x", object.NewRaw(nil)), ErrDatabaseReadOnly)
	_, err = db.StoreRaw(nil)
	assert.ErrorIs(t, err, ErrDatabaseReadOnly)
	require.NoError(t, db.Close())
	assert.Equal(t, store.Bytes(), ro.Bytes())
}

func TestExclusiveLock(t *testing.T) {
	store := storage.NewMemoryStore()
	db := openMemory(t, store, testOptions())
	defer db.Close()

	_, err := OpenStore(store, testOptions())
	assert.ErrorIs(t, err, storage.ErrLocked)
}

func TestNoFlushSkipsSync(t *testing.T) {
	store := storage.NewMemoryStore()
	db := openMemory(t, store, testOptions().WithNoFlush(true))
	_, err := db.StoreRaw([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, db.Commit())
	assert.Zero(t, store.Syncs())
	require.NoError(t, db.Close())

	synced := storage.NewMemoryStore()
	db = openMemory(t, synced, testOptions())
	require.NoError(t, db.Close())
	assert.NotZero(t, synced.Syncs())
}

func TestRootNames(t *testing.T) {
	db := openMemory(t, storage.NewMemoryStore(), testOptions())
	defer db.Close()

	assert.ErrorIs(t, db.SetRoot("", object.NewRaw(nil)), ErrInvalidRootName)
	assert.ErrorIs(t, db.SetRoot(string(make([]byte, MaxRootNameLength+1)), object.NewRaw(nil)), ErrInvalidRootName)

	_, err := db.Root("nope")
	assert.ErrorIs(t, err, ErrRootNotFound)
}

func TestClosedDatabase(t *testing.T) {
	db := openMemory(t, storage.NewMemoryStore(), testOptions())
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Commit(), ErrDatabaseClosed)
	assert.ErrorIs(t, db.Rollback(), ErrDatabaseClosed)
	_, err := db.Root("x")
	assert.ErrorIs(t, err, ErrDatabaseClosed)
	_, err = db.Stats()
	assert.ErrorIs(t, err, ErrDatabaseClosed)
}

func TestCheckDetectsDamagedRecord(t *testing.T) {
	store := storage.NewMemoryStore()
	opts := testOptions()
	db := openMemory(t, store, opts)

	raw, err := db.StoreRaw([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, db.SetRoot("r", raw))
	require.NoError(t, db.Commit())
	oid, _ := db.Table().Lookup(raw)
	loc := db.Table().Locations()[oid]
	require.NoError(t, db.Close())

	damaged := store.Bytes()
	damaged[loc.Pos+uint64(loc.Size)-6] ^= 0xFF

	db = openMemory(t, storage.NewMemoryStoreFrom(damaged), opts)
	defer db.Close()
	assert.ErrorIs(t, db.Check(), storage.ErrCorrupted)
}

func TestStatsAndCollector(t *testing.T) {
	db := openMemory(t, storage.NewMemoryStore(), testOptions())
	defer db.Close()

	_, err := db.StoreRaw([]byte("x"))
	require.NoError(t, err)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Objects)
	assert.Equal(t, 1, stats.DirtyObjects)
	assert.Len(t, stats.Segments, 2)

	require.NoError(t, db.Commit())
	after, err := db.Stats()
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(db.Collector()))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	series := map[string]int{}
	for _, mf := range families {
		series[mf.GetName()] = len(mf.GetMetric())
		byName[mf.GetName()] = metricValue(mf.GetType(), mf.GetMetric()[0])
	}

	assert.Equal(t, float64(1), byName["obastore_objects"])
	assert.Equal(t, float64(0), byName["obastore_dirty_objects"])
	assert.Equal(t, float64(after.Commits), byName["obastore_commits_total"])
	assert.GreaterOrEqual(t, after.Commits, uint64(1))
	assert.Equal(t, float64(db.Generation()), byName["obastore_generation"])
	assert.Equal(t, 2, series["obastore_segment_free_bytes"])
	assert.Equal(t, 2, series["obastore_segment_used_bytes"])
}

func metricValue(typ dto.MetricType, m *dto.Metric) float64 {
	switch typ {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	}
	return 0
}

func TestBackupRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	opts := testOptions().WithEncryptionKey(key)

	db := openMemory(t, storage.NewMemoryStore(), opts)
	raw, err := db.StoreRaw([]byte("backed up"))
	require.NoError(t, err)
	require.NoError(t, db.SetRoot("r", raw))
	require.NoError(t, db.Commit())

	// Uncommitted changes are not part of the image.
	pending, err := db.StoreRaw([]byte("pending"))
	require.NoError(t, err)
	require.NoError(t, db.SetRoot("p", pending))

	var buf bytes.Buffer
	stats, err := db.Backup(&buf, backup.Options{Compress: true})
	require.NoError(t, err)
	assert.NotZero(t, stats.TotalPages)
	require.NoError(t, db.Rollback())
	require.NoError(t, db.Close())

	target := storage.NewMemoryStore()
	_, err = backup.Import(bytes.NewReader(buf.Bytes()), target, backup.RestoreOptions{Verify: true})
	require.NoError(t, err)

	restored := openMemory(t, target, opts)
	defer restored.Close()
	assert.Equal(t, []string{"r"}, restored.Roots())

	obj, err := restored.Root("r")
	require.NoError(t, err)
	assert.Equal(t, "backed up", rawData(t, obj))
}

func TestInvalidOptions(t *testing.T) {
	_, err := OpenStore(storage.NewMemoryStore(), DefaultOptions().WithPageSize(3000))
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = OpenStore(storage.NewMemoryStore(), DefaultOptions().WithSegments(
		alloc.SegmentConfig{Name: "low", Base: 0, Size: 1 << 20, Quantum: 16},
	))
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = OpenStore(storage.NewMemoryStore(), DefaultOptions().WithMmap(true))
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestBackupToFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data.obs")
	bakPath := filepath.Join(dir, "data.bak")

	db, err := Open(dbPath, DefaultOptions())
	require.NoError(t, err)
	raw, err := db.StoreRaw([]byte("on disk"))
	require.NoError(t, err)
	require.NoError(t, db.SetRoot("r", raw))
	require.NoError(t, db.Commit())

	_, err = db.BackupToFile(bakPath, backup.Options{})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	restoredPath := filepath.Join(dir, "restored.obs")
	_, err = backup.RestoreToFile(bakPath, restoredPath, backup.RestoreOptions{Verify: true})
	require.NoError(t, err)

	restored, err := Open(restoredPath, DefaultOptions().WithReadOnly(true))
	require.NoError(t, err)
	defer restored.Close()

	obj, err := restored.Root("r")
	require.NoError(t, err)
	assert.Equal(t, "on disk", rawData(t, obj))
}
