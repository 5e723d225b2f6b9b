package engine

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/KilimcininKorOglu/obastore/internal/backup"
	"github.com/KilimcininKorOglu/obastore/internal/crypto"
	"github.com/KilimcininKorOglu/obastore/internal/logging"
	"github.com/KilimcininKorOglu/obastore/internal/storage"
	"github.com/KilimcininKorOglu/obastore/internal/storage/alloc"
	"github.com/KilimcininKorOglu/obastore/internal/storage/bitmask"
	"github.com/KilimcininKorOglu/obastore/internal/storage/object"
	"github.com/KilimcininKorOglu/obastore/internal/storage/patricia"
)

// MaxRootNameLength bounds the length of a root name.
const MaxRootNameLength = 255

// Database errors.
var (
	ErrDatabaseClosed     = errors.New("database is closed")
	ErrDatabaseReadOnly   = errors.New("database is read-only")
	ErrRootNotFound       = errors.New("root not found")
	ErrInvalidRootName    = errors.New("invalid root name")
	ErrEncryptionRequired = errors.New("database is encrypted: encryption key required")
	ErrNotEncrypted       = errors.New("database is not encrypted")
	ErrWrongKey           = errors.New("encryption key does not match database")
)

// DB is an open object store: a backing store, its segment allocators,
// the object identity table and the named roots.
//
// Commit, Rollback, Close and Backup take the database lock exclusively or
// shared as needed. The index structures returned by the Create methods
// carry their own locks and may be used concurrently with reads.
type DB struct {
	mu sync.RWMutex

	raw    storage.Store // as opened, ciphertext when encrypted
	store  storage.Store // raw, or the encrypted view of it
	cipher *crypto.PageCipher

	header   *storage.Header
	registry *alloc.Registry
	table    *object.Table
	roots    map[string]object.OID

	metaRun       alloc.Run
	committedNext object.OID
	rootsDirty    bool
	commits       uint64

	opts     Options
	logger   logging.Logger
	path     string
	readOnly bool
	closed   bool
}

// Open opens or creates the database file at path.
func Open(path string, opts Options) (*DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var (
		fs  storage.Store
		err error
	)
	if opts.Mmap {
		fs, err = storage.OpenMappedStore(path)
	} else {
		fs, err = storage.OpenFileStore(path, storage.DefaultFileOptions().
			WithReadOnly(opts.ReadOnly).
			WithCreateIfNotExists(opts.CreateIfNotExists).
			WithNoFlush(opts.NoFlush))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	db, err := openStore(fs, opts)
	if err != nil {
		fs.Close()
		return nil, err
	}
	db.path = path
	return db, nil
}

// OpenStore opens or initializes a database on store. An empty store is
// initialized. The database takes ownership of store and closes it on
// Close; on error the store is left open and unlocked.
func OpenStore(store storage.Store, opts Options) (*DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return openStore(store, opts)
}

func openStore(store storage.Store, opts Options) (db *DB, err error) {
	cipher, err := loadCipher(opts)
	if err != nil {
		return nil, err
	}

	if err := store.Lock(opts.ReadOnly); err != nil {
		return nil, fmt.Errorf("failed to lock store: %w", err)
	}
	if opts.NoFlush {
		store.SetNoFlush(true)
	}

	db = &DB{
		raw:      store,
		store:    store,
		cipher:   cipher,
		roots:    make(map[string]object.OID),
		opts:     opts,
		logger:   opts.Logger.Named("db"),
		readOnly: opts.ReadOnly,
	}
	defer func() {
		if err != nil {
			store.Unlock()
			if cipher != nil {
				cipher.Clear()
			}
		}
	}()

	length, err := store.Length()
	if err != nil {
		return nil, err
	}

	if length == 0 {
		if opts.ReadOnly {
			return nil, fmt.Errorf("%w: store is empty", ErrDatabaseReadOnly)
		}
		if err := db.create(); err != nil {
			return nil, err
		}
	} else if err := db.load(); err != nil {
		return nil, err
	}

	db.logger.Info("database opened",
		"id", db.header.DatabaseID.String(),
		"generation", db.header.Generation,
		"objects", db.table.Len(),
		"encrypted", db.header.Encrypted(),
		"readOnly", db.readOnly,
	)
	return db, nil
}

func loadCipher(opts Options) (*crypto.PageCipher, error) {
	switch {
	case len(opts.EncryptionKey) > 0:
		return crypto.NewPageCipher(opts.EncryptionKey)
	case opts.EncryptionKeyFile != "":
		return crypto.LoadKeyFromFile(opts.EncryptionKeyFile)
	default:
		return nil, nil
	}
}

// create initializes an empty store and commits generation one.
func (db *DB) create() error {
	entries := make([]storage.SegmentEntry, len(db.opts.Segments))
	for i, s := range db.opts.Segments {
		entries[i] = segmentEntry(s)
	}

	h := storage.NewHeader(uint32(db.opts.PageSize), entries)
	if db.cipher != nil {
		h.Flags |= storage.FlagEncrypted
	}
	if err := db.setup(h); err != nil {
		return err
	}
	if err := db.loadMeta(h); err != nil {
		return err
	}
	return db.commitLocked(true)
}

// load reads the newest header and the meta record it references.
func (db *DB) load() error {
	h, err := storage.ReadHeader(db.raw)
	if err != nil {
		return err
	}

	switch {
	case h.Encrypted() && db.cipher == nil:
		return ErrEncryptionRequired
	case !h.Encrypted() && db.cipher != nil:
		return ErrNotEncrypted
	}

	if err := db.setup(h); err != nil {
		return err
	}
	if err := db.loadMeta(h); err != nil {
		if h.Encrypted() && errors.Is(err, storage.ErrCorrupted) {
			return fmt.Errorf("%w: %w", ErrWrongKey, err)
		}
		return err
	}
	return nil
}

// setup builds the store view, allocators and identity table for h.
func (db *DB) setup(h *storage.Header) error {
	if !storage.ValidPageSize(int(h.PageSize)) {
		return storage.Corruptf("header", "page size %d", h.PageSize)
	}

	if db.cipher != nil {
		es, err := storage.NewEncryptedStore(db.raw, db.cipher, int(h.PageSize))
		if err != nil {
			return err
		}
		db.store = es
	}

	db.registry = alloc.NewRegistry(db.opts.Logger)
	for _, e := range h.Segments {
		cfg := segmentConfig(e)
		if cfg.Base < uint64(h.PageSize) {
			return storage.Corruptf("header", "segment %q overlaps the header page", cfg.Name)
		}
		if _, err := db.registry.Add(cfg); err != nil {
			return storage.Corruptf("header", "segment %q: %v", cfg.Name, err)
		}
	}
	if _, err := db.registry.Default(); err != nil {
		return storage.Corruptf("header", "no default segment")
	}

	db.table = object.NewTable(db.store, db.registry, nil, object.TableOptions{
		LargeObjectThreshold: db.opts.LargeObjectThreshold,
		Logger:               db.opts.Logger,
	})
	if err := patricia.Register(db.table); err != nil {
		return err
	}
	if err := bitmask.Register(db.table); err != nil {
		return err
	}

	db.header = h
	return nil
}

// loadMeta replaces the in-memory state with the image referenced by h.
// Resident objects are dropped.
func (db *DB) loadMeta(h *storage.Header) error {
	m := &meta{NextOID: 1}
	var run alloc.Run

	if h.MetaPos != 0 {
		buf := make([]byte, h.MetaSize)
		if _, err := storage.ReadFull(db.store, int64(h.MetaPos), buf); err != nil {
			return fmt.Errorf("failed to read meta record: %w", err)
		}
		decoded, err := decodeMeta(buf)
		if err != nil {
			return err
		}
		if decoded.Generation != h.Generation {
			return storage.Corruptf("meta record", "generation %d, header %d", decoded.Generation, h.Generation)
		}
		m = decoded
		run = alloc.Run{Pos: h.MetaPos, Size: uint64(h.MetaSize)}
	}

	for name, oid := range m.Roots {
		if _, ok := m.Objects[oid]; !ok {
			return storage.Corruptf("meta record", "root %q references unknown oid %d", name, oid)
		}
	}

	if err := db.table.LoadLocations(m.Objects, m.NextOID); err != nil {
		return err
	}
	if err := db.registry.RestoreAll(m.Segments); err != nil {
		return err
	}
	// The shadow runs of a committed image are free once it is loaded.
	if err := db.registry.CommitAll(); err != nil {
		return err
	}
	if run.Size > 0 {
		a, err := db.registry.ForPosition(run.Pos)
		if err != nil || !a.IsAllocated(run.Pos, run.Size) {
			return storage.Corruptf("meta record", "run %s is not allocated", run)
		}
	}

	roots := make(map[string]object.OID, len(m.Roots))
	for name, oid := range m.Roots {
		roots[name] = oid
	}
	db.roots = roots
	db.rootsDirty = false
	db.metaRun = run
	db.committedNext = db.table.NextOID()
	return nil
}

func segmentEntry(c alloc.SegmentConfig) storage.SegmentEntry {
	e := storage.SegmentEntry{Name: c.Name, Base: c.Base, Size: c.Size, Quantum: c.Quantum}
	if c.Large {
		e.Flags |= storage.SegmentFlagLarge
	}
	return e
}

func segmentConfig(e storage.SegmentEntry) alloc.SegmentConfig {
	return alloc.SegmentConfig{
		Name:    e.Name,
		Base:    e.Base,
		Size:    e.Size,
		Quantum: e.Quantum,
		Large:   e.Flags&storage.SegmentFlagLarge != 0,
	}
}

// Path returns the file path for databases opened with Open.
func (db *DB) Path() string {
	return db.path
}

// ID returns the database identity recorded at creation.
func (db *DB) ID() uuid.UUID {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.header.DatabaseID
}

// Generation returns the generation of the last commit.
func (db *DB) Generation() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.header.Generation
}

// PageSize returns the page size recorded in the header.
func (db *DB) PageSize() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return int(db.header.PageSize)
}

// IsEncrypted reports whether pages are encrypted at rest.
func (db *DB) IsEncrypted() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.header.Encrypted()
}

// IsReadOnly reports whether the database was opened read-only.
func (db *DB) IsReadOnly() bool {
	return db.readOnly
}

// Table returns the object identity table.
func (db *DB) Table() *object.Table {
	return db.table
}

// Registry returns the segment allocators.
func (db *DB) Registry() *alloc.Registry {
	return db.registry
}

// Commit makes every change since the last commit durable.
//
// Dirty objects are flushed, then a meta record describing the new image
// is written, then the header slot for the next generation, then the store
// is synced and the allocators commit. Until the header write the previous
// image stays intact, since none of the runs it references are reused
// before the allocators commit. After a failed Commit call Rollback.
func (db *DB) Commit() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDatabaseClosed
	}
	return db.commitLocked(false)
}

func (db *DB) commitLocked(force bool) error {
	if db.readOnly {
		return ErrDatabaseReadOnly
	}

	if !force && !db.pendingLocked() {
		return nil
	}
	if err := db.table.Flush(); err != nil {
		return fmt.Errorf("failed to flush objects: %w", err)
	}

	if db.metaRun.Size > 0 {
		a, err := db.registry.ForPosition(db.metaRun.Pos)
		if err != nil {
			return err
		}
		if err := a.Free(db.metaRun.Pos, db.metaRun.Size); err != nil {
			return fmt.Errorf("failed to release meta record: %w", err)
		}
		db.metaRun = alloc.Run{}
	}

	next := *db.header
	next.Generation++

	m := &meta{
		Generation: next.Generation,
		NextOID:    db.table.NextOID(),
		Objects:    db.table.Locations(),
		Roots:      db.rootsCopyLocked(),
	}
	run, size, err := db.writeMeta(m)
	if err != nil {
		return err
	}
	next.MetaPos = run.Pos
	next.MetaSize = uint32(run.Size)

	if err := db.store.Sync(); err != nil {
		return fmt.Errorf("failed to sync objects: %w", err)
	}
	if err := storage.WriteHeader(db.store, &next); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := db.store.Sync(); err != nil {
		return fmt.Errorf("failed to sync header: %w", err)
	}

	db.header = &next
	db.metaRun = run

	if err := db.registry.CommitAll(); err != nil {
		return err
	}
	db.table.Committed()
	db.committedNext = m.NextOID
	db.rootsDirty = false
	db.commits++

	db.logger.Debug("commit",
		"generation", next.Generation,
		"objects", len(m.Objects),
		"metaBytes", size,
	)
	return nil
}

// pendingLocked reports whether the image differs from the last commit.
func (db *DB) pendingLocked() bool {
	if db.rootsDirty || db.table.DirtyCount() > 0 || db.table.NextOID() != db.committedNext {
		return true
	}
	for _, s := range db.registry.Stats() {
		if s.ShadowRuns > 0 {
			return true
		}
	}
	return false
}

// writeMeta places and writes the meta record. The record lists the
// allocator states, which change when its own run is allocated, so the
// run is grown until the encoding fits.
func (db *DB) writeMeta(m *meta) (alloc.Run, int, error) {
	a, err := db.registry.Default()
	if err != nil {
		return alloc.Run{}, 0, err
	}

	m.Segments = db.registry.States()
	record, err := encodeMeta(m)
	if err != nil {
		return alloc.Run{}, 0, fmt.Errorf("failed to encode meta record: %w", err)
	}

	size := a.Quantize(uint64(len(record)) + uint64(len(record))/4)
	pos, err := a.Allocate(size)
	if err != nil {
		return alloc.Run{}, 0, fmt.Errorf("failed to place meta record: %w", err)
	}

	for attempt := 0; attempt < maxMetaAttempts; attempt++ {
		m.Segments = db.registry.States()
		record, err = encodeMeta(m)
		if err != nil {
			return alloc.Run{}, 0, fmt.Errorf("failed to encode meta record: %w", err)
		}

		if uint64(len(record)) <= size {
			if err := db.store.Write(int64(pos), record); err != nil {
				return alloc.Run{}, 0, fmt.Errorf("failed to write meta record: %w", err)
			}
			return alloc.Run{Pos: pos, Size: size}, len(record), nil
		}

		grown := a.Quantize(uint64(len(record)) + uint64(len(record))/4)
		pos, err = a.Reallocate(pos, size, grown)
		if err != nil {
			return alloc.Run{}, 0, fmt.Errorf("failed to grow meta record: %w", err)
		}
		size = grown
	}
	return alloc.Run{}, 0, fmt.Errorf("meta record did not fit after %d attempts", maxMetaAttempts)
}

func (db *DB) rootsCopyLocked() map[string]object.OID {
	roots := make(map[string]object.OID, len(db.roots))
	for name, oid := range db.roots {
		roots[name] = oid
	}
	return roots
}

// Rollback discards every change since the last commit. Objects resolved
// before the rollback are detached from the database and must be resolved
// again.
func (db *DB) Rollback() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDatabaseClosed
	}

	h, err := storage.ReadHeader(db.store)
	if err != nil {
		return err
	}
	if h.DatabaseID != db.header.DatabaseID {
		return storage.Corruptf("header", "database id changed from %s to %s", db.header.DatabaseID, h.DatabaseID)
	}
	if err := db.loadMeta(h); err != nil {
		return err
	}
	db.header = h

	db.logger.Info("rollback", "generation", h.Generation)
	return nil
}

// Close commits pending changes unless the database is read-only, then
// releases the store lock and closes the store.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	var errs []error
	if !db.readOnly {
		if err := db.commitLocked(false); err != nil {
			errs = append(errs, err)
		}
	}

	if err := db.store.Unlock(); err != nil && !errors.Is(err, storage.ErrNotLocked) {
		errs = append(errs, err)
	}
	if err := db.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := db.registry.Close(); err != nil {
		errs = append(errs, err)
	}

	db.logger.Info("database closed", "generation", db.header.Generation, "commits", db.commits)
	db.logger.Sync()
	return errors.Join(errs...)
}

func validRootName(name string) error {
	if name == "" || len(name) > MaxRootNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidRootName, name)
	}
	return nil
}

// SetRoot binds name to obj, registering obj if needed. A nil obj removes
// the binding.
func (db *DB) SetRoot(name string, obj object.Object) error {
	if err := validRootName(name); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDatabaseClosed
	}
	if db.readOnly {
		return ErrDatabaseReadOnly
	}

	if obj == nil {
		if _, ok := db.roots[name]; ok {
			delete(db.roots, name)
			db.rootsDirty = true
		}
		return nil
	}

	oid, err := db.table.EnsureRegistered(obj)
	if err != nil {
		return err
	}
	if db.roots[name] != oid {
		db.roots[name] = oid
		db.rootsDirty = true
	}
	return nil
}

// Root returns the object bound to name.
func (db *DB) Root(name string) (object.Object, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrDatabaseClosed
	}
	oid, ok := db.roots[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, name)
	}
	return db.table.Resolve(oid)
}

// Roots returns the bound root names in sorted order.
func (db *DB) Roots() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.roots))
	for name := range db.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreatePatriciaTrie creates an empty persistent trie.
func (db *DB) CreatePatriciaTrie() (*patricia.Trie, error) {
	t := patricia.New(db.table)
	if err := db.register(t); err != nil {
		return nil, err
	}
	return t, nil
}

// CreateBitmaskIndex creates an empty persistent bitmask index.
func (db *DB) CreateBitmaskIndex() (*bitmask.Index, error) {
	ix := bitmask.New(db.table)
	if err := db.register(ix); err != nil {
		return nil, err
	}
	return ix, nil
}

// StoreRaw stores data as a raw object. Payloads at or above the large
// object threshold are placed in the large segment.
func (db *DB) StoreRaw(data []byte) (*object.Raw, error) {
	raw := object.NewRaw(data)
	if err := db.register(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (db *DB) register(obj object.Object) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDatabaseClosed
	}
	if db.readOnly {
		return ErrDatabaseReadOnly
	}
	_, err := db.table.EnsureRegistered(obj)
	return err
}

// Resolve returns the object stored under oid.
func (db *DB) Resolve(oid object.OID) (object.Object, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrDatabaseClosed
	}
	return db.table.Resolve(oid)
}

// Deallocate releases obj. See object.Table.Deallocate.
func (db *DB) Deallocate(obj object.Object) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDatabaseClosed
	}
	if db.readOnly {
		return ErrDatabaseReadOnly
	}
	return db.table.Deallocate(obj)
}

// Stats describes the state of the database.
type Stats struct {
	DatabaseID   uuid.UUID
	Generation   uint64
	PageSize     int
	Encrypted    bool
	ReadOnly     bool
	Objects      int
	DirtyObjects int
	Roots        int
	Commits      uint64
	StoreLength  int64
	Segments     []alloc.Stats
}

// Stats returns a snapshot of database statistics.
func (db *DB) Stats() (*Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrDatabaseClosed
	}

	length, err := db.raw.Length()
	if err != nil {
		return nil, err
	}
	return &Stats{
		DatabaseID:   db.header.DatabaseID,
		Generation:   db.header.Generation,
		PageSize:     int(db.header.PageSize),
		Encrypted:    db.header.Encrypted(),
		ReadOnly:     db.readOnly,
		Objects:      db.table.Len(),
		DirtyObjects: db.table.DirtyCount(),
		Roots:        len(db.roots),
		Commits:      db.commits,
		StoreLength:  length,
		Segments:     db.registry.Stats(),
	}, nil
}

// Check verifies the allocator invariants, the meta record run and every
// object record.
func (db *DB) Check() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDatabaseClosed
	}

	if err := db.registry.Validate(); err != nil {
		return err
	}
	if db.metaRun.Size > 0 {
		a, err := db.registry.ForPosition(db.metaRun.Pos)
		if err != nil || !a.IsAllocated(db.metaRun.Pos, db.metaRun.Size) {
			return storage.Corruptf("meta record", "run %s is not allocated", db.metaRun)
		}
	}
	for name, oid := range db.roots {
		if _, err := db.table.Resolve(oid); err != nil {
			return fmt.Errorf("root %q: %w", name, err)
		}
	}
	return db.table.Verify()
}

// Backup writes a native backup of the committed image to w. Pages are
// copied as stored, so backups of encrypted databases stay encrypted.
func (db *DB) Backup(w io.Writer, opts backup.Options) (*backup.Stats, error) {
	return db.backup(opts, func(store storage.Store, opts backup.Options) (*backup.Stats, error) {
		return backup.Export(store, w, opts)
	})
}

// BackupToFile writes a native backup of the committed image to a new
// file at path.
func (db *DB) BackupToFile(path string, opts backup.Options) (*backup.Stats, error) {
	return db.backup(opts, func(store storage.Store, opts backup.Options) (*backup.Stats, error) {
		return backup.BackupToFile(store, path, opts)
	})
}

func (db *DB) backup(opts backup.Options, export func(storage.Store, backup.Options) (*backup.Stats, error)) (*backup.Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrDatabaseClosed
	}

	opts.PageSize = int(db.header.PageSize)
	stats, err := export(db.raw, opts)
	if err != nil {
		return nil, err
	}

	db.logger.Info("backup",
		"generation", db.header.Generation,
		"pages", stats.TotalPages,
		"bytes", stats.TotalBytes,
	)
	return stats, nil
}
