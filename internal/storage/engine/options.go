package engine

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/obastore/internal/logging"
	"github.com/KilimcininKorOglu/obastore/internal/storage"
	"github.com/KilimcininKorOglu/obastore/internal/storage/alloc"
	"github.com/KilimcininKorOglu/obastore/internal/storage/object"
)

// Default segment layout.
const (
	DefaultSegmentName  = "default"
	LargeSegmentName    = "large"
	DefaultQuantum      = 16
	DefaultSegmentLimit = uint64(1) << 36
	DefaultLargeSize    = uint64(1) << 40
)

// ErrInvalidOptions is returned for options that cannot open a database.
var ErrInvalidOptions = errors.New("invalid database options")

// Options configures a database.
type Options struct {
	// PageSize is the page size of a new database. Existing databases use
	// the page size recorded in their header.
	// Default: 4096 bytes.
	PageSize int

	// ReadOnly opens the database without write access.
	// Default: false.
	ReadOnly bool

	// CreateIfNotExists creates the database file if it doesn't exist.
	// Default: true.
	CreateIfNotExists bool

	// NoFlush skips Sync on commit.
	// Default: false (durable commits).
	NoFlush bool

	// Mmap serves the reads of a read-only database from a memory
	// mapping of the file. Requires ReadOnly.
	// Default: false.
	Mmap bool

	// LargeObjectThreshold is the record size from which objects are
	// placed in the large segment.
	// Default: 64KB.
	LargeObjectThreshold int

	// Segments is the segment layout of a new database. Existing
	// databases use the layout recorded in their header.
	// Default: DefaultSegments(PageSize).
	Segments []alloc.SegmentConfig

	// EncryptionKeyFile is the path to the encryption key file.
	// If empty, encryption is disabled.
	EncryptionKeyFile string

	// EncryptionKey is the raw encryption key (64 bytes).
	// If set, takes precedence over EncryptionKeyFile.
	EncryptionKey []byte

	// Logger receives database events.
	// Default: a no-op logger.
	Logger logging.Logger
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		PageSize:             storage.DefaultPageSize,
		CreateIfNotExists:    true,
		LargeObjectThreshold: object.DefaultLargeObjectThreshold,
	}
}

// DefaultSegments returns the standard two-segment layout: a default
// segment starting after the header page and a large-object segment
// above it whose quantum is one page.
func DefaultSegments(pageSize int) []alloc.SegmentConfig {
	base := uint64(pageSize)
	return []alloc.SegmentConfig{
		{Name: DefaultSegmentName, Base: base, Size: DefaultSegmentLimit - base, Quantum: DefaultQuantum},
		{Name: LargeSegmentName, Base: DefaultSegmentLimit, Size: DefaultLargeSize, Quantum: uint32(pageSize), Large: true},
	}
}

// Validate fills in defaults and checks the options.
func (o *Options) Validate() error {
	if o.PageSize == 0 {
		o.PageSize = storage.DefaultPageSize
	}
	if !storage.ValidPageSize(o.PageSize) {
		return fmt.Errorf("%w: page size %d", ErrInvalidOptions, o.PageSize)
	}

	if o.Mmap && !o.ReadOnly {
		return fmt.Errorf("%w: mmap requires a read-only database", ErrInvalidOptions)
	}

	if o.LargeObjectThreshold <= 0 {
		o.LargeObjectThreshold = object.DefaultLargeObjectThreshold
	}

	if len(o.Segments) == 0 {
		o.Segments = DefaultSegments(o.PageSize)
	}
	if err := validateSegments(o.Segments, o.PageSize); err != nil {
		return err
	}

	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return nil
}

func validateSegments(segs []alloc.SegmentConfig, pageSize int) error {
	if len(segs) > storage.MaxSegments {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, storage.ErrTooManySegments)
	}
	for _, s := range segs {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
		if s.Base < uint64(pageSize) {
			return fmt.Errorf("%w: segment %q overlaps the header page", ErrInvalidOptions, s.Name)
		}
	}
	return nil
}

// WithPageSize sets the page size.
func (o Options) WithPageSize(size int) Options {
	o.PageSize = size
	return o
}

// WithReadOnly enables or disables read-only mode.
func (o Options) WithReadOnly(readOnly bool) Options {
	o.ReadOnly = readOnly
	return o
}

// WithCreateIfNotExists enables or disables auto-creation.
func (o Options) WithCreateIfNotExists(create bool) Options {
	o.CreateIfNotExists = create
	return o
}

// WithNoFlush enables or disables skipping Sync on commit.
func (o Options) WithNoFlush(noFlush bool) Options {
	o.NoFlush = noFlush
	return o
}

// WithMmap enables or disables mapped reads.
func (o Options) WithMmap(mmap bool) Options {
	o.Mmap = mmap
	return o
}

// WithLargeObjectThreshold sets the large-object threshold.
func (o Options) WithLargeObjectThreshold(n int) Options {
	o.LargeObjectThreshold = n
	return o
}

// WithSegments sets the segment layout for new databases.
func (o Options) WithSegments(segs ...alloc.SegmentConfig) Options {
	o.Segments = segs
	return o
}

// WithEncryptionKeyFile sets the encryption key file path.
func (o Options) WithEncryptionKeyFile(path string) Options {
	o.EncryptionKeyFile = path
	return o
}

// WithEncryptionKey sets the raw encryption key.
func (o Options) WithEncryptionKey(key []byte) Options {
	o.EncryptionKey = key
	return o
}

// WithLogger sets the logger.
func (o Options) WithLogger(logger logging.Logger) Options {
	o.Logger = logger
	return o
}
