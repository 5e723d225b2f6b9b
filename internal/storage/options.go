package storage

// FileOptions configures a FileStore.
type FileOptions struct {
	// ReadOnly opens the file without write access.
	// Default: false.
	ReadOnly bool

	// CreateIfNotExists creates the file if it doesn't exist.
	// Default: true.
	CreateIfNotExists bool

	// NoFlush turns Sync into a no-op, trading durability for speed.
	// Default: false.
	NoFlush bool

	// FileMode is the permission used when creating the file.
	// Default: 0644.
	FileMode uint32
}

// DefaultFileOptions returns the default file store options.
func DefaultFileOptions() FileOptions {
	return FileOptions{
		ReadOnly:          false,
		CreateIfNotExists: true,
		NoFlush:           false,
		FileMode:          0644,
	}
}

// WithReadOnly enables or disables read-only mode.
func (o FileOptions) WithReadOnly(readOnly bool) FileOptions {
	o.ReadOnly = readOnly
	return o
}

// WithCreateIfNotExists enables or disables auto-creation.
func (o FileOptions) WithCreateIfNotExists(create bool) FileOptions {
	o.CreateIfNotExists = create
	return o
}

// WithNoFlush enables or disables sync suppression.
func (o FileOptions) WithNoFlush(noFlush bool) FileOptions {
	o.NoFlush = noFlush
	return o
}
