package backup

import (
	"compress/gzip"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
	"github.com/KilimcininKorOglu/obastore/internal/storage/pagestream"
)

// Import restores a native backup from r into store, which must be empty.
// Pages are written through a page stream and the store is synced.
//
// With opts.Verify, r must be an io.ReadSeeker: the checksum is checked
// in a first pass and nothing is written on mismatch. Otherwise the
// checksum is checked after the data has been written.
func Import(r io.Reader, store storage.Store, opts RestoreOptions) (*RestoreStats, error) {
	start := time.Now()

	length, err := store.Length()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}
	if length != 0 {
		return nil, ErrTargetNotEmpty
	}

	if opts.Verify {
		rs, ok := r.(io.ReadSeeker)
		if !ok {
			return nil, fmt.Errorf("%w: verify needs a seekable reader", ErrRestoreFailed)
		}
		origin, err := rs.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
		}
		if _, err := VerifyBackup(rs); err != nil {
			return nil, err
		}
		if _, err := rs.Seek(origin, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
		}
	}

	header, body, err := openBody(r)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	dst, err := pagestream.New(store, int(header.PageSize))
	if err != nil {
		return nil, err
	}
	cw := newChecksumWriter(dst)

	if _, err := io.CopyN(cw, body, int64(header.StoreLength)); err != nil {
		dst.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated page data", ErrInvalidBackup)
		}
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}
	if err := dst.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}
	if err := store.Sync(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}

	if cw.checksum != header.Checksum {
		return nil, ErrChecksumMismatch
	}

	_, written := dst.Pages()
	return &RestoreStats{
		TotalPages: uint64(written),
		TotalBytes: cw.written,
		Duration:   time.Since(start),
	}, nil
}

// VerifyBackup reads a whole backup from r and checks its header and page
// checksum without writing anything.
func VerifyBackup(r io.Reader) (*BackupHeader, error) {
	header, body, err := openBody(r)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	h := crc32.NewIEEE()
	if _, err := io.CopyN(h, body, int64(header.StoreLength)); err != nil {
		return nil, fmt.Errorf("%w: truncated page data", ErrInvalidBackup)
	}
	if h.Sum32() != header.Checksum {
		return nil, ErrChecksumMismatch
	}
	return header, nil
}

// openBody reads the header from r and returns a reader over the page
// data, decompressing when the header says so.
func openBody(r io.Reader) (*BackupHeader, io.ReadCloser, error) {
	header, err := ReadBackupHeader(r)
	if err != nil {
		return nil, nil, err
	}
	if !header.IsCompressed() {
		return header, io.NopCloser(r), nil
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidBackup, err)
	}
	return header, gz, nil
}
