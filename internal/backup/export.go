package backup

import (
	"compress/gzip"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
	"github.com/KilimcininKorOglu/obastore/internal/storage/pagestream"
)

// Export writes a native backup of store to w: a BackupHeader followed by
// every page of the store, read through a page stream.
//
// The store is read twice, once for the header checksum and once for the
// data. The caller must keep it unchanged for the duration; a change
// between the passes fails the backup.
func Export(store storage.Store, w io.Writer, opts Options) (*Stats, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	length, err := store.Length()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}

	sum, err := checksumStore(store, length, opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}

	header := NewBackupHeader()
	header.PageSize = uint32(opts.PageSize)
	header.StoreLength = uint64(length)
	header.TotalPages = (uint64(length) + uint64(opts.PageSize) - 1) / uint64(opts.PageSize)
	header.Checksum = sum
	header.SetCompressed(opts.Compress)

	headerBuf, err := header.Serialize()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}
	if _, err := w.Write(headerBuf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}

	body := &countingWriter{w: w}
	var dst io.Writer = body
	var gz *gzip.Writer
	if opts.Compress {
		gz = gzip.NewWriter(body)
		dst = gz
	}
	cw := newChecksumWriter(dst)

	src, err := pagestream.New(store, opts.PageSize)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if _, err := io.CopyN(cw, src, length); err != nil {
		return nil, fmt.Errorf("%w: failed to copy pages: %w", ErrBackupFailed, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBackupFailed, err)
		}
	}
	if cw.checksum != sum {
		return nil, fmt.Errorf("%w: store changed during backup", ErrBackupFailed)
	}

	stats := &Stats{
		TotalPages: header.TotalPages,
		TotalBytes: cw.written,
		Checksum:   sum,
		Duration:   time.Since(start),
	}
	if opts.Compress {
		stats.CompressedBytes = body.written
	}
	return stats, nil
}

// checksumStore computes the CRC32 of the first length bytes of store.
func checksumStore(store storage.Store, length int64, pageSize int) (uint32, error) {
	src, err := pagestream.New(store, pageSize)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	h := crc32.NewIEEE()
	if _, err := io.CopyN(h, src, length); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}
