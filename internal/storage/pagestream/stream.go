package pagestream

import (
	"errors"
	"fmt"
	"io"

	"github.com/KilimcininKorOglu/obastore/internal/storage"
)

// ErrClosed is returned by operations on a closed stream.
var ErrClosed = errors.New("page stream is closed")

type mode uint8

const (
	modeIdle mode = iota
	modeRead
	modeWrite
)

// Stream is a cursor over a store with one page of buffering.
type Stream struct {
	store    storage.Store
	buf      []byte
	pageSize int

	cursor int64 // logical position seen by the caller
	fill   int64 // store offset of the next refill
	off    int   // read offset within buf
	n      int   // bytes held in buf
	synced int   // leading bytes of buf already written by Flush
	eof    bool

	mode   mode
	closed bool
	err    error

	pagesRead    int64
	pagesWritten int64
}

var (
	_ io.ReadWriteCloser = (*Stream)(nil)
	_ io.Seeker          = (*Stream)(nil)
)

// New returns a stream positioned at offset zero of store.
func New(store storage.Store, pageSize int) (*Stream, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w: %d", storage.ErrInvalidPageSize, pageSize)
	}
	return &Stream{
		store:    store,
		buf:      make([]byte, pageSize),
		pageSize: pageSize,
	}, nil
}

// PageSize returns the buffer size.
func (s *Stream) PageSize() int {
	return s.pageSize
}

// Position returns the cursor.
func (s *Stream) Position() int64 {
	return s.cursor
}

// Pages returns how many page transfers the stream has made in each
// direction.
func (s *Stream) Pages() (read, written int64) {
	return s.pagesRead, s.pagesWritten
}

func (s *Stream) enter(m mode) error {
	if s.closed {
		return ErrClosed
	}
	if s.err != nil {
		return s.err
	}
	if s.mode != modeIdle && s.mode != m {
		return fmt.Errorf("%w: mixed reads and writes", storage.ErrUnsupportedOperation)
	}
	s.mode = m
	return nil
}

// Read copies buffered bytes into p, refilling the buffer a page at a time.
// A refill that returns no bytes ends the stream: the read in progress is
// short and the next one returns io.EOF.
func (s *Stream) Read(p []byte) (int, error) {
	if err := s.enter(modeRead); err != nil {
		return 0, err
	}

	total := 0
	for total < len(p) {
		if s.off == s.n {
			if s.eof {
				break
			}
			if err := s.refill(); err != nil {
				s.err = err
				if total > 0 {
					return total, nil
				}
				return 0, err
			}
			continue
		}

		c := copy(p[total:], s.buf[s.off:s.n])
		s.off += c
		total += c
		s.cursor += int64(c)
	}

	if total == 0 && len(p) > 0 && s.eof {
		return 0, io.EOF
	}
	return total, nil
}

func (s *Stream) refill() error {
	n, err := s.store.Read(s.fill, s.buf)
	if err != nil {
		return fmt.Errorf("failed to read page at %d: %w", s.fill, err)
	}

	s.off = 0
	s.n = n
	if n == 0 {
		s.eof = true
		return nil
	}
	s.fill += int64(n)
	s.pagesRead++
	return nil
}

// Write appends p to the buffer. Each time the buffer fills it is written to
// the store at the offset of its first byte.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.enter(modeWrite); err != nil {
		return 0, err
	}

	total := 0
	for total < len(p) {
		c := copy(s.buf[s.n:], p[total:])
		s.n += c
		total += c
		s.cursor += int64(c)

		if s.n == s.pageSize {
			if err := s.flushBuffer(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// flushBuffer writes the full buffer and starts the next page.
func (s *Stream) flushBuffer() error {
	if err := s.writeBuffer(); err != nil {
		return err
	}
	s.n = 0
	s.synced = 0
	return nil
}

// writeBuffer writes the buffered bytes at the offset of the page they
// start. The buffer is kept.
func (s *Stream) writeBuffer() error {
	if s.n == 0 || s.n == s.synced {
		return nil
	}

	pos := s.cursor - int64(s.n)
	if err := s.store.Write(pos, s.buf[:s.n]); err != nil {
		s.err = fmt.Errorf("failed to write page at %d: %w", pos, err)
		return s.err
	}
	s.synced = s.n
	s.pagesWritten++
	return nil
}

// Flush writes any partially filled output buffer. The bytes stay
// buffered, so the page is written again from its start once it fills and
// later writes keep their page alignment.
func (s *Stream) Flush() error {
	if s.closed {
		return ErrClosed
	}
	if s.err != nil {
		return s.err
	}
	if s.mode != modeWrite {
		return nil
	}
	return s.writeBuffer()
}

// Close flushes pending output and releases the buffer. The store is left
// open. Closing twice is a no-op.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	err := s.Flush()
	s.closed = true
	s.buf = nil
	return err
}

// Seek is not supported.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	return s.cursor, fmt.Errorf("%w: seek", storage.ErrUnsupportedOperation)
}

// SetLength is not supported.
func (s *Stream) SetLength(length int64) error {
	return fmt.Errorf("%w: set length", storage.ErrUnsupportedOperation)
}

// SetPosition is not supported.
func (s *Stream) SetPosition(pos int64) error {
	return fmt.Errorf("%w: set position", storage.ErrUnsupportedOperation)
}
