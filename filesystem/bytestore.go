package filesystem

import (
	"io"
	"math"
	"sync"

	"github.com/brettbedarf/ephemfs"
	"github.com/cockroachdb/errors"
)

// DefaultPageSize is used when a store is created with a non-positive page size
const DefaultPageSize = 4 * 1024

// ByteStore is a sparse growable byte sequence backing a single file.
// Data is kept in fixed-size pages keyed by page index; a page that was never
// written reads as zeros, so gaps left by writes past the end cost nothing.
//
// Bytes of an allocated page that lie at or beyond length are always zero.
// Truncate maintains this so a later extension never exposes stale data.
type ByteStore struct {
	mu       sync.RWMutex
	pageSize int64
	pages    map[int64][]byte
	length   int64 // logical length L. Protected by mu
}

func NewByteStore(pageSize int) *ByteStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &ByteStore{
		pageSize: int64(pageSize),
		pages:    make(map[int64][]byte),
	}
}

// Size returns the logical length
func (s *ByteStore) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

// Read returns exactly length bytes starting at offset.
// The whole range must lie within the logical length.
func (s *ByteStore) Read(offset, length int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 || length < 0 || offset > s.length-length {
		return nil, errors.Wrapf(ephemfs.ErrOutOfRange, "read [%d, %d+%d) of %d", offset, offset, length, s.length)
	}
	buf := make([]byte, length)
	s.readLocked(buf, offset)
	return buf, nil
}

// ReadAt follows the io.ReaderAt contract: fewer than len(p) bytes are only
// returned together with io.EOF.
func (s *ByteStore) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Wrapf(ephemfs.ErrOutOfRange, "read at %d", off)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if off >= s.length {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := s.readLocked(p, off)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// readLocked copies from off into p clipped to the logical length and returns
// the count copied. Caller must hold mu and ensure 0 <= off <= length.
func (s *ByteStore) readLocked(p []byte, off int64) int {
	end := min(off+int64(len(p)), s.length)
	pos := off
	for pos < end {
		idx, inner := pos/s.pageSize, pos%s.pageSize
		chunk := min(s.pageSize-inner, end-pos)
		dst := p[pos-off : pos-off+chunk]
		if page, ok := s.pages[idx]; ok {
			copy(dst, page[inner:inner+chunk])
		} else {
			clear(dst)
		}
		pos += chunk
	}
	return int(end - off)
}

// WriteAt writes all of p at off, zero-filling any gap between the current
// length and off. It never writes partially: a rejected write leaves the
// store untouched.
func (s *ByteStore) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > math.MaxInt64-int64(len(p)) {
		return 0, errors.Wrapf(ephemfs.ErrOutOfRange, "write at %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	end := off + int64(len(p))
	pos := off
	for pos < end {
		idx, inner := pos/s.pageSize, pos%s.pageSize
		chunk := min(s.pageSize-inner, end-pos)
		page, ok := s.pages[idx]
		if !ok {
			page = make([]byte, s.pageSize)
			s.pages[idx] = page
		}
		copy(page[inner:inner+chunk], p[pos-off:pos-off+chunk])
		pos += chunk
	}
	if end > s.length {
		s.length = end
	}
	return len(p), nil
}

// Truncate sets the logical length to size. Shrinking discards the trailing
// bytes; growing exposes zeros.
func (s *ByteStore) Truncate(size int64) error {
	if size < 0 {
		return errors.Wrapf(ephemfs.ErrOutOfRange, "truncate to %d", size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if size < s.length {
		for idx := range s.pages {
			if idx*s.pageSize >= size {
				delete(s.pages, idx)
			}
		}
		if inner := size % s.pageSize; inner != 0 {
			if page, ok := s.pages[size/s.pageSize]; ok {
				clear(page[inner:])
			}
		}
	}
	s.length = size
	return nil
}

// Snapshot returns a materialized copy of the full content
func (s *ByteStore) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := make([]byte, s.length)
	s.readLocked(buf, 0)
	return buf
}

func (s *ByteStore) allocatedPages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}
