// Package storage provides the file-backed, resizable, randomly
// addressable byte region that every PBT file is built on,
// along with the fixed-width frame codec used to read and write values
// at byte offsets inside it.
package storage

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/pbtdb/pbtdb/pkg/pbtdberr"
)

//============================================= Byte Storage

// initialGrowthSize is the allocation used the first time a File is
// grown from empty.
const initialGrowthSize = 1 << 16

// File is a memory-mapped, resizable, randomly addressable byte
// region backed by a single on-disk file. Readers and writers never
// touch the underlying *os.File directly after Open; every access
// goes through the mapped region returned by Address.
type File struct {
	path     string
	file     *os.File
	readOnly bool
	data     mmap.MMap
}

// Open maps path into memory. If readOnly is false the file is created
// if it does not already exist. A zero-length file is left unmapped
// until the first Grow/Resize call.
func Open(path string, readOnly bool) (*File, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	} else {
		flag |= os.O_CREATE
	}

	f, openErr := os.OpenFile(path, flag, 0644)
	if openErr != nil {
		return nil, openErr
	}

	info, statErr := f.Stat()
	if statErr != nil {
		f.Close()
		return nil, statErr
	}

	s := &File{path: path, file: f, readOnly: readOnly}

	if info.Size() > 0 {
		if mapErr := s.mMap(); mapErr != nil {
			f.Close()
			return nil, mapErr
		}
	}

	return s, nil
}

// Path returns the path the file was opened with.
func (s *File) Path() string { return s.path }

// Size returns the current size of the mapped region.
func (s *File) Size() uint64 { return uint64(len(s.data)) }

// Address returns the mapped region. The slice is stable between
// calls to Resize/Grow; it is invalidated by a subsequent Resize/Grow.
func (s *File) Address() []byte { return s.data }

// mMap maps the underlying file at its current on-disk size.
func (s *File) mMap() error {
	prot := mmap.RDWR
	if s.readOnly {
		prot = mmap.RDONLY
	}

	m, mapErr := mmap.Map(s.file, prot, 0)
	if mapErr != nil {
		return mapErr
	}

	s.data = m

	if s.readOnly {
		// Reads into a PBT file are B+-tree-random, not sequential, so
		// sequential readahead just evicts pages we are about to need.
		unix.Madvise(m, unix.MADV_RANDOM)
	}

	return nil
}

// munmap unmaps the current region, if any.
func (s *File) munmap() error {
	if s.data == nil {
		return nil
	}

	if err := s.data.Flush(); err != nil {
		return err
	}

	if err := s.data.Unmap(); err != nil {
		return err
	}

	s.data = nil
	return nil
}

// Resize flushes, unmaps, truncates the backing file to exactly n
// bytes, and remaps. It is a no-op when the size is unchanged.
func (s *File) Resize(n uint64) error {
	if uint64(len(s.data)) == n {
		return nil
	}

	if err := s.munmap(); err != nil {
		return err
	}

	if err := s.file.Truncate(int64(n)); err != nil {
		return err
	}

	if n == 0 {
		return nil
	}

	return s.mMap()
}

// Grow ensures the mapped region is at least need bytes, growing
// geometrically (doubling the current size, or the exact requirement
// if that is larger) to bound the number of resizes during a single
// writer pass.
func (s *File) Grow(need uint64) error {
	cur := uint64(len(s.data))
	if need <= cur {
		return nil
	}

	next := cur * 2
	if next < need {
		next = need
	}

	if next < initialGrowthSize {
		next = initialGrowthSize
	}

	return s.Resize(next)
}

// Clear zeros the entire mapped region.
func (s *File) Clear() error {
	for i := range s.data {
		s.data[i] = 0
	}

	return nil
}

// Flush is a best-effort sync of the mapped region and the underlying
// file to disk. It never blocks on stronger fsync guarantees than the
// OS provides for mmap'd pages.
func (s *File) Flush() error {
	if s.data == nil {
		return nil
	}

	if err := s.data.Flush(); err != nil {
		return err
	}

	return s.file.Sync()
}

// Read copies size bytes starting at offset into dst. Used by callers
// that want a private copy instead of a reference into the mapped
// region (e.g. across a Resize).
func (s *File) Read(offset, size uint64, dst []byte) error {
	if offset+size > uint64(len(s.data)) {
		return pbtdberr.ErrOutOfBounds
	}

	copy(dst, s.data[offset:offset+size])
	return nil
}

// Close unmaps and closes the underlying file.
func (s *File) Close() error {
	if err := s.munmap(); err != nil {
		return err
	}

	return s.file.Close()
}

// Remove closes the file and removes it from disk.
func (s *File) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}

	return os.Remove(s.path)
}
