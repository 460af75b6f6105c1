//go:build linux

package backend

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-cfq/internal/interfaces"
)

// File is a backend over a regular file or block device node
type File struct {
	f    *os.File
	size int64
}

// OpenFile opens path as a backend. A regular file is created if missing
// and grown to size; size 0 keeps the current length.
func OpenFile(path string, size int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to size %s: %w", path, err)
		}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{f: f, size: info.Size()}, nil
}

// ReadAt implements the Backend interface. Reads past the end return
// what is there.
func (b *File) ReadAt(p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, nil
	}
	if rest := b.size - off; int64(len(p)) > rest {
		p = p[:rest]
	}
	return b.f.ReadAt(p, off)
}

// WriteAt implements the Backend interface
func (b *File) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > b.size {
		return 0, fmt.Errorf("write of %d bytes at %d beyond end of device", len(p), off)
	}
	return b.f.WriteAt(p, off)
}

// Size implements the Backend interface
func (b *File) Size() int64 {
	return b.size
}

// Close implements the Backend interface
func (b *File) Close() error {
	return b.f.Close()
}

// Flush implements the Backend interface
func (b *File) Flush() error {
	return unix.Fdatasync(int(b.f.Fd()))
}

// Discard punches a hole over the range, keeping the file size
func (b *File) Discard(offset, length int64) error {
	if offset >= b.size {
		return nil
	}
	length = min(length, b.size-offset)
	err := unix.Fallocate(int(b.f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, length)
	if errors.Is(err, unix.EOPNOTSUPP) {
		// no hole punching on this filesystem: write zeroes instead
		_, err = b.f.WriteAt(make([]byte, length), offset)
	}
	return err
}

// Compile-time interface checks
var (
	_ interfaces.Backend        = (*File)(nil)
	_ interfaces.DiscardBackend = (*File)(nil)
)
