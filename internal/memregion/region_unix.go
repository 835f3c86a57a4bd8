//go:build unix

// Package memregion acquires and releases the flat byte region that
// backs a kernel instance, the way balloc's BuddyPool and the teacher's
// region allocator acquire their backing store: an anonymous mapping
// outside the Go heap, so the managed region's lifetime is explicit and
// independent of the garbage collector.
package memregion

import "golang.org/x/sys/unix"

// Region is a byte slice backed by an anonymous memory mapping.
type Region struct {
	data []byte
}

// Acquire maps size bytes of zeroed, readable/writable anonymous memory.
func Acquire(size int) (*Region, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}

	return &Region{data: data}, nil
}

// Bytes returns the mapped region for use as an allocator's backing array.
func (r *Region) Bytes() []byte { return r.data }

// Release unmaps the region. A second call is a no-op that returns nil;
// the region must not be used after the first.
func (r *Region) Release() error {
	if r.data == nil {
		return nil
	}

	err := unix.Munmap(r.data)
	r.data = nil

	return err
}
