//go:build !unix

package memregion

// Region is a plain Go-heap byte slice, used on platforms where
// golang.org/x/sys/unix has no anonymous-mapping support.
type Region struct {
	data []byte
}

// Acquire allocates size bytes from the Go heap.
func Acquire(size int) (*Region, error) {
	return &Region{data: make([]byte, size)}, nil
}

// Bytes returns the backing array for use as an allocator's region.
func (r *Region) Bytes() []byte { return r.data }

// Release drops the reference so the backing array can be collected.
func (r *Region) Release() error {
	r.data = nil
	return nil
}
