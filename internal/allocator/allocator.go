// Package allocator implements a worst-fit, coalescing, in-place block
// allocator over a single caller-supplied byte region. All bookkeeping —
// block headers, the address-ordered block chain, and the size-ordered
// free list — lives inside the managed region itself; there is no side
// heap. This mirrors the embedded-metadata, arena-plus-byte-index style
// the reference corpus uses for raw memory management (see
// balloc.BuddyPool and the teacher's region allocator) rather than
// casting the region to typed Go struct pointers, which would invite
// strict-aliasing and GC-scanning hazards over a non-Go-managed buffer.
package allocator

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Block state magics, matching the debugging convention named in the spec.
const (
	usedMagic uint32 = 0x4D454D55 // 'MEMU'
	freeMagic uint32 = 0x4D454D46 // 'MEMF'
)

const (
	// headerSize is the on-disk layout of every block header:
	//   [0:4)   magic   uint32
	//   [4:8)   padding
	//   [8:16)  prev    int64  (offset of address-order predecessor, nullOff if none)
	//   [16:24) size    int64  (payload size in bytes)
	headerSize = 24

	// Free-block payload additionally overlays the free-list links in its
	// first 16 bytes:
	//   [0:8)   larger  int64 (offset of nearest free block with size >= this one)
	//   [8:16)  smaller int64 (offset of nearest free block with size <= this one)
	minFreePayload = 16
	minFreeBlock   = headerSize + minFreePayload

	alignment = 8

	nullOff int64 = -1
)

// Allocator is a worst-fit, eagerly-coalescing allocator over a single
// fixed byte region. It is not safe for concurrent use — per the design
// this mirrors, allocation and free are not reentrant, and callers must
// ensure a context switch cannot land inside one of these routines.
type Allocator struct {
	region   []byte
	base     uintptr
	endMem   int64
	freelist int64 // offset of the largest free block, nullOff if none
}

// Stats summarizes the current state of the managed region.
type Stats struct {
	UsedBlocks     int
	FreeBlocks     int
	BytesUsed      int64
	BytesFree      int64
	LargestFree    int64
	RegionCapacity int64
}

// New initializes the allocator over region, establishing a single FREE
// block covering the entire region minus one header, with its payload
// rounded down to the alignment; any trailing bytes past that boundary
// (fewer than the alignment) are left unused. region must not be
// resliced or reallocated by the caller afterward — the allocator keeps
// a raw pointer into its backing array for pointer/offset translation.
//
// New panics if region is too small to hold one header plus the minimum
// free payload; the spec leaves this case undefined; a loud failure at
// construction time is preferable to corrupting memory.
func New(region []byte) *Allocator {
	if len(region) < headerSize+minFreePayload {
		panic(fmt.Sprintf("allocator: region of %d bytes too small for one header (%d) plus minimum payload (%d)",
			len(region), headerSize, minFreePayload))
	}

	payload := (int64(len(region)) - headerSize) &^ (alignment - 1)

	a := &Allocator{
		region: region,
		base:   uintptr(unsafe.Pointer(&region[0])),
		endMem: headerSize + payload,
	}
	a.reset()

	return a
}

// reset re-establishes the single-free-block initial state. Exposed only
// through New: the spec supports repeated Initialize calls, but this
// package exposes that as constructing a fresh Allocator rather than
// mutating one in place, since Go callers hold no raw handle that would
// need re-validating across a reset.
func (a *Allocator) reset() {
	a.freelist = 0
	a.setMagic(0, freeMagic)
	a.setPrev(0, nullOff)
	a.setSize(0, a.endMem-headerSize)
	a.setLarger(0, nullOff)
	a.setSmaller(0, nullOff)
}

// ---- raw field access -------------------------------------------------

func (a *Allocator) magicAt(off int64) uint32 {
	return binary.NativeEndian.Uint32(a.region[off : off+4])
}

func (a *Allocator) setMagic(off int64, m uint32) {
	binary.NativeEndian.PutUint32(a.region[off:off+4], m)
}

func (a *Allocator) prevOf(off int64) int64 {
	return int64(binary.NativeEndian.Uint64(a.region[off+8 : off+16]))
}

func (a *Allocator) setPrev(off int64, v int64) {
	binary.NativeEndian.PutUint64(a.region[off+8:off+16], uint64(v))
}

func (a *Allocator) sizeOf(off int64) int64 {
	return int64(binary.NativeEndian.Uint64(a.region[off+16 : off+24]))
}

func (a *Allocator) setSize(off int64, v int64) {
	binary.NativeEndian.PutUint64(a.region[off+16:off+24], uint64(v))
}

func (a *Allocator) payloadOff(off int64) int64 { return off + headerSize }

// successorOf returns the offset of the address-order next block, or
// nullOff if off is the last block (its end equals the region end).
func (a *Allocator) successorOf(off int64) int64 {
	next := off + headerSize + a.sizeOf(off)
	if next >= a.endMem {
		return nullOff
	}

	return next
}

func (a *Allocator) largerOf(off int64) int64 {
	p := a.payloadOff(off)
	return int64(binary.NativeEndian.Uint64(a.region[p : p+8]))
}

func (a *Allocator) setLarger(off int64, v int64) {
	p := a.payloadOff(off)
	binary.NativeEndian.PutUint64(a.region[p:p+8], uint64(v))
}

func (a *Allocator) smallerOf(off int64) int64 {
	p := a.payloadOff(off)
	return int64(binary.NativeEndian.Uint64(a.region[p+8 : p+16]))
}

func (a *Allocator) setSmaller(off int64, v int64) {
	p := a.payloadOff(off)
	binary.NativeEndian.PutUint64(a.region[p+8:p+16], uint64(v))
}

func (a *Allocator) payloadPtr(off int64) unsafe.Pointer {
	return unsafe.Pointer(&a.region[a.payloadOff(off)])
}

// headerOffsetOf recovers the header offset for a previously returned
// payload pointer. Returns (0, false) if the recovered header offset lies
// outside the region; it does not check that ptr sits on a block
// boundary.
func (a *Allocator) headerOffsetOf(ptr unsafe.Pointer) (int64, bool) {
	rel := int64(uintptr(ptr) - a.base)
	off := rel - headerSize

	if off < 0 || off >= a.endMem {
		return 0, false
	}

	return off, true
}

// ---- free list ---------------------------------------------------------

// freelistInsert splices off into the size-sorted free list, scanning
// from the head along the smaller chain until a block whose size is <=
// off's size is found, exactly as specified.
func (a *Allocator) freelistInsert(off int64) {
	size := a.sizeOf(off)

	cur := a.freelist

	prev := nullOff
	for cur != nullOff && a.sizeOf(cur) > size {
		prev = cur
		cur = a.smallerOf(cur)
	}

	a.setLarger(off, prev)
	a.setSmaller(off, cur)

	if prev != nullOff {
		a.setSmaller(prev, off)
	} else {
		a.freelist = off
	}

	if cur != nullOff {
		a.setLarger(cur, off)
	}
}

func (a *Allocator) freelistRemove(off int64) {
	larger := a.largerOf(off)
	smaller := a.smallerOf(off)

	if larger != nullOff {
		a.setSmaller(larger, smaller)
	} else {
		a.freelist = smaller
	}

	if smaller != nullOff {
		a.setLarger(smaller, larger)
	}
}

// ---- public API ---------------------------------------------------------

func alignUp(size, align int64) int64 {
	return (size + align - 1) &^ (align - 1)
}

// Allocate returns a pointer to a payload of at least size bytes, or nil
// if no free block is large enough. size is first raised to at least
// the free-link-pair size and then rounded up to the alignment.
//
// Allocation only ever inspects the head of the free list (the largest
// free block): this is worst-fit by construction, since a sorted list's
// head is always the largest entry.
func (a *Allocator) Allocate(size int) unsafe.Pointer {
	req := int64(size)
	if req < minFreePayload {
		req = minFreePayload
	}

	req = alignUp(req, alignment)

	head := a.freelist
	if head == nullOff || a.sizeOf(head) < req {
		return nil
	}

	headSize := a.sizeOf(head)
	balance := headSize - req

	a.freelistRemove(head)

	if balance > minFreeBlock {
		newOff := head + headerSize + req
		oldSuccessor := head + headerSize + headSize // head's successor before truncation
		newSize := balance - headerSize

		a.setMagic(newOff, freeMagic)
		a.setPrev(newOff, head)
		a.setSize(newOff, newSize)

		if oldSuccessor < a.endMem {
			a.setPrev(oldSuccessor, newOff)
		}

		a.setSize(head, req)
		a.freelistInsert(newOff)
	}
	// else: balance is too small to be useful as its own block; it is
	// absorbed into the allocation (bounded internal fragmentation).

	a.setMagic(head, usedMagic)

	return a.payloadPtr(head)
}

// Free releases a previously allocated payload. A nil pointer is a
// no-op. A pointer whose header does not carry the USED magic is
// rejected silently — a defensive check against double-free or foreign
// pointers, not a reported error.
func (a *Allocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	off, ok := a.headerOffsetOf(ptr)
	if !ok || a.magicAt(off) != usedMagic {
		return
	}

	a.setMagic(off, freeMagic)
	working := off

	if prev := a.prevOf(working); prev != nullOff && a.magicAt(prev) == freeMagic {
		a.freelistRemove(prev)

		succ := a.successorOf(working)
		a.setSize(prev, a.sizeOf(prev)+headerSize+a.sizeOf(working))

		if succ != nullOff {
			a.setPrev(succ, prev)
		}

		working = prev
	}

	a.freelistInsert(working)

	if succ := a.successorOf(working); succ != nullOff && a.magicAt(succ) == freeMagic {
		a.freelistRemove(working)
		a.freelistRemove(succ)

		succSucc := a.successorOf(succ)
		a.setSize(working, a.sizeOf(working)+headerSize+a.sizeOf(succ))

		if succSucc != nullOff {
			a.setPrev(succSucc, working)
		}

		a.freelistInsert(working)
	}
}

// Stats reports a snapshot of the managed region for introspection and
// tests; it is not part of the spec's operation set.
func (a *Allocator) Stats() Stats {
	var s Stats

	s.RegionCapacity = a.endMem

	for off := int64(0); off != nullOff; off = a.successorOf(off) {
		switch a.magicAt(off) {
		case usedMagic:
			s.UsedBlocks++
			s.BytesUsed += a.sizeOf(off)
		case freeMagic:
			s.FreeBlocks++
			s.BytesFree += a.sizeOf(off)

			if a.sizeOf(off) > s.LargestFree {
				s.LargestFree = a.sizeOf(off)
			}
		}
	}

	return s
}

// CheckInvariants walks the block list and free list and returns a
// descriptive error on the first violation of any invariant in the
// spec's data model (magic validity, chain contiguity, no adjacent free
// blocks, free-list ordering and mutual consistency). It is the Go
// stand-in for the spec's "debug builds may detect via sanity checks" —
// Go has no compiled-out assert, so tests call this explicitly after
// every operation instead.
func (a *Allocator) CheckInvariants() error {
	var (
		prevWasFree bool
		freeCount   int
		expectAddr  = int64(0)
	)

	for off := int64(0); ; {
		if off != expectAddr {
			return fmt.Errorf("allocator: block chain gap at offset %d, expected %d", off, expectAddr)
		}

		magic := a.magicAt(off)
		if magic != usedMagic && magic != freeMagic {
			return fmt.Errorf("allocator: block at offset %d has invalid magic %#x", off, magic)
		}

		size := a.sizeOf(off)
		if size%alignment != 0 {
			return fmt.Errorf("allocator: block at offset %d has unaligned size %d", off, size)
		}

		isFree := magic == freeMagic
		if isFree {
			freeCount++

			if size < minFreePayload {
				return fmt.Errorf("allocator: free block at offset %d has undersized payload %d", off, size)
			}

			if prevWasFree {
				return fmt.Errorf("allocator: adjacent free blocks at offset %d", off)
			}
		}

		prevWasFree = isFree

		next := off + headerSize + size
		if next > a.endMem {
			return fmt.Errorf("allocator: block at offset %d overruns region end", off)
		}

		if next == a.endMem {
			break
		}

		if a.prevOf(next) != off {
			return fmt.Errorf("allocator: block at offset %d has mismatched back-link from successor %d", off, next)
		}

		expectAddr = next
		off = next
	}

	// Free-list traversal: must visit exactly freeCount blocks, in
	// non-increasing size order, with head having no larger link.
	if a.freelist != nullOff && a.largerOf(a.freelist) != nullOff {
		return fmt.Errorf("allocator: free-list head has a non-null larger link")
	}

	seen := 0
	lastSize := int64(1<<63 - 1)

	for off := a.freelist; off != nullOff; off = a.smallerOf(off) {
		if a.magicAt(off) != freeMagic {
			return fmt.Errorf("allocator: free list contains non-free block at offset %d", off)
		}

		size := a.sizeOf(off)
		if size > lastSize {
			return fmt.Errorf("allocator: free list out of order at offset %d", off)
		}

		lastSize = size
		seen++

		if smaller := a.smallerOf(off); smaller != nullOff && a.largerOf(smaller) != off {
			return fmt.Errorf("allocator: free-list link mismatch at offset %d", off)
		}

		if seen > freeCount {
			return fmt.Errorf("allocator: free list longer than block-chain free count")
		}
	}

	if seen != freeCount {
		return fmt.Errorf("allocator: free list visited %d blocks, block chain has %d free blocks", seen, freeCount)
	}

	return nil
}
