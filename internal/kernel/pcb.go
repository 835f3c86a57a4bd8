package kernel

import (
	"encoding/binary"
	"unsafe"
)

// pcbMagic identifies a block of allocator-owned memory as a process
// control block, matching the debugging convention named alongside the
// allocator's own USED/FREE magics.
const pcbMagic = 0x50524F43 // 'PROC'

// procState mirrors the READY/RUNNING/SLEEPING/WAITING state set; only
// READY and RUNNING are ever entered by this scheduler.
type procState uint32

const (
	stateReady procState = iota
	stateRunning
	stateSleeping
	stateWaiting
)

func (s procState) String() string {
	switch s {
	case stateReady:
		return "READY"
	case stateRunning:
		return "RUNNING"
	case stateSleeping:
		return "SLEEPING"
	case stateWaiting:
		return "WAITING"
	default:
		return "UNKNOWN"
	}
}

// pcbSize is the on-disk layout of a PCB carved out of the allocator's
// region, matching the header-field style used for block metadata:
//
//	[0:4)   magic      uint32
//	[4:8)   padding
//	[8:16)  pid        int64
//	[16:20) state      uint32
//	[20:24) padding
//	[24:32) stackBase  int64  (raw pointer value, 0 = bootstrap / host stack)
//	[32:40) stackSize  int64
//	[40:48) savedSP    int64  (placeholder: set to 1 by initPCB, never updated; the goroutine hand-off replaces a saved SP)
//	[48:56) next       int64  (raw pointer value of next PCB, 0 = null)
const pcbSize = 56

const (
	offMagic     = 0
	offPID       = 8
	offState     = 16
	offStackBase = 24
	offStackSize = 32
	offSavedSP   = 40
	offNext      = 48
)

func readU32(ptr unsafe.Pointer, off int) uint32 {
	return binary.NativeEndian.Uint32(unsafe.Slice((*byte)(unsafe.Add(ptr, off)), 4))
}

func writeU32(ptr unsafe.Pointer, off int, v uint32) {
	binary.NativeEndian.PutUint32(unsafe.Slice((*byte)(unsafe.Add(ptr, off)), 4), v)
}

func readI64(ptr unsafe.Pointer, off int) int64 {
	return int64(binary.NativeEndian.Uint64(unsafe.Slice((*byte)(unsafe.Add(ptr, off)), 8)))
}

func writeI64(ptr unsafe.Pointer, off int, v int64) {
	binary.NativeEndian.PutUint64(unsafe.Slice((*byte)(unsafe.Add(ptr, off)), 8), uint64(v))
}

func pidOf(p unsafe.Pointer) int64         { return readI64(p, offPID) }
func stateOf(p unsafe.Pointer) procState   { return procState(readU32(p, offState)) }
func setState(p unsafe.Pointer, s procState) { writeU32(p, offState, uint32(s)) }
func stackBaseOf(p unsafe.Pointer) int64   { return readI64(p, offStackBase) }
func nextOf(p unsafe.Pointer) int64        { return readI64(p, offNext) }
func setNextRaw(p unsafe.Pointer, v int64) { writeI64(p, offNext, v) }

// ptrToRaw and rawToPtr convert between an unsafe.Pointer into the
// allocator's region and the raw integer representation stored in a
// PCB's next field. This is safe only because the backing array (the
// allocator's region, ultimately a memregion.Region) is kept alive for
// the lifetime of the Manager that holds these pointers — it is never
// resliced, grown, or moved.
func ptrToRaw(p unsafe.Pointer) int64    { return int64(uintptr(p)) }
func rawToPtr(v int64) unsafe.Pointer    { return unsafe.Pointer(uintptr(v)) }

func nextPtr(p unsafe.Pointer) unsafe.Pointer { return rawToPtr(nextOf(p)) }
func setNext(p unsafe.Pointer, next unsafe.Pointer) {
	setNextRaw(p, ptrToRaw(next))
}

// initPCB stamps a freshly allocated block as a PCB with the given
// identity. stackBase/stackSize are 0 for the bootstrap process, whose
// stack is the host's, per spec.
func initPCB(p unsafe.Pointer, pid int64, st procState, stackBase unsafe.Pointer, stackSize int64) {
	writeU32(p, offMagic, pcbMagic)
	writeI64(p, offPID, pid)
	writeU32(p, offState, uint32(st))
	writeI64(p, offStackBase, ptrToRaw(stackBase))
	writeI64(p, offStackSize, stackSize)
	writeI64(p, offSavedSP, 1) // placeholder; see the savedSP note on pcbSize
	setNextRaw(p, 0)
}

func isPCB(p unsafe.Pointer) bool {
	return readU32(p, offMagic) == pcbMagic
}
