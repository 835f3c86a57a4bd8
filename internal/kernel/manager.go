// Package kernel implements the cooperative, single-threaded process
// manager: a FIFO ready queue of process control blocks and a
// round-robin scheduler that performs a context switch between them on
// every Yield, Create, and Delete. The PCBs themselves — and each
// process's stack — are carved out of an allocator.Allocator, the same
// way the teacher's hardware.go process manager pulls stack pages from
// its own memory manager rather than the Go heap.
package kernel

import (
	"unsafe"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vnatarajan-go/toykern/internal/allocator"
)

// defaultStackSize is the 128 KiB per-process stack named in the spec's
// external-interfaces constants table.
const defaultStackSize = 128 * 1024

// ProcInfo is a point-in-time snapshot of one process, for
// introspection only — it is not part of the scheduler's own state.
type ProcInfo struct {
	PID   int
	State string
}

// pcbRuntime is the Go-native companion to an arena-resident PCB: the
// parts of a process that cannot themselves live in unmanaged memory,
// because the Go runtime must be able to see and schedule them — the
// hand-off channel and the process's start routine. It exists
// alongside the PCB bytes, keyed by PID, for exactly as long as the
// process does.
type pcbRuntime struct {
	start func() int
	ch    chan struct{}
}

// Manager is the process manager's singleton global state: the ready
// queue, the running process, and the PID counter. It is not safe for
// concurrent use by design — per spec, a context switch can only ever
// occur inside the scheduler, and the scheduler is only ever entered
// by whichever goroutine currently holds the hand-off token.
type Manager struct {
	alloc     *allocator.Allocator
	stackSize int

	head, tail unsafe.Pointer // ready queue, PCB pointers; nil if empty
	running    unsafe.Pointer // at most one PCB, not a ready-queue member

	nextPID  int64 // monotonic; never reused, never reset (spec.md §9 PID policy option (a)); wraparound past math.MaxInt64 is not guarded against
	runtimes map[int64]*pcbRuntime

	registry *xsync.MapOf[int64, ProcInfo] // introspection-only; written by the scheduler, read by anyone
}

// NewManager performs proc_init: resets all process state and installs
// the calling goroutine as the bootstrap process, PID 0, RUNNING, with
// a null stack base (host-owned, not allocator-owned — Delete must
// never attempt to free it).
func NewManager(alloc *allocator.Allocator) *Manager {
	m := &Manager{
		alloc:     alloc,
		stackSize: defaultStackSize,
		nextPID:   1,
		runtimes:  make(map[int64]*pcbRuntime),
		registry:  xsync.NewMapOf[int64, ProcInfo](),
	}

	bootstrap := alloc.Allocate(pcbSize)
	if bootstrap == nil {
		panic("kernel: failed to allocate bootstrap process control block")
	}

	initPCB(bootstrap, 0, stateRunning, nil, 0)

	m.running = bootstrap
	m.runtimes[0] = &pcbRuntime{ch: make(chan struct{})} // start left nil: the bootstrap goroutine is the caller itself
	m.registry.Store(0, ProcInfo{PID: 0, State: stateRunning.String()})

	return m
}

// Create performs proc_create: allocates a PCB and a stack for start,
// inserts the new process at the head of the ready queue, and invokes
// the scheduler — so, per spec.md §5, a freshly created process runs
// before whatever was already queued, and the creator is pushed to the
// tail by that same scheduler call.
func (m *Manager) Create(start func() int) int {
	stack := m.alloc.Allocate(m.stackSize)
	if stack == nil {
		return -1
	}

	pcb := m.alloc.Allocate(pcbSize)
	if pcb == nil {
		m.alloc.Free(stack)
		return -1
	}

	pid := m.nextPID
	m.nextPID++

	initPCB(pcb, pid, stateReady, stack, int64(m.stackSize))

	rt := &pcbRuntime{start: start, ch: make(chan struct{})}
	m.runtimes[pid] = rt
	m.registry.Store(pid, ProcInfo{PID: int(pid), State: stateReady.String()})

	go m.runProcess(rt, pid)

	m.enqueueHead(pcb)
	m.schedule()

	return int(pid)
}

// runProcess is the goroutine wrapper standing in for "resume at
// start_fn" from a prepared stack (spec.md §4.2's stack-preparation
// section). It parks on rt.ch immediately, exactly as a freshly
// prepared stack would sit untouched until first scheduled in. A
// natural return from start is treated as an implicit self-delete — the
// spec does not define this edge explicitly, but leaving the goroutine
// to fall off the end without releasing its PCB/stack or waking the
// next process would stall the scheduler forever, so Delete(pid) is
// invoked on the process's own behalf.
func (m *Manager) runProcess(rt *pcbRuntime, pid int64) {
	<-rt.ch

	rt.start()
	m.Delete(int(pid))
}

// Delete performs proc_delete.
//
// Deleting a process still sitting in the ready queue frees its PCB
// and stack via the allocator exactly as spec.md requires, but cannot
// also reclaim its Go goroutine: because Create always hands the
// token to a freshly made process before its creator regains control,
// any PCB observable in the ready queue from another process's
// perspective has already run past its first scheduling point and is
// parked mid-call inside some other schedule() invocation, not at
// runProcess's initial receive — there is no safe point at which to
// signal it to unwind early. Its goroutine is intentionally left
// parked forever; this is a Go-realization leak distinct from, and in
// addition to, spec.md §9's documented PCB/stack leak on self-delete,
// and it is harmless to scheduling correctness since the PID is no
// longer registered anywhere a future schedule() could address it.
func (m *Manager) Delete(pid int) int {
	p64 := int64(pid)

	if target := m.findReady(p64); target != nil {
		// Defensive check mirroring allocator.Free's magic validation:
		// a ready-queue entry that doesn't carry the PCB magic means
		// queue corruption, not a valid process, so it's rejected the
		// same way a foreign pointer is rejected by Free.
		if !isPCB(target) {
			return 0
		}

		m.removeFromQueue(target)

		if base := stackBaseOf(target); base != 0 {
			m.alloc.Free(rawToPtr(base))
		}

		m.alloc.Free(target)
		delete(m.runtimes, p64)
		m.registry.Delete(p64)
		m.schedule()

		return 0
	}

	if m.running != nil && pidOf(m.running) == p64 {
		if !isPCB(m.running) {
			return 0
		}

		// Documented leak (spec.md §9 open question): the running
		// process's PCB and stack are not freed here. Its own call
		// stack is still using them to unwind back out through this
		// very call, and the design does not add a reaper.
		m.running = nil
		delete(m.runtimes, p64)
		m.registry.Delete(p64)
		m.schedule()

		return 0
	}

	// Unknown PID: silent no-op beyond running the scheduler.
	m.schedule()

	return 0
}

// Yield performs proc_yield.
func (m *Manager) Yield() {
	m.schedule()
}

// schedule is the only place a context switch occurs. Dequeuing an
// empty ready queue is a no-op; otherwise the outgoing process (if any)
// is marked READY and requeued at the tail before the incoming
// process's hand-off channel is signalled — preserving the capture-
// before-load ordering spec.md §4.2 requires, since "capture outgoing
// state" here means "leave its goroutine able to resume exactly where
// it blocks below" rather than reading a stack pointer.
//
// The stack block Create allocates for each process is bookkeeping
// only: every process actually runs on its own goroutine's stack, and
// the hand-off channel stands in for the stack-pointer swap.
func (m *Manager) schedule() {
	next := m.dequeueHead()
	if next == nil {
		return
	}

	outgoing := m.running

	var outRuntime *pcbRuntime

	if outgoing != nil {
		setState(outgoing, stateReady)
		setNext(outgoing, nil)
		m.enqueueTail(outgoing)
		m.registry.Store(pidOf(outgoing), ProcInfo{PID: int(pidOf(outgoing)), State: stateReady.String()})

		outRuntime = m.runtimes[pidOf(outgoing)]
	}

	m.running = next
	setState(next, stateRunning)
	setNext(next, nil)
	m.registry.Store(pidOf(next), ProcInfo{PID: int(pidOf(next)), State: stateRunning.String()})

	inRuntime := m.runtimes[pidOf(next)]

	inRuntime.ch <- struct{}{} // "load incoming SP; return" — wakes next's goroutine

	if outRuntime != nil {
		<-outRuntime.ch // "save outgoing SP" — this goroutine parks until rescheduled
	}
}

func (m *Manager) enqueueHead(p unsafe.Pointer) {
	setNext(p, m.head)

	if m.tail == nil {
		m.tail = p
	}

	m.head = p
}

func (m *Manager) enqueueTail(p unsafe.Pointer) {
	setNext(p, nil)

	if m.tail != nil {
		setNext(m.tail, p)
	} else {
		m.head = p
	}

	m.tail = p
}

func (m *Manager) dequeueHead() unsafe.Pointer {
	if m.head == nil {
		return nil
	}

	p := m.head
	next := nextPtr(p)

	m.head = next
	if m.head == nil {
		m.tail = nil
	}

	return p
}

func (m *Manager) findReady(pid int64) unsafe.Pointer {
	for p := m.head; p != nil; p = nextPtr(p) {
		if pidOf(p) == pid {
			return p
		}
	}

	return nil
}

func (m *Manager) removeFromQueue(target unsafe.Pointer) {
	var prev unsafe.Pointer

	for p := m.head; p != nil; p = nextPtr(p) {
		if p == target {
			if prev == nil {
				m.head = nextPtr(p)
			} else {
				setNext(prev, nextPtr(p))
			}

			if m.tail == p {
				m.tail = prev
			}

			setNext(p, nil)

			return
		}

		prev = p
	}
}

// Snapshot returns a point-in-time view of every known process, for
// demo/monitoring purposes. It is lock-free with respect to the
// scheduler: the registry is written only by whichever goroutine holds
// the hand-off token, and xsync.MapOf supports concurrent readers.
func (m *Manager) Snapshot() []ProcInfo {
	out := make([]ProcInfo, 0, m.registry.Size())

	m.registry.Range(func(pid int64, info ProcInfo) bool {
		out = append(out, info)
		return true
	})

	return out
}

// RunningPID reports the currently running process, for diagnostics.
func (m *Manager) RunningPID() (int, bool) {
	if m.running == nil {
		return 0, false
	}

	return int(pidOf(m.running)), true
}
