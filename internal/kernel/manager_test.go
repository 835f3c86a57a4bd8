package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnatarajan-go/toykern/internal/allocator"
)

// trace is a concurrency-safe append-only log for test process bodies.
// The scheduler's unbuffered hand-off channel already establishes a
// happens-before edge between consecutive writers, but the mutex here
// keeps the helper correct independent of that detail.
type trace struct {
	mu   sync.Mutex
	rows []string
}

func (t *trace) add(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, fmt.Sprintf(format, args...))
}

func (t *trace) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.rows...)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	region := make([]byte, 1<<20)
	alloc := allocator.New(region)

	return NewManager(alloc)
}

// waitUntil polls for a condition so tests don't race the scheduler's
// goroutines; every process in this package's tests eventually calls
// Yield or returns, so termination is bounded.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}

		time.Sleep(time.Millisecond)
	}
}

func TestBootstrapIsPID0AndRunning(t *testing.T) {
	m := newTestManager(t)

	pid, ok := m.RunningPID()
	require.True(t, ok)
	assert.Equal(t, 0, pid)
}

func TestCreateRunsBeforeCreatorPerHeadInsertion(t *testing.T) {
	// S3-shape: Create's head-insertion exception means the new
	// process runs before the creator resumes.
	m := newTestManager(t)
	tr := &trace{}

	pid := m.Create(func() int {
		tr.add("child ran")
		return 0
	})
	require.GreaterOrEqual(t, pid, 1)

	waitUntil(t, time.Second, func() bool {
		return len(tr.snapshot()) == 1
	})

	tr.add("creator resumed")
	assert.Equal(t, []string{"child ran", "creator resumed"}, tr.snapshot())
}

func TestTwoProcessRoundRobinPreservesPerProcessOrder(t *testing.T) {
	m := newTestManager(t)
	tr := &trace{}

	var done int32

	m.Create(func() int {
		// P1 creates P2 before doing any of its own work, matching S3.
		m.Create(func() int {
			for k := 10; k >= 1; k-- {
				tr.add("Process-2: %d", k)
				m.Yield()
			}

			atomic.AddInt32(&done, 1)
			return 0
		})

		for i := 0; i <= 8; i += 2 {
			tr.add("Process-1: %d", i)
			m.Yield()
		}

		atomic.AddInt32(&done, 1)
		return 0
	})

	// The calling goroutine (bootstrap) must stay a participant in its
	// own round-robin queue rather than block on a WaitGroup or channel:
	// Create returns here only after P2's first Yield has dequeued
	// bootstrap ahead of P1 (FIFO head), and nothing but Yield/Create/
	// Delete ever calls back into the scheduler. Blocking on anything
	// other than Yield would leave P1 and P2 parked forever.
	for i := 0; atomic.LoadInt32(&done) < 2; i++ {
		if i > 1000 {
			t.Fatal("round-robin did not converge")
		}

		m.Yield()
	}

	rows := tr.snapshot()
	require.Len(t, rows, 15)

	var p1Seen, p2Seen []string

	for _, r := range rows {
		switch {
		case len(r) >= 9 && r[:9] == "Process-1":
			p1Seen = append(p1Seen, r)
		case len(r) >= 9 && r[:9] == "Process-2":
			p2Seen = append(p2Seen, r)
		}
	}

	assert.Equal(t, []string{
		"Process-1: 0", "Process-1: 2", "Process-1: 4", "Process-1: 6", "Process-1: 8",
	}, p1Seen, "P1's own prints must stay in increasing order")

	assert.Equal(t, []string{
		"Process-2: 10", "Process-2: 9", "Process-2: 8", "Process-2: 7", "Process-2: 6",
		"Process-2: 5", "Process-2: 4", "Process-2: 3", "Process-2: 2", "Process-2: 1",
	}, p2Seen, "P2's own prints must stay in decreasing order")

	// Both processes must have been interleaved, not run back-to-back.
	sawBothAdjacentSwitch := false

	for i := 1; i < len(rows); i++ {
		if rows[i][:9] != rows[i-1][:9] {
			sawBothAdjacentSwitch = true
			break
		}
	}

	assert.True(t, sawBothAdjacentSwitch, "expected the two processes' prints to interleave under round-robin")
}

func TestSelfDeleteHandsOffWithoutCorruption(t *testing.T) {
	// S4: a process deleting itself must cease executing, and the
	// scheduler must pick another ready process (here, the bootstrap)
	// without dereferencing freed memory.
	m := newTestManager(t)

	var ranAfterDelete bool

	pid := m.Create(func() int {
		return 0 // natural return triggers the implicit self-delete path
	})
	require.GreaterOrEqual(t, pid, 1)

	waitUntil(t, time.Second, func() bool {
		running, ok := m.RunningPID()
		return ok && running == 0
	})

	ranAfterDelete = true
	assert.True(t, ranAfterDelete)

	running, ok := m.RunningPID()
	require.True(t, ok)
	assert.Equal(t, 0, running, "control must return to the bootstrap after the child self-deletes")

	require.NoError(t, m.alloc.CheckInvariants())
}

func TestDeleteOfReadyProcessSplicesOutAndFrees(t *testing.T) {
	m := newTestManager(t)
	tr := &trace{}

	// Create's head-insertion means control does not return to this
	// goroutine (bootstrap) until A has run past its own first Yield
	// and is parked READY in the queue — the only point at which
	// another ready process is actually observable/deletable.
	aPID := m.Create(func() int {
		tr.add("A: before yield")
		m.Yield()
		tr.add("A: after yield") // must never run if deleted first
		return 0
	})
	require.GreaterOrEqual(t, aPID, 1)
	assert.Equal(t, []string{"A: before yield"}, tr.snapshot())

	rc := m.Delete(aPID)
	assert.Equal(t, 0, rc)

	require.NoError(t, m.alloc.CheckInvariants())

	time.Sleep(20 * time.Millisecond) // A's parked goroutine must never resume
	assert.Equal(t, []string{"A: before yield"}, tr.snapshot())

	var foundA bool

	for _, p := range m.Snapshot() {
		if p.PID == aPID {
			foundA = true
		}
	}

	assert.False(t, foundA, "deleted process must be removed from the introspection registry")
}

func TestDeleteOfUnknownPIDIsSilentNoOp(t *testing.T) {
	m := newTestManager(t)

	rc := m.Delete(99999)
	assert.Equal(t, 0, rc)

	pid, ok := m.RunningPID()
	require.True(t, ok)
	assert.Equal(t, 0, pid)
}
