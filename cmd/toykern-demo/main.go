// Command toykern-demo boots the toy kernel core and drives the two
// concrete scenarios named in the design's testable-properties
// section: an allocator tight fit (S1) and a two-process round-robin
// (S3), mirroring the way the teacher's orizon-kernel entry point boots
// the subsystem and then exercises it with a banner and a fixed
// sequence of operations.
package main

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/vnatarajan-go/toykern/internal/allocator"
	"github.com/vnatarajan-go/toykern/internal/kernel"
)

func main() {
	k, err := kernel.Boot(
		kernel.WithRegionSize(256 * 1024),
		kernel.WithStackSize(64 * 1024),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "toykern: boot failed: %v\n", err)
		os.Exit(1)
	}
	defer k.Shutdown()

	con := kernel.NewConsole(os.Stdout)
	con.Println()
	con.Println("========================================")
	con.Println("   toykern demo")
	con.Println("========================================")
	con.Println()

	runTightFitDemo(con)
	con.Println()
	runRoundRobinDemo(k, con)

	con.Println()
	con.Printf("final status: %+v\n", k.Status())
}

// runTightFitDemo exercises S1: a region sized to fit three requests
// exactly, where a fourth must fail. It runs on its own allocator over
// 610 bytes plus three 24-byte block headers, apart from the kernel's
// region.
func runTightFitDemo(con *kernel.Console) {
	con.Println("-- allocator: tight fit --")

	alloc := allocator.New(make([]byte, 610+3*24))
	sizes := []int{100, 200, 300, 30}

	for _, sz := range sizes {
		if p := alloc.Allocate(sz); p == nil {
			con.Printf("allocate(%d): null (no fit)\n", sz)
		} else {
			con.Printf("allocate(%d): ok\n", sz)
		}
	}

	con.Printf("stats after allocation: %+v\n", alloc.Stats())
}

// runRoundRobinDemo exercises S3: bootstrap creates P1; P1 creates P2
// before doing any of its own printing, then both cooperatively yield
// between prints until they delete themselves.
func runRoundRobinDemo(k *kernel.Kernel, con *kernel.Console) {
	con.Println("-- process manager: two-process round-robin --")

	var done int32

	k.Manager.Create(func() int {
		k.Manager.Create(func() int {
			for v := 10; v >= 1; v-- {
				con.Printf("Process-2: %d\n", v)
				k.Manager.Yield()
			}

			atomic.AddInt32(&done, 1)

			return 0
		})

		for v := 0; v <= 8; v += 2 {
			con.Printf("Process-1: %d\n", v)
			k.Manager.Yield()
		}

		atomic.AddInt32(&done, 1)

		return 0
	})

	// Create already returned here only because P2's first Yield
	// dequeued bootstrap ahead of P1 (FIFO head) — P1 and P2 are both
	// still parked in the ready queue. Bootstrap must keep calling
	// Yield to keep handing the token back to them; blocking on an
	// out-of-band channel or WaitGroup instead would leave them parked
	// forever, since nothing else ever calls back into the scheduler.
	for atomic.LoadInt32(&done) < 2 {
		k.Manager.Yield()
	}
}
