package kernel

import (
	"fmt"

	"github.com/vnatarajan-go/toykern/internal/allocator"
	"github.com/vnatarajan-go/toykern/internal/memregion"
)

// Config configures a Kernel's boot sequence. Defaults match spec.md
// §6's named constants.
type Config struct {
	RegionSize int
	StackSize  int
	Console    *Console
}

// Option follows the teacher's internal/allocator functional-options
// idiom (WithTracking, WithArenaSize, ...), generalized to the three
// knobs this kernel's boot sequence actually has.
type Option func(*Config)

// WithRegionSize overrides the byte size of the managed region handed
// to mem_init.
func WithRegionSize(n int) Option {
	return func(c *Config) { c.RegionSize = n }
}

// WithStackSize overrides the per-process stack size used by Create.
func WithStackSize(n int) Option {
	return func(c *Config) { c.StackSize = n }
}

// WithConsole overrides where boot banners and traces are written.
func WithConsole(con *Console) Option {
	return func(c *Config) { c.Console = con }
}

func defaultConfig() Config {
	return Config{
		RegionSize: 1 << 20, // 1 MiB, large enough for S2-scale stress
		StackSize:  defaultStackSize,
	}
}

// Kernel sequences the three subsystems' bring-up the way the
// teacher's InitializeCompleteKernel sequences its (much larger) boot,
// minus every subsystem spec.md puts out of scope: filesystem,
// network, security, interrupts, virtual memory.
type Kernel struct {
	cfg     Config
	region  *memregion.Region
	Alloc   *allocator.Allocator
	Manager *Manager
	console *Console
}

// Boot acquires the backing region, initializes the allocator over it,
// and initializes the process manager with the caller as the bootstrap
// process. It returns an error only for the ambient Go-level failure
// spec.md doesn't model: the backing region's acquisition failing.
func Boot(opts ...Option) (*Kernel, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Console == nil {
		cfg.Console = NewConsole(nil)
	}

	region, err := memregion.Acquire(cfg.RegionSize)
	if err != nil {
		return nil, fmt.Errorf("kernel: acquiring %d-byte backing region: %w", cfg.RegionSize, err)
	}

	k := &Kernel{
		cfg:     cfg,
		region:  region,
		console: cfg.Console,
	}

	k.console.Println("toykern: booting")
	k.console.Printf("toykern: region=%d bytes stack=%d bytes\n", cfg.RegionSize, cfg.StackSize)

	k.Alloc = allocator.New(region.Bytes())
	k.console.Println("toykern: allocator online")

	k.Manager = NewManager(k.Alloc)
	k.Manager.stackSize = cfg.StackSize
	k.console.Println("toykern: process manager online, bootstrap is PID 0")

	return k, nil
}

// Shutdown releases the backing region. There is no graceful process
// teardown — spec.md defines no teardown API for either subsystem.
func (k *Kernel) Shutdown() error {
	k.console.Println("toykern: shutting down")
	return k.region.Release()
}

// Status mirrors the teacher's GetKernelStatus map[string]interface{}
// introspection surface.
func (k *Kernel) Status() map[string]interface{} {
	stats := k.Alloc.Stats()
	running, hasRunning := k.Manager.RunningPID()

	status := map[string]interface{}{
		"allocator": map[string]interface{}{
			"used_blocks":     stats.UsedBlocks,
			"free_blocks":     stats.FreeBlocks,
			"bytes_used":      stats.BytesUsed,
			"bytes_free":      stats.BytesFree,
			"largest_free":    stats.LargestFree,
			"region_capacity": stats.RegionCapacity,
		},
		"processes": k.Manager.Snapshot(),
	}

	if hasRunning {
		status["running_pid"] = running
	}

	return status
}
