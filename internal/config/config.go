// Package config loads the compile-time constants of the memory
// subsystem (spec.md §6) from an optional TOML file, falling back to
// the defaults used by the original PA4 assignment.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Constants are the four compile-time knobs of the paging subsystem.
// In the source kernel these are #defines baked into the image; here
// they're loaded once at boot and then treated as immutable, which is
// why Kernel (internal/kernel) stores a value, not a pointer.
type Constants struct {
	// PageSize is the size in bytes of a physical frame and a swap slot.
	PageSize int64 `toml:"page_size"`
	// PhysTop is the physical memory ceiling: frames are carved from
	// [kernel_end, PhysTop). This implementation treats the whole range
	// as allocatable, since kernel_end accounting belongs to the boot
	// allocator, which is out of scope (spec.md §1).
	PhysTop int64 `toml:"phys_top"`
	// SwapMax is the size in bytes of the swap device.
	SwapMax int64 `toml:"swap_max"`
	// BlockSize is the sector size of the underlying block device.
	BlockSize int64 `toml:"block_size"`
}

// Default returns the constants used by the original PA4 kernel image,
// scaled to a size a test process can actually back with real memory:
// 8 MiB of frames, 64 MiB of swap.
func Default() Constants {
	return Constants{
		PageSize:  4096,
		PhysTop:   8 << 20,
		SwapMax:   64 << 20,
		BlockSize: 512,
	}
}

// Load reads constants from a TOML file at path, applying Default()
// for any field the file omits.
func Load(path string) (Constants, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Constants{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return c, c.Validate()
}

// Validate rejects a constant set that would violate the invariants
// the rest of the subsystem assumes (page-aligned sizes, nonzero
// capacity).
func (c Constants) Validate() error {
	if c.PageSize <= 0 || c.BlockSize <= 0 {
		return fmt.Errorf("config: page_size and block_size must be positive")
	}
	if c.PageSize%c.BlockSize != 0 {
		return fmt.Errorf("config: page_size %d must be a multiple of block_size %d", c.PageSize, c.BlockSize)
	}
	if c.PhysTop <= 0 || c.PhysTop%c.PageSize != 0 {
		return fmt.Errorf("config: phys_top %d must be a positive multiple of page_size %d", c.PhysTop, c.PageSize)
	}
	if c.SwapMax <= 0 || c.SwapMax%c.PageSize != 0 {
		return fmt.Errorf("config: swap_max %d must be a positive multiple of page_size %d", c.SwapMax, c.PageSize)
	}
	return nil
}

// NumFrames is the number of physical frames in [0, PhysTop).
func (c Constants) NumFrames() int { return int(c.PhysTop / c.PageSize) }

// NumSlots derives the swap slot count as SwapMax/PageSize (one slot
// is one page), per spec.md §9: the source's SWAPMAX/4 and SWAPMAX/8
// constants are block-count artifacts of the K=8-blocks-per-slot
// conversion, not independent slot-sizing formulas, and are not used
// here.
func (c Constants) NumSlots() int { return int(c.SwapMax / c.PageSize) }

// BlocksPerSlot is K in spec.md §6: one slot is K contiguous blocks.
func (c Constants) BlocksPerSlot() int64 { return c.PageSize / c.BlockSize }
