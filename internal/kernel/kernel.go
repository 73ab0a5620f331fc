// Package kernel wires the Frame Pool, Swap Bitmap, Page Metadata
// Table, Swap Engine, block device, and statistics counters into the
// single shared instance every address space and the fault path
// consult — the un-named "kernel image" of spec.md §4.3 ("statically
// allocated at kernel image time").
package kernel

import (
	"github.com/jaeiko/pa4-sklt-xv6/internal/blockdev"
	"github.com/jaeiko/pa4-sklt-xv6/internal/config"
	"github.com/jaeiko/pa4-sklt-xv6/internal/frame"
	"github.com/jaeiko/pa4-sklt-xv6/internal/pagemeta"
	"github.com/jaeiko/pa4-sklt-xv6/internal/stats"
	"github.com/jaeiko/pa4-sklt-xv6/internal/swapbitmap"
	"github.com/jaeiko/pa4-sklt-xv6/internal/swapengine"
)

// Kernel is the process-global paging state: exactly one instance
// exists per running simulation, shared by every AddressSpace
// (internal/vm) and reached by the fault handler hook.
type Kernel struct {
	Cfg    config.Constants
	Frames *frame.Pool
	Meta   *pagemeta.Table
	Bitmap *swapbitmap.Bitmap
	Device blockdev.Device
	Stats  *stats.Counters
	Engine *swapengine.Engine
}

// New boots the paging subsystem over the given block device
// (spec.md §1 treats the device itself as an external collaborator;
// the caller supplies a blockdev.Device implementation).
func New(cfg config.Constants, dev blockdev.Device) *Kernel {
	frames := frame.New(cfg.NumFrames(), cfg.PageSize)
	meta := pagemeta.New(cfg.NumFrames())
	bitmap := swapbitmap.New(cfg.NumSlots())
	st := &stats.Counters{}
	engine := swapengine.New(cfg, frames, meta, bitmap, dev, st, nil)
	// Breaks the Pool <-> Engine initialization cycle: the pool needs a
	// Reclaimer to call on exhaustion, and the engine needs the pool it
	// reclaims into.
	frames.SetReclaimer(engine)

	return &Kernel{
		Cfg:    cfg,
		Frames: frames,
		Meta:   meta,
		Bitmap: bitmap,
		Device: dev,
		Stats:  st,
		Engine: engine,
	}
}
