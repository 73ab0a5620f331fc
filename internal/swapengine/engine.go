// Package swapengine orchestrates victim selection, disk transfer,
// page-table rewriting, and TLB shoot-down for swap-out and swap-in,
// per spec.md §4.4. It is the direct generalization of
// _examples/original_source/xv6-riscv/kernel/kalloc.c's swap_out,
// split from its intermixed allocator logic, plus the swap-in half
// the source leaves to the fault handler.
package swapengine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jaeiko/pa4-sklt-xv6/internal/blockdev"
	"github.com/jaeiko/pa4-sklt-xv6/internal/config"
	"github.com/jaeiko/pa4-sklt-xv6/internal/frame"
	"github.com/jaeiko/pa4-sklt-xv6/internal/pagemeta"
	"github.com/jaeiko/pa4-sklt-xv6/internal/pagetable"
	"github.com/jaeiko/pa4-sklt-xv6/internal/pte"
	"github.com/jaeiko/pa4-sklt-xv6/internal/stats"
	"github.com/jaeiko/pa4-sklt-xv6/internal/swapbitmap"
)

// TLBFlusher is called after a PTE mutation that invalidates a
// cached translation, scoped to the affected address space. The out-
// of-scope trap dispatcher/MMU would normally own this; a no-op
// flusher is fine for this simulation, but the hook exists so a real
// integration (or a test asserting flush counts) can observe it.
type TLBFlusher func(owner *pagetable.Table, vaddr uint64)

// Engine ties together the components spec.md §4.4 names: the frame
// pool it returns frames to, the LRU/clock engine it selects victims
// from, the swap bitmap it reserves/releases slots on, the block
// device it transfers pages through, and the counters it increments.
type Engine struct {
	cfg    config.Constants
	frames *frame.Pool
	meta   *pagemeta.Table
	bitmap *swapbitmap.Bitmap
	dev    blockdev.Device
	stats  *stats.Counters
	flush  TLBFlusher
	log    *logrus.Entry
}

// New builds an Engine over the given components. flush may be nil,
// in which case TLB flushes are no-ops.
func New(cfg config.Constants, frames *frame.Pool, meta *pagemeta.Table, bitmap *swapbitmap.Bitmap, dev blockdev.Device, st *stats.Counters, flush TLBFlusher) *Engine {
	if flush == nil {
		flush = func(*pagetable.Table, uint64) {}
	}
	return &Engine{
		cfg: cfg, frames: frames, meta: meta, bitmap: bitmap, dev: dev, stats: st, flush: flush,
		log: logrus.WithField("component", "swapengine"),
	}
}

// ReclaimOne implements frame.Reclaimer: it evicts one resident frame
// to swap and returns true once the frame has been pushed back onto
// the free list. It returns false if there is nothing evictable or
// the swap device is full — true OOM, propagated by frame.Pool.Alloc.
//
// self is forwarded to pagemeta.Table.SelectVictim unchanged: it is
// the page-table lock the caller (frame.Pool.Alloc's own caller)
// already holds, if any, letting that address space evict its own
// pages without a self-deadlocking relock.
//
// Swap-out runs in this order: pagemeta.Table.SelectVictim selects
// and excises the victim
// under the LRU lock (see it for how that is made atomic with respect
// to the victim's address space without violating the lock order of
// §5), and the swap slot is reserved only afterwards. A failed
// reservation therefore does not leave the LRU list untouched: the
// victim is re-inserted at the LRU tail.
func (e *Engine) ReclaimOne(self *pagetable.Table) (ok bool) {
	victim, found := e.meta.SelectVictim(self)
	if !found {
		return false
	}
	// victim.Owner's lock is held from here until we release it below;
	// this is what makes the PTE transition atomic with respect to the
	// owning address space (spec.md §4.4).
	defer victim.Release()

	slot, reserved := e.bitmap.Reserve()
	if !reserved {
		// Swap is full. The victim was already excised from the LRU by
		// SelectVictim; put it back so it remains evictable later,
		// since nothing else has been mutated.
		e.meta.Insert(victim.Frame, victim.Owner, victim.Vaddr)
		e.log.Warn("swap device full, reclaim failed")
		return false
	}

	// No spinlock is held across this transfer: the LRU lock was
	// released inside SelectVictim once the victim was excised, and the
	// bitmap lock was released inside Reserve. Only the (sleepable)
	// page-table lock is held, privately protecting this one victim.
	buf := e.frames.Bytes(victim.Frame)
	if err := e.writeSlot(slot, buf); err != nil {
		e.bitmap.Release(slot)
		e.meta.Insert(victim.Frame, victim.Owner, victim.Vaddr)
		e.log.WithError(err).Warn("swap-out write failed, victim kept resident")
		return false
	}
	e.stats.IncWrites()

	cur := victim.Owner.Get(victim.Vaddr)
	if cur.Kind() != pte.KindResident || cur.Frame() != uint64(victim.Frame) {
		panic(fmt.Sprintf("swapengine: victim PTE at vaddr %#x no longer encodes frame %d", victim.Vaddr, victim.Frame))
	}
	victim.Owner.Set(victim.Vaddr, pte.Swapped(slot, cur.Perm()))
	e.flush(victim.Owner, victim.Vaddr)

	e.frames.Free(victim.Frame)
	return true
}

// SwapIn handles a fault whose PTE is swapped (spec.md §4.4,
// "Swap-in"). owner must already be known to hold a swapped PTE at
// vaddr; callers (internal/vm's fault handler hook) are expected to
// have checked pte.KindSwapped before calling this.
//
// The page-table lock is held for the whole operation — "Transitions
// are atomic with respect to the owning address space's page-table
// lock; concurrent faults on the same PTE are serialized and only one
// performs the swap-in" (spec.md §4.4) — which is safe against
// deadlock here because alloc_frame's own recursive swap-out only
// ever acquires *other* tables' locks via TryLock (pagemeta.Table.SelectVictim),
// never blocking while a page-table lock is held elsewhere.
func (e *Engine) SwapIn(owner *pagetable.Table, vaddr uint64) error {
	owner.Lock()
	defer owner.Unlock()

	cur := owner.Get(vaddr)
	if cur.Kind() != pte.KindSwapped {
		return fmt.Errorf("swapengine: SwapIn called on non-swapped PTE at vaddr %#x", vaddr)
	}
	slot := cur.Slot()
	perm := cur.Perm()

	// owner's lock is already held (above), so it is passed as self:
	// without this, a fault on the last untouched page of a single,
	// already-saturated address space could never reclaim any of that
	// same address space's own other pages.
	f, ok := e.frames.Alloc(owner)
	if !ok {
		return fmt.Errorf("swapengine: out of memory swapping in vaddr %#x", vaddr)
	}

	if err := e.readSlot(slot, e.frames.Bytes(f)); err != nil {
		// The frame was never published anywhere else; return it and
		// fail. The caller (fault handler) kills the process per
		// spec.md §7: "fatal for swap-in of a live process."
		e.frames.Free(f)
		return fmt.Errorf("swapengine: swap-in read failed: %w", err)
	}
	e.stats.IncReads()

	e.bitmap.Release(slot)
	owner.Set(vaddr, pte.Resident(uint64(f), perm, true))
	e.meta.Insert(f, owner, vaddr)
	e.flush(owner, vaddr)
	return nil
}

// ReadSlotRaw transfers a swap slot's contents into buf without
// touching any page table or releasing the slot. It's used by
// internal/vm's fork hook to materialize a child frame from a
// parent's still-swapped page (spec.md §4.5: "read the parent's swap
// slot into a temporary buffer (or directly into the child frame), do
// not release the parent's slot") — this is a real disk transfer, so
// it counts toward swap_reads exactly like a fault-driven swap-in.
func (e *Engine) ReadSlotRaw(slot uint64, buf []byte) error {
	if err := e.readSlot(slot, buf); err != nil {
		return fmt.Errorf("swapengine: fork materialize read failed: %w", err)
	}
	e.stats.IncReads()
	return nil
}

func (e *Engine) writeSlot(slot uint64, buf []byte) error {
	return e.dev.WriteBlocks(int64(slot)*e.cfg.BlocksPerSlot(), buf)
}

func (e *Engine) readSlot(slot uint64, buf []byte) error {
	return e.dev.ReadBlocks(int64(slot)*e.cfg.BlocksPerSlot(), buf)
}
