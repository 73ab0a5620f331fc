package vm

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jaeiko/pa4-sklt-xv6/internal/frame"
	"github.com/jaeiko/pa4-sklt-xv6/internal/kernel"
	"github.com/jaeiko/pa4-sklt-xv6/internal/pagetable"
	"github.com/jaeiko/pa4-sklt-xv6/internal/pte"
)

// AddressSpace is one process's view of the shared kernel.Kernel: its
// page table plus the hooks of spec.md §4.5 that keep the table
// consistent with the frame pool, LRU list, and swap bitmap.
type AddressSpace struct {
	k     *kernel.Kernel
	table *pagetable.Table
	log   *logrus.Entry
}

// New wraps a fresh, empty page table identified by id (the process's
// analogue of an xv6 pid) in an AddressSpace bound to k.
func New(k *kernel.Kernel, id uint64) *AddressSpace {
	return &AddressSpace{
		k:     k,
		table: pagetable.New(id),
		log:   logrus.WithFields(logrus.Fields{"component": "vm", "asid": id}),
	}
}

// Table exposes the underlying page table, e.g. so the fault dispatcher
// or a test harness can inspect PTEs directly.
func (a *AddressSpace) Table() *pagetable.Table { return a.table }

// Map establishes a user mapping backed by a newly allocated frame and
// performs lru_insert so the frame is evictable, per spec.md §4.5
// ("Map"). It returns ErrOutOfMemory if both the free list and swap
// are exhausted.
func (a *AddressSpace) Map(vaddr uint64, perm pte.Perm) error {
	a.table.Lock()
	defer a.table.Unlock()

	if a.table.Get(vaddr).Kind() != pte.KindUnmapped {
		return fmt.Errorf("vm: Map called on already-mapped vaddr %#x", vaddr)
	}

	// a.table is self: with the pool exhausted and no other address
	// space mapped yet, this lets a process evict its own earlier
	// pages to satisfy a later allocation (spec.md §8 scenario 1).
	f, ok := a.k.Frames.Alloc(a.table)
	if !ok {
		return ErrOutOfMemory
	}
	a.table.Set(vaddr, pte.Resident(uint64(f), perm, true))
	a.k.Meta.Insert(f, a.table, vaddr)
	return nil
}

// unmapOneLocked excises and clears a single PTE. Caller must hold
// a.table's lock.
func (a *AddressSpace) unmapOneLocked(vaddr uint64) {
	p := a.table.Get(vaddr)
	switch p.Kind() {
	case pte.KindResident:
		f := frame.Number(p.Frame())
		a.k.Meta.Unlink(f)
		a.k.Frames.Free(f)
	case pte.KindSwapped:
		a.k.Bitmap.Release(p.Slot())
	case pte.KindUnmapped:
		return
	}
	a.table.Delete(vaddr)
}

// UnmapRange walks every PTE with lo <= vaddr < hi, releasing whatever
// backing resource it holds, per spec.md §4.5 ("Unmap (range walk)"):
// a resident frame is unlinked from the LRU and freed; a swapped slot
// is released; an already-unmapped address is skipped. The PTE is
// cleared in every case.
func (a *AddressSpace) UnmapRange(lo, hi uint64) {
	a.table.Lock()
	defer a.table.Unlock()
	for _, vaddr := range a.table.SortedAddrs() {
		if vaddr < lo || vaddr >= hi {
			continue
		}
		a.unmapOneLocked(vaddr)
	}
}

// UnmapAll releases every resource this address space holds without
// clearing the table's own storage, used by Exit. ForkCopy's
// partial-failure teardown uses unmapAllLocked instead.
func (a *AddressSpace) UnmapAll() {
	a.table.Lock()
	defer a.table.Unlock()
	for _, vaddr := range a.table.SortedAddrs() {
		a.unmapOneLocked(vaddr)
	}
}

// unmapAllLocked is UnmapAll for a table the caller already holds
// locked (used by ForkCopy's own teardown, where the child table is
// already locked by ForkCopy and calling UnmapAll would deadlock, since
// sync.Mutex is not reentrant).
func (a *AddressSpace) unmapAllLocked() {
	for _, vaddr := range a.table.SortedAddrs() {
		a.unmapOneLocked(vaddr)
	}
}

// Exit invokes the full-range Unmap hook, releasing every frame and
// swap slot the process held, per spec.md §4.5 ("Exit"): "Swap slots
// held by the process must be released here; failure to do so is a
// resource leak that user-visible tests will detect." The page table
// itself needs no further action: it is not backed by frames in this
// simulation (spec.md §1 treats the page-table format as out of
// scope), so there is nothing beyond UnmapAll to return to the pool.
func (a *AddressSpace) Exit() {
	a.UnmapAll()
}

// ForkCopy builds a new AddressSpace identified by childID that is a
// faithful copy of a, per spec.md §4.5 ("Fork / copy-address-space"):
// every resident PTE is duplicated into a freshly allocated child
// frame; every swapped PTE is materialized into a freshly allocated
// child frame by reading the parent's slot (without releasing it, and
// without reserving a redundant child slot — see DESIGN.md for why
// this implementation takes the minimal materialize-into-the-child
// design of spec.md §4.5 rather than the bracketed "stricter"
// child-stays-swapped one, and why it allocates no child slot that
// would be discarded the instant the PTE is installed resident).
// Permissions are copied unchanged; the access bit is reset to true on
// every materialized child page, matching a freshly faulted-in page.
//
// If any allocation fails partway through, the partially built child
// is torn down with the Unmap hook before the error is returned, per
// spec.md §4.5's closing sentence.
func (a *AddressSpace) ForkCopy(childID uint64) (*AddressSpace, error) {
	a.table.Lock()
	defer a.table.Unlock()

	child := New(a.k, childID)
	child.table.Lock()
	defer child.table.Unlock()

	for _, vaddr := range a.table.SortedAddrs() {
		p := a.table.Get(vaddr)
		switch p.Kind() {
		case pte.KindResident:
			// self is nil here: both a.table and child.table are locked
			// for the whole copy, so neither parent's remaining pages
			// nor the child's already-copied ones are legitimate
			// eviction targets mid-fork; only a third, unrelated address
			// space's pages may be reclaimed, which plain TryLock already
			// allows for.
			f, ok := a.k.Frames.Alloc(nil)
			if !ok {
				child.unmapAllLocked()
				return nil, fmt.Errorf("vm: fork copy at vaddr %#x: %w", vaddr, ErrOutOfMemory)
			}
			copy(a.k.Frames.Bytes(f), a.k.Frames.Bytes(frame.Number(p.Frame())))
			child.table.Set(vaddr, pte.Resident(uint64(f), p.Perm(), p.Accessed()))
			a.k.Meta.Insert(f, child.table, vaddr)

		case pte.KindSwapped:
			f, ok := a.k.Frames.Alloc(nil)
			if !ok {
				child.unmapAllLocked()
				return nil, fmt.Errorf("vm: fork copy at vaddr %#x: %w", vaddr, ErrOutOfMemory)
			}
			if err := a.k.Engine.ReadSlotRaw(p.Slot(), a.k.Frames.Bytes(f)); err != nil {
				a.k.Frames.Free(f)
				child.unmapAllLocked()
				return nil, fmt.Errorf("vm: fork copy at vaddr %#x: %w", vaddr, err)
			}
			child.table.Set(vaddr, pte.Resident(uint64(f), p.Perm(), true))
			a.k.Meta.Insert(f, child.table, vaddr)
			// Parent's slot is deliberately not released: it still backs
			// the parent's own (still-swapped) PTE at this address.

		case pte.KindUnmapped:
			// nothing to copy
		}
	}
	return child, nil
}

// HandleFault implements the swap half of spec.md §4.6: if the PTE at
// vaddr has S=1, dispatch to the swap engine's swap-in path. Otherwise
// it returns ErrNotSwapFault so the (out-of-scope) existing fault
// handler can take over for copy-on-write, lazy allocation, or a kill.
func (a *AddressSpace) HandleFault(vaddr uint64) error {
	a.table.Lock()
	kind := a.table.Get(vaddr).Kind()
	a.table.Unlock()

	if kind != pte.KindSwapped {
		return ErrNotSwapFault
	}
	return a.k.Engine.SwapIn(a.table, vaddr)
}
