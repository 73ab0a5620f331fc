// Package pagetable models one process address space's page table:
// a per-process lock (spec.md §5, lock order position 1) guarding a
// map from user virtual address to pte.PTE. It stands in for the
// walk()-based page-table lookups of the source kernel, which operate
// on a real multi-level radix tree; this implementation uses a flat
// map because the radix-tree walk itself is out of scope (spec.md §1
// treats the MMU/page-table format as a collaborator).
package pagetable

import (
	"sort"
	"sync"

	"github.com/jaeiko/pa4-sklt-xv6/internal/pte"
)

// Table is one address space's page table. The zero value is not
// usable; use New.
type Table struct {
	// mu is the lock named first in spec.md §5's global ordering.
	// Every Address-Space Hook (internal/vm) acquires it for the
	// duration of the operation, including any nested LRU/bitmap/frame
	// locking and disk I/O performed on its behalf.
	mu sync.Mutex

	id      uint64
	entries map[uint64]pte.PTE
}

// New creates an empty table identified by id, used only for logging
// and as the back-reference identity stored in page metadata records
// (internal/pagemeta) — two tables are "the same address space" iff
// they're the same *Table.
func New(id uint64) *Table {
	return &Table{id: id, entries: make(map[uint64]pte.PTE)}
}

// ID returns the table's identifying ASID-like tag.
func (t *Table) ID() uint64 { return t.id }

// Lock acquires the page-table lock. Callers must release it with
// Unlock and must not perform disk I/O of their own while holding it
// except through internal/swapengine, which is written to respect the
// no-I/O-under-spinlock discipline by dropping the LRU and bitmap
// locks before its own I/O — the page-table lock is sleepable and may
// legitimately be held across that I/O (it's a per-process lock, not a
// spinlock, and nothing else needs it during a single fault).
func (t *Table) Lock()   { t.mu.Lock() }
func (t *Table) Unlock() { t.mu.Unlock() }

// TryLock attempts to acquire the page-table lock without blocking.
// It exists for internal/pagemeta's clock scan, which must examine
// candidate PTEs belonging to arbitrary address spaces while holding
// the global LRU lock: blocking here would acquire this lock (order
// position 1) while already holding the LRU lock (position 2) —
// backwards from spec.md §5's ordering, and a deadlock risk against
// any Address-Space Hook that holds this same lock and then wants the
// LRU lock (e.g. unmap's lru_unlink). A failed TryLock is treated the
// same as stale metadata: the candidate is passed over this round.
func (t *Table) TryLock() bool { return t.mu.TryLock() }

// Get returns the PTE mapped at vaddr, or the zero value (Unmapped)
// if none exists. Caller must hold the lock.
func (t *Table) Get(vaddr uint64) pte.PTE { return t.entries[vaddr] }

// Set installs p at vaddr, overwriting any previous encoding. Caller
// must hold the lock.
func (t *Table) Set(vaddr uint64, p pte.PTE) {
	if p == pte.Unmapped() {
		delete(t.entries, vaddr)
		return
	}
	t.entries[vaddr] = p
}

// Delete removes any mapping at vaddr. Caller must hold the lock.
func (t *Table) Delete(vaddr uint64) { delete(t.entries, vaddr) }

// SortedAddrs returns the mapped virtual addresses in ascending order,
// for deterministic range walks (unmap, fork). Caller must hold the
// lock.
func (t *Table) SortedAddrs() []uint64 {
	addrs := make([]uint64, 0, len(t.entries))
	for a := range t.entries {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Len reports the number of mapped virtual pages. Caller must hold
// the lock.
func (t *Table) Len() int { return len(t.entries) }
