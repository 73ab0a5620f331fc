// Package pagemeta implements the page metadata table and LRU/clock
// engine of spec.md §3/§4.3: one fixed record per physical frame,
// linked into a circular doubly-linked list iff the frame is
// user-resident, with the list head doubling as the clock hand.
//
// Generalized from _examples/original_source/xv6-riscv/kernel/kalloc.c's
// struct page pages[PHYSTOP/PGSIZE] / lru_head / lru_add / lru_remove
// / the scan loop inside swap_out. The source stores prev/next as raw
// struct page pointers; this implementation stores them as frame
// indices into the same arena, which is the idiomatic Go analogue
// (gVisor's pkg/ilist uses the equivalent of raw pointers because its
// elements are already heap objects — ours are array slots, so an
// index plays the same role without a second allocation).
package pagemeta

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jaeiko/pa4-sklt-xv6/internal/frame"
	"github.com/jaeiko/pa4-sklt-xv6/internal/pagetable"
	"github.com/jaeiko/pa4-sklt-xv6/internal/pte"
)

// record is one frame's metadata. A record is linked into the LRU
// list iff its owning frame is in the user-resident state (the
// invariant of spec.md §3).
type record struct {
	linked     bool
	prev, next frame.Number
	owner      *pagetable.Table
	vaddr      uint64
}

// Table is the fixed-size arena of page metadata records, one per
// physical frame, plus the circular LRU list threaded through them.
// The zero value is not usable; construct with New.
type Table struct {
	// mu is the global LRU lock, position 2 in spec.md §5's ordering.
	mu sync.Mutex

	records []record
	head    frame.Number
	hasHead bool
	count   int

	log *logrus.Entry
}

// New builds an empty metadata table sized for numFrames physical
// frames, mirroring kalloc.c's static struct page pages[PHYSTOP/PGSIZE].
func New(numFrames int) *Table {
	return &Table{
		records: make([]record, numFrames),
		log:     logrus.WithField("component", "pagemeta"),
	}
}

// Insert splices frame f into the list just behind the clock hand
// (i.e. at the tail, per spec.md §4.3) and stamps its back-reference.
// It panics if f is already linked, per spec.md §4.3: "Must not be
// called for an already-linked record."
func (t *Table) Insert(f frame.Number, owner *pagetable.Table, vaddr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := &t.records[f]
	if r.linked {
		panic(fmt.Sprintf("pagemeta: Insert called on already-linked frame %d", f))
	}
	r.owner = owner
	r.vaddr = vaddr
	r.linked = true
	t.count++

	if !t.hasHead {
		t.head = f
		r.prev, r.next = f, f
		t.hasHead = true
		return
	}
	tail := t.records[t.head].prev
	r.prev = tail
	r.next = t.head
	t.records[tail].next = f
	t.records[t.head].prev = f
}

// Unlink excises frame f from the list. It is idempotent with respect
// to an already-unlinked record, per spec.md §4.3: "tolerated because
// unmap may race with swap-out selecting the same victim."
func (t *Table) Unlink(f frame.Number) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unlinkLocked(f)
}

func (t *Table) unlinkLocked(f frame.Number) {
	r := &t.records[f]
	if !r.linked {
		return
	}
	if r.next == f {
		t.hasHead = false
	} else {
		t.records[r.prev].next = r.next
		t.records[r.next].prev = r.prev
		if t.head == f {
			t.head = r.next
		}
	}
	r.prev, r.next = 0, 0
	r.linked = false
	r.owner = nil
	r.vaddr = 0
	t.count--
}

// Owner returns the address space and virtual address a resident
// frame's record currently points at, for fork/unmap/exit range walks
// that need to reconcile a frame with its mapping. ok is false if the
// frame is not linked.
func (t *Table) Owner(f frame.Number) (owner *pagetable.Table, vaddr uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := &t.records[f]
	if !r.linked {
		return nil, 0, false
	}
	return r.owner, r.vaddr, true
}

// Len reports the number of frames currently linked into the LRU
// list.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// maxRevolutions bounds the clock scan at two full passes over the
// list, per spec.md §4.3: "The implementation bounds the scan at two
// full revolutions; exceeding this is a fatal invariant violation."
const maxRevolutions = 2

// Victim describes a frame chosen for eviction. Owner's lock is held
// on return (see SelectVictim) and must be released by the caller —
// ordinarily via Release, after the caller has rewritten the PTE.
type Victim struct {
	Frame frame.Number
	Owner *pagetable.Table
	Vaddr uint64

	// selfOwned is true when Owner is the self table SelectVictim was
	// called with: the lock was already held by the calling goroutine
	// before SelectVictim ran, so Release must not unlock it — that
	// remains the original caller's responsibility.
	selfOwned bool
}

// Release unlocks the owning address space's page-table lock that
// SelectVictim acquired on this victim's behalf. It is a no-op when
// the victim came from the self table passed into SelectVictim, since
// that lock was never acquired by SelectVictim in the first place.
func (v Victim) Release() {
	if !v.selfOwned {
		v.Owner.Unlock()
	}
}

// SelectVictim runs the second-chance clock algorithm starting at the
// list head (spec.md §4.3), excises the winner from the LRU list
// (spec.md §4.4 step 4, performed under the same lock acquisition as
// the scan), and returns it with its owning page table already locked.
//
// self is the page-table lock the calling goroutine already holds, if
// any (see frame.Reclaimer.ReclaimOne) — pass nil if none. A candidate
// whose owner is self is examined and, if chosen, excised directly
// without locking: the caller already holds that lock, and a
// sync.Mutex isn't reentrant, so routing it through TryLock would
// always fail and make a process's own pages permanently
// unevictable by itself, the one case (a single address space
// exhausting the pool) where self-eviction is exactly what's needed.
//
// Holding the owner's page-table lock from the moment of selection
// through the caller's eventual PTE rewrite is what makes the
// transition atomic with respect to that address space (spec.md §4.4:
// "Transitions are atomic with respect to the owning address space's
// page-table lock") and is what closes the race spec.md §5 describes:
// a concurrent Unmap, which also holds the page-table lock for its
// whole range walk, cannot observe this frame as still-resident
// between excision and the PTE rewrite, because it cannot acquire the
// table lock until this call's caller releases it.
//
// This is achieved without violating spec.md §5's lock order (page
// table before LRU) only because a foreign table's lock is acquired
// via a non-blocking TryLock while the LRU lock is already held: a
// contended table is treated exactly like stale metadata and skipped,
// so this call never blocks while holding the LRU lock.
//
//  1. If the candidate's owner is self, proceed directly (already
//     held). Otherwise, if its table can't be locked without blocking,
//     skip it. If its PTE is absent, invalid, or doesn't point back to
//     this frame (stale metadata — unmap or another swap-out raced
//     ahead), skip it.
//  2. If the access bit is set, clear it and advance (second chance).
//  3. Otherwise, this is the victim: move the head (the clock hand) to
//     the record after it, excise it, and return it, table still
//     locked.
//
// SelectVictim returns ok=false only when the list is empty. It
// panics if no victim is found within two full revolutions, per
// spec.md §4.3 and §7 ("clock scan exceeding two revolutions -> kernel
// panic").
func (t *Table) SelectVictim(self *pagetable.Table) (Victim, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasHead {
		return Victim{}, false
	}

	limit := maxRevolutions * t.count
	cur := t.head
	for scanned := 0; ; scanned++ {
		if scanned > limit {
			t.log.WithFields(logrus.Fields{"count": t.count, "limit": limit}).Error("clock scan exceeded two revolutions")
			panic("pagemeta: no evictable page found within two clock revolutions")
		}

		r := &t.records[cur]
		next := r.next
		owner, vaddr := r.owner, r.vaddr

		isSelf := self != nil && owner == self
		if !isSelf && !owner.TryLock() {
			cur = next
			continue
		}
		p := owner.Get(vaddr)
		switch {
		case p.Kind() != pte.KindResident, p.Frame() != uint64(cur):
			if !isSelf {
				owner.Unlock()
			}
		case p.Accessed():
			owner.Set(vaddr, p.ClearAccessed())
			if !isSelf {
				owner.Unlock()
			}
		default:
			// Advance the clock hand past the victim so the next scan
			// resumes after it, behind the records just given a second
			// chance.
			t.head = next
			t.unlinkLocked(cur)
			return Victim{Frame: cur, Owner: owner, Vaddr: vaddr, selfOwned: isSelf}, true
		}
		cur = next
	}
}
