// Package frame implements the physical frame allocator of spec.md
// §4.1: a free-list of 4 KiB frames carved from [kernel_end, PHYSTOP),
// generalized from _examples/original_source/xv6-riscv/kernel/kalloc.c's
// kmem.freelist / kalloc / kfree. Unlike the source, which threads the
// free list through the freed pages themselves via an embedded `run`
// pointer, this implementation keeps the free list as a separate
// slice — reusing freed memory for list linkage isn't idiomatic Go and
// buys nothing here since the backing store is already a []byte we
// own, not raw hardware memory.
package frame

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jaeiko/pa4-sklt-xv6/internal/pagetable"
)

// Poison byte patterns, preserved from the source kernel's two
// distinct memset fills (kalloc.c: kfree uses 1, kalloc uses 5) so a
// stale reference is distinguishable from a double-free by the byte
// value observed.
const (
	PoisonFree  byte = 0x01
	PoisonAlloc byte = 0x05
)

// Number is a physical frame index f = pa / PGSIZE.
type Number uint64

// Reclaimer is implemented by the swap engine. Pool.Alloc delegates
// to it when the free list is empty, per spec.md §4.1: "On empty,
// delegates to Swap Engine's reclaim_one()." The dependency runs this
// direction (frame -> swap engine interface) rather than the reverse
// to avoid an import cycle, since the swap engine itself needs a
// *Pool to push reclaimed frames back onto.
type Reclaimer interface {
	// ReclaimOne evicts one resident frame and pushes it onto the
	// pool's free list through the reclaimer's own call to Free; it
	// returns the frame only that way, not as a result. ok is false if
	// reclamation could not produce a frame (e.g. swap is full): true
	// OOM per spec.md §7.
	//
	// self, if non-nil, is the page-table lock the calling goroutine
	// already holds (e.g. the table a Map or SwapIn call is operating
	// on). A plain sync.Mutex isn't reentrant, so without this, a
	// single address space that exhausts the pool could never evict
	// its own earlier pages: every one of its LRU entries would fail
	// pagemeta.Table.SelectVictim's TryLock and get skipped forever.
	// Passing self lets the victim scan recognize "this is the table I
	// already hold" and act on it directly instead of relocking.
	ReclaimOne(self *pagetable.Table) (ok bool)
}

// Pool is the frame free-list plus its backing memory. The zero value
// is not usable; construct with New.
type Pool struct {
	pageSize int64

	// mu is the spec.md §4.1 "single spin-lock [that] protects the
	// free-list". It is never held across the poison fill or across
	// reclamation, which may itself sleep on disk I/O.
	mu   sync.Mutex
	free []Number

	mem []byte

	reclaim Reclaimer
	log     *logrus.Entry
}

// New allocates the backing store for numFrames frames of pageSize
// bytes each and populates the free list with all of them — the
// moral equivalent of kalloc.c's freerange(end, PHYSTOP).
func New(numFrames int, pageSize int64) *Pool {
	p := &Pool{
		pageSize: pageSize,
		mem:      make([]byte, int64(numFrames)*pageSize),
		free:     make([]Number, numFrames),
		log:      logrus.WithField("component", "frame"),
	}
	for i := 0; i < numFrames; i++ {
		p.free[i] = Number(i)
	}
	return p
}

// SetReclaimer wires the swap engine in after both have been
// constructed, breaking the initialization cycle between Pool and the
// swap engine (which itself needs a *Pool).
func (p *Pool) SetReclaimer(r Reclaimer) { p.reclaim = r }

// NumFrames returns the total number of frames managed by the pool,
// free or not.
func (p *Pool) NumFrames() int { return len(p.mem) / int(p.pageSize) }

// Alloc detaches the free-list head, or on an empty free list,
// delegates to the swap engine's reclaim_one() and retries once. It
// returns ok=false only when both the free list is empty and
// reclamation fails: true OOM (spec.md §4.1, §7).
//
// self should be the page-table lock the caller already holds, if any
// (see Reclaimer.ReclaimOne) — pass nil when the caller holds no such
// lock, or when none of the tables it holds may have pages evicted by
// this call (as in a fork copy, which holds both the parent's and the
// child's table locks).
func (p *Pool) Alloc(self *pagetable.Table) (Number, bool) {
	if f, ok := p.popFree(); ok {
		p.poison(f, PoisonAlloc)
		return f, true
	}
	if p.reclaim == nil || !p.reclaim.ReclaimOne(self) {
		return 0, false
	}
	// reclaim_one pushes its victim onto the free list via Free before
	// returning, so this must succeed.
	f, ok := p.popFree()
	if !ok {
		p.log.Error("reclaim reported success but free list is still empty")
		return 0, false
	}
	p.poison(f, PoisonAlloc)
	return f, true
}

// Free returns a frame to the free list. The caller must have already
// removed it from the LRU list (pagemeta.Table.Unlink) — spec.md §4.1:
// "the frame must not be in LRU."
func (p *Pool) Free(f Number) {
	p.poison(f, PoisonFree)
	p.mu.Lock()
	p.free = append(p.free, f)
	p.mu.Unlock()
}

func (p *Pool) popFree() (Number, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return 0, false
	}
	f := p.free[n-1]
	p.free = p.free[:n-1]
	return f, true
}

// poison fills a frame's bytes with b. It runs outside the free-list
// lock, per spec.md §4.1: "The poison write happens outside the
// lock."
func (p *Pool) poison(f Number, b byte) {
	buf := p.Bytes(f)
	for i := range buf {
		buf[i] = b
	}
}

// Bytes returns the live 4 KiB slice backing frame f. The returned
// slice aliases the pool's memory; callers (swap I/O, fork copy) must
// not retain it past the point where f might be freed or reused.
func (p *Pool) Bytes(f Number) []byte {
	off := int64(f) * p.pageSize
	return p.mem[off : off+p.pageSize]
}

// PageSize returns the configured frame size in bytes.
func (p *Pool) PageSize() int64 { return p.pageSize }
