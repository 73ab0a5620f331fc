package vm

import (
	"testing"

	"github.com/jaeiko/pa4-sklt-xv6/internal/blockdev"
	"github.com/jaeiko/pa4-sklt-xv6/internal/config"
	"github.com/jaeiko/pa4-sklt-xv6/internal/frame"
	"github.com/jaeiko/pa4-sklt-xv6/internal/kernel"
	"github.com/jaeiko/pa4-sklt-xv6/internal/pte"
)

const perm = pte.PermRead | pte.PermWrite | pte.PermUser

func newTestKernel(numFrames, numSlots int) *kernel.Kernel {
	cfg := config.Constants{PageSize: 4096, BlockSize: 512, PhysTop: int64(numFrames) * 4096, SwapMax: int64(numSlots) * 4096}
	dev := blockdev.NewMem(int64(numSlots)*cfg.BlocksPerSlot(), cfg.BlockSize)
	return kernel.New(cfg, dev)
}

func write(k *kernel.Kernel, as *AddressSpace, vaddr uint64, b byte) {
	as.Table().Lock()
	p := as.Table().Get(vaddr)
	as.Table().Unlock()
	buf := k.Frames.Bytes(frame.Number(p.Frame()))
	for i := range buf {
		buf[i] = b
	}
}

func readByte(k *kernel.Kernel, as *AddressSpace, vaddr uint64) (byte, error) {
	if err := as.HandleFault(vaddr); err != nil && err != ErrNotSwapFault {
		return 0, err
	}
	as.Table().Lock()
	p := as.Table().Get(vaddr)
	as.Table().Unlock()
	return k.Frames.Bytes(frame.Number(p.Frame()))[0], nil
}

func TestMapInsertsResidentAndEvictable(t *testing.T) {
	k := newTestKernel(4, 4)
	as := New(k, 1)
	if err := as.Map(0x1000, perm); err != nil {
		t.Fatalf("Map() = %v, want nil", err)
	}
	if as.Table().Get(0x1000).Kind() != pte.KindResident {
		t.Fatal("Map did not install a resident PTE")
	}
	if k.Meta.Len() != 1 {
		t.Errorf("Meta.Len() = %d after one Map, want 1", k.Meta.Len())
	}
}

func TestMapRejectsAlreadyMapped(t *testing.T) {
	k := newTestKernel(4, 4)
	as := New(k, 1)
	if err := as.Map(0x1000, perm); err != nil {
		t.Fatal(err)
	}
	if err := as.Map(0x1000, perm); err == nil {
		t.Fatal("Map() on an already-mapped vaddr returned nil, want an error")
	}
}

func TestUnmapRangeReleasesResidentAndSwapped(t *testing.T) {
	k := newTestKernel(1, 2)
	as := New(k, 1)
	if err := as.Map(0x1000, perm); err != nil {
		t.Fatal(err)
	}
	if err := as.Map(0x2000, perm); err != nil {
		t.Fatal(err)
	}
	// The pool has only one frame, so the second Map forced the first
	// page's frame to be reclaimed to swap.
	if as.Table().Get(0x1000).Kind() != pte.KindSwapped {
		t.Fatalf("expected 0x1000 swapped out to make room, got %v", as.Table().Get(0x1000).Kind())
	}

	as.UnmapRange(0x0, 0x10000)

	if as.Table().Len() != 0 {
		t.Errorf("Table().Len() = %d after UnmapRange covering everything, want 0", as.Table().Len())
	}
	if k.Bitmap.InUse() != 0 {
		t.Errorf("Bitmap.InUse() = %d after unmapping a swapped page, want 0 (slot released)", k.Bitmap.InUse())
	}
	// The sole frame must be back on the free list.
	if _, ok := k.Frames.Alloc(nil); !ok {
		t.Fatal("could not reallocate the sole frame after UnmapRange freed it")
	}
}

func TestExitReleasesAllResources(t *testing.T) {
	k := newTestKernel(2, 2)
	as := New(k, 1)
	for i := 0; i < 2; i++ {
		if err := as.Map(uint64(0x1000+i*0x1000), perm); err != nil {
			t.Fatalf("Map(%d) = %v", i, err)
		}
	}
	as.Exit()

	if k.Meta.Len() != 0 {
		t.Errorf("Meta.Len() = %d after Exit, want 0", k.Meta.Len())
	}
	if k.Bitmap.InUse() != 0 {
		t.Errorf("Bitmap.InUse() = %d after Exit, want 0", k.Bitmap.InUse())
	}
	for i := 0; i < 2; i++ {
		if _, ok := k.Frames.Alloc(nil); !ok {
			t.Fatalf("frame %d not returned to the pool after Exit", i)
		}
	}
}

func TestForkFidelityAcrossResidentAndSwapped(t *testing.T) {
	// Three frames: two back the parent's pages and the third stays
	// free; once one parent page is evicted below, two frames are free,
	// one for each child page, so ForkCopy needs no eviction of its own
	// (the source table is locked for the whole fork, so nothing of the
	// parent's own is evictable mid-copy).
	k := newTestKernel(3, 4)
	parent := New(k, 1)
	if err := parent.Map(0x1000, perm); err != nil {
		t.Fatal(err)
	}
	write(k, parent, 0x1000, 0xAA)
	if err := parent.Map(0x2000, perm); err != nil {
		t.Fatal(err)
	}
	write(k, parent, 0x2000, 0xBB)

	// Evict 0x1000 directly (rather than by saturating the pool through
	// more Maps) so exactly two free frames remain for the fork below.
	if ok := k.Engine.ReclaimOne(nil); !ok {
		t.Fatal("setup: ReclaimOne() failed to evict a victim")
	}
	if parent.Table().Get(0x1000).Kind() != pte.KindSwapped {
		t.Fatalf("setup: expected 0x1000 swapped, got %v", parent.Table().Get(0x1000).Kind())
	}

	child, err := parent.ForkCopy(2)
	if err != nil {
		t.Fatalf("ForkCopy() = %v, want nil", err)
	}

	// Fork fidelity: the child observes the parent's values at fork
	// time regardless of which pages were swapped, per spec.md §8.
	for _, tc := range []struct {
		vaddr uint64
		want  byte
	}{{0x1000, 0xAA}, {0x2000, 0xBB}} {
		got, err := readByte(k, child, tc.vaddr)
		if err != nil {
			t.Fatalf("child read %#x: %v", tc.vaddr, err)
		}
		if got != tc.want {
			t.Errorf("child byte at %#x = %#x, want %#x", tc.vaddr, got, tc.want)
		}
	}

	// The child's copy must be independent: mutating it must not affect
	// the parent's still-swapped/resident page.
	write(k, child, 0x2000, 0xCC)
	gotParent, err := readByte(k, parent, 0x2000)
	if err != nil {
		t.Fatal(err)
	}
	if gotParent != 0xBB {
		t.Errorf("parent byte at 0x2000 = %#x after child wrote its copy, want unchanged 0xBB", gotParent)
	}

	// The parent's swap slot must not have been released by the fork
	// (spec.md §4.5: "do not release the parent's slot").
	if k.Bitmap.InUse() == 0 {
		t.Error("Bitmap.InUse() == 0 after fork of a swapped page, parent's slot was released prematurely")
	}
}

func TestHandleFaultOnNonSwappedReturnsSentinel(t *testing.T) {
	k := newTestKernel(2, 2)
	as := New(k, 1)
	if err := as.Map(0x1000, perm); err != nil {
		t.Fatal(err)
	}
	if err := as.HandleFault(0x1000); err != ErrNotSwapFault {
		t.Errorf("HandleFault() on a resident PTE = %v, want ErrNotSwapFault", err)
	}
}

func TestHandleFaultSwapsInAndClearsSwappedState(t *testing.T) {
	k := newTestKernel(1, 2)
	as := New(k, 1)
	if err := as.Map(0x1000, perm); err != nil {
		t.Fatal(err)
	}
	write(k, as, 0x1000, 0x42)
	if err := as.Map(0x2000, perm); err != nil {
		t.Fatal(err)
	}
	if as.Table().Get(0x1000).Kind() != pte.KindSwapped {
		t.Fatal("setup: expected 0x1000 to be swapped out")
	}

	if err := as.HandleFault(0x1000); err != nil {
		t.Fatalf("HandleFault() = %v, want nil", err)
	}
	if as.Table().Get(0x1000).Kind() != pte.KindResident {
		t.Error("HandleFault did not restore residency")
	}
	if k.Stats.Reads() == 0 {
		t.Error("swap_reads did not increase after HandleFault's swap-in")
	}
}
