package swapbitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReserveIsFirstFit(t *testing.T) {
	b := New(4)
	for i := 0; i < 4; i++ {
		slot, ok := b.Reserve()
		if !ok {
			t.Fatalf("Reserve() failed on slot %d/4", i)
		}
		if slot != uint64(i) {
			t.Errorf("Reserve() = %d, want %d", slot, i)
		}
	}
	if _, ok := b.Reserve(); ok {
		t.Error("Reserve() succeeded on a full bitmap")
	}
}

func TestReleaseFreesSlotForReuse(t *testing.T) {
	b := New(4)
	slot, _ := b.Reserve()
	b.Release(slot)
	if got := b.InUse(); got != 0 {
		t.Fatalf("InUse() = %d after release, want 0", got)
	}
	again, ok := b.Reserve()
	if !ok || again != slot {
		t.Errorf("Reserve() after release = (%d, %v), want (%d, true)", again, ok, slot)
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	b := New(4)
	slot, _ := b.Reserve()
	b.Release(slot)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double release")
		}
	}()
	b.Release(slot)
}

func TestReleaseOutOfRangePanics(t *testing.T) {
	b := New(4)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing an out-of-range slot")
		}
	}()
	b.Release(100)
}

func TestReserveSpansWordBoundary(t *testing.T) {
	b := New(130) // 3 words; exercises the >64 and >128 boundaries.
	seen := make(map[uint64]bool)
	for i := 0; i < 130; i++ {
		slot, ok := b.Reserve()
		if !ok {
			t.Fatalf("Reserve() failed on slot %d/130", i)
		}
		if seen[slot] {
			t.Fatalf("Reserve() returned duplicate slot %d", slot)
		}
		seen[slot] = true
	}
	if _, ok := b.Reserve(); ok {
		t.Error("Reserve() succeeded past capacity")
	}
	if got := b.InUse(); got != 130 {
		t.Errorf("InUse() = %d, want 130", got)
	}

	// Golden word layout: words 0 and 1 cover slots 0-127 and are fully
	// set, word 2 only covers slots 128-129 (its upper 62 bits are
	// never touched since Reserve stops at nslots).
	want := []uint64{^uint64(0), ^uint64(0), 0b11}
	if diff := cmp.Diff(want, b.words); diff != "" {
		t.Errorf("words mismatch after filling all 130 slots (-want +got):\n%s", diff)
	}
}
