package api

import (
	"testing"

	"github.com/jaeiko/pa4-sklt-xv6/internal/blockdev"
	"github.com/jaeiko/pa4-sklt-xv6/internal/config"
	"github.com/jaeiko/pa4-sklt-xv6/internal/kernel"
	"github.com/jaeiko/pa4-sklt-xv6/internal/pte"
	"github.com/jaeiko/pa4-sklt-xv6/internal/vm"
)

func newTestKernel(numFrames, numSlots int) *kernel.Kernel {
	cfg := config.Constants{PageSize: 4096, BlockSize: 512, PhysTop: int64(numFrames) * 4096, SwapMax: int64(numSlots) * 4096}
	dev := blockdev.NewMem(int64(numSlots)*cfg.BlocksPerSlot(), cfg.BlockSize)
	return kernel.New(cfg, dev)
}

func TestSwapstatRejectsNilDestinations(t *testing.T) {
	k := newTestKernel(1, 1)
	var reads uint64
	if err := Swapstat(k.Stats, nil, &reads); err != ErrBadAddress {
		t.Errorf("Swapstat(nil, &reads) = %v, want ErrBadAddress", err)
	}
	if err := Swapstat(k.Stats, &reads, nil); err != ErrBadAddress {
		t.Errorf("Swapstat(&reads, nil) = %v, want ErrBadAddress", err)
	}
}

func TestSwapstatCopiesOutCurrentCounters(t *testing.T) {
	k := newTestKernel(1, 1)
	k.Stats.IncReads()
	k.Stats.IncReads()
	k.Stats.IncWrites()

	var reads, writes uint64
	if err := Swapstat(k.Stats, &reads, &writes); err != nil {
		t.Fatalf("Swapstat() = %v, want nil", err)
	}
	if reads != 2 || writes != 1 {
		t.Errorf("Swapstat() -> (%d, %d), want (2, 1)", reads, writes)
	}
}

func TestSwapstatBadAddressDoesNotTouchOutputs(t *testing.T) {
	k := newTestKernel(1, 1)
	k.Stats.IncReads()

	reads := uint64(999)
	if err := Swapstat(k.Stats, &reads, nil); err == nil {
		t.Fatal("expected an error for a nil writes destination")
	}
	if reads != 999 {
		t.Errorf("reads = %d after a rejected Swapstat call, want unchanged 999", reads)
	}
}

func TestAllocAndFreeRoundTrip(t *testing.T) {
	k := newTestKernel(2, 2)
	as := vm.New(k, 1)

	if !Alloc(as, 0x1000, pte.PermRead|pte.PermWrite|pte.PermUser) {
		t.Fatal("Alloc() = false, want true")
	}
	if as.Table().Get(0x1000).Kind() != pte.KindResident {
		t.Fatal("Alloc did not install a resident page")
	}

	Free(as, 0x1000)
	if as.Table().Get(0x1000).Kind() != pte.KindUnmapped {
		t.Error("Free did not clear the mapping")
	}
	if k.Meta.Len() != 0 {
		t.Errorf("Meta.Len() = %d after Free, want 0", k.Meta.Len())
	}
}

func TestAllocFailsOnAlreadyMappedAddress(t *testing.T) {
	k := newTestKernel(2, 2)
	as := vm.New(k, 1)
	perm := pte.PermRead | pte.PermUser
	if !Alloc(as, 0x1000, perm) {
		t.Fatal("first Alloc() failed unexpectedly")
	}
	if Alloc(as, 0x1000, perm) {
		t.Error("second Alloc() on the same vaddr succeeded, want false")
	}
}
