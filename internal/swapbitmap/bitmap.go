// Package swapbitmap implements the persistent (for the lifetime of
// the kernel image) slot allocator over the swap device of spec.md
// §3/§4.2: a packed bit array where bit i set means slot i is
// reserved. The word-scanning trick is adapted from gVisor's
// pkg/bitmap (FirstZero over []uint64 words via bits.TrailingZeros64),
// generalized from a growable general-purpose bitmap into the
// fixed-size, first-fit swap-slot allocator spec.md §4.2 describes.
package swapbitmap

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/sirupsen/logrus"
)

// Bitmap is a fixed-size first-fit bit allocator. The zero value is
// not usable; construct with New.
type Bitmap struct {
	// mu is the spec.md §4.2 "dedicated spin-lock [that] serializes
	// the scan." Reserve and Release never block on I/O while holding
	// it.
	mu      sync.Mutex
	words   []uint64
	nslots  int
	numOnes int
	log     *logrus.Entry
}

// New creates a bitmap with nslots bits, all initially clear.
func New(nslots int) *Bitmap {
	return &Bitmap{
		words:  make([]uint64, (nslots+63)/64),
		nslots: nslots,
		log:    logrus.WithField("component", "swapbitmap"),
	}
}

// NumSlots returns the total number of slots this bitmap tracks.
func (b *Bitmap) NumSlots() int { return b.nslots }

// Reserve performs a linear first-fit scan and atomically flips the
// first clear bit, returning its index. ok is false iff every slot is
// reserved (the swap device is full).
func (b *Bitmap) Reserve() (slot uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for wi, w := range b.words {
		if w == ^uint64(0) {
			continue
		}
		bit := bits.TrailingZeros64(^w)
		idx := wi*64 + bit
		if idx >= b.nslots {
			break
		}
		b.words[wi] |= uint64(1) << uint(bit)
		b.numOnes++
		return uint64(idx), true
	}
	return 0, false
}

// Release clears bit slot. Releasing a slot that is not currently set
// is a double-release, an invariant violation per spec.md §4.2 ("Double-
// release is a fatal invariant violation") and spec.md §7: it panics
// rather than silently succeeding, since a silent no-op would hide the
// accounting bug that let two owners believe they held the same slot.
func (b *Bitmap) Release(slot uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot >= uint64(b.nslots) {
		panic(fmt.Sprintf("swapbitmap: Release(%d) out of range [0,%d)", slot, b.nslots))
	}
	wi, bit := slot/64, slot%64
	mask := uint64(1) << bit
	if b.words[wi]&mask == 0 {
		b.log.WithField("slot", slot).Error("double release of swap slot")
		panic(fmt.Sprintf("swapbitmap: double release of slot %d", slot))
	}
	b.words[wi] &^= mask
	b.numOnes--
}

// InUse reports how many slots are currently reserved, for the
// statistics and test assertions.
func (b *Bitmap) InUse() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numOnes
}
