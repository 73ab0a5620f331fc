// Package api implements the syscall-facing surface of spec.md §4.7
// and the allocation path §7 refers to as "an allocation syscall":
// Swapstat, Alloc, and Free, each a thin, validating wrapper over
// internal/kernel and internal/vm intended to be called from a
// process's trap/syscall dispatcher (out of scope here, per spec.md
// §1's "trap dispatcher ... are collaborators").
package api

import (
	"errors"

	"github.com/jaeiko/pa4-sklt-xv6/internal/pte"
	"github.com/jaeiko/pa4-sklt-xv6/internal/vm"
)

// ErrBadAddress is returned by Swapstat when asked to copy its result
// out to a nil destination, standing in for a user-address validity
// check a real copyout() would perform against the caller's page
// table. Per spec.md §7 ("User-address faults in swapstat copy-out:
// return an error to the caller; do not affect counters"), this check
// happens before either counter is read.
var ErrBadAddress = errors.New("api: invalid destination address")

// Swapstat copies the current swap_reads/swap_writes counters out to
// outReads/outWrites, matching spec.md §4.7's statistics syscall. A nil
// destination is the simulated equivalent of an unmapped or
// unwritable user address and is rejected without touching the
// counters.
func Swapstat(stats interface {
	Reads() uint64
	Writes() uint64
}, outReads, outWrites *uint64) error {
	if outReads == nil || outWrites == nil {
		return ErrBadAddress
	}
	*outReads = stats.Reads()
	*outWrites = stats.Writes()
	return nil
}

// Alloc is the user-visible allocation syscall spec.md §7 refers to:
// it calls through to the Map hook and translates ErrOutOfMemory into
// a plain failure return rather than propagating the sentinel,
// matching "callers in user-mode allocation paths propagate null to
// user space." ok is false on any failure, including a bad or
// already-mapped address.
func Alloc(as *vm.AddressSpace, vaddr uint64, perm pte.Perm) (ok bool) {
	return as.Map(vaddr, perm) == nil
}

// Free is the user-visible deallocation syscall: it unmaps exactly the
// one page at vaddr, reusing the Unmap range-walk hook over a
// single-page range.
func Free(as *vm.AddressSpace, vaddr uint64) {
	as.UnmapRange(vaddr, vaddr+1)
}
