// Package vm implements the Address-Space Hooks and Fault Handler Hook
// of spec.md §4.5/§4.6 on top of a shared kernel.Kernel: Map, the
// Unmap range walk, Fork, Exit, and the swap half of fault dispatch.
// It is the generalization of the per-process bookkeeping scattered
// through _examples/original_source/xv6-riscv/kernel/{vm.c,proc.c},
// rewritten against pagetable.Table instead of a real multi-level
// radix tree (see internal/pagetable's doc comment).
package vm

import "errors"

// ErrOutOfMemory is returned by any hook that could not complete
// because both the frame pool and the swap device are exhausted
// (spec.md §7, "Recoverable OOM-swap"). Callers in a user-facing
// allocation path propagate this to user space as allocation failure;
// callers on a live fault path kill the faulting process instead.
var ErrOutOfMemory = errors.New("vm: out of memory")

// ErrNotSwapFault is returned by HandleFault when the faulting PTE
// does not have S=1 set, signaling the caller to fall through to the
// existing (out-of-scope) handler for copy-on-write, lazy allocation,
// or an illegal-access kill, per spec.md §4.6.
var ErrNotSwapFault = errors.New("vm: fault is not a swap fault")
