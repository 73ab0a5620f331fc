// Package stats implements the Statistics Surface of spec.md §4.7 and
// §3: two 64-bit monotonic counters, swap_reads and swap_writes,
// incremented after a successful disk transfer and never decremented.
package stats

import "sync/atomic"

// Counters holds the process-global (kernel-wide) swap statistics.
// The zero value is ready to use.
type Counters struct {
	reads  atomic.Uint64
	writes atomic.Uint64
}

// IncReads increments swap_reads. Called by the swap engine after a
// successful swap-in transfer.
func (c *Counters) IncReads() { c.reads.Add(1) }

// IncWrites increments swap_writes. Called by the swap engine after a
// successful swap-out transfer.
func (c *Counters) IncWrites() { c.writes.Add(1) }

// Reads returns the current value of swap_reads.
func (c *Counters) Reads() uint64 { return c.reads.Load() }

// Writes returns the current value of swap_writes.
func (c *Counters) Writes() uint64 { return c.writes.Load() }
