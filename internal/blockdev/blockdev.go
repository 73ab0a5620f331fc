// Package blockdev defines the block_device abstraction spec.md §1
// treats as an external collaborator ("the disk block driver,
// abstracted as a block_device with synchronous sector read/write")
// and provides two concrete implementations to drive it: a real
// file-backed device using golang.org/x/sys/unix's Pread/Pwrite (the
// style gVisor's runsc/sandbox package uses throughout for direct
// syscall access), and an in-memory fake for unit tests that don't
// want real file I/O.
//
// Slot-to-block addressing follows spec.md §6: slot i occupies blocks
// [i*K, (i+1)*K) where K = PageSize/BlockSize.
package blockdev

import "fmt"

// Device is the synchronous sector read/write contract the swap
// engine drives. Reads and writes may block (disk I/O); callers must
// never invoke these while holding a spinlock, per spec.md §5.
type Device interface {
	// ReadBlocks reads len(buf)/blockSize consecutive blocks starting
	// at block index start into buf.
	ReadBlocks(start int64, buf []byte) error
	// WriteBlocks writes buf, a multiple of the block size, to
	// len(buf)/blockSize consecutive blocks starting at block index
	// start.
	WriteBlocks(start int64, buf []byte) error
	// BlockSize returns the device's sector size in bytes.
	BlockSize() int64
}

// ErrIO represents a synchronous transfer failure, distinct from a
// programmer error: spec.md §7 treats disk I/O failure as recoverable
// for swap-out and fatal only once it reaches a live process's
// swap-in path.
type ErrIO struct {
	Op    string
	Block int64
	Err   error
}

func (e *ErrIO) Error() string {
	return fmt.Sprintf("blockdev: %s at block %d: %v", e.Op, e.Block, e.Err)
}

func (e *ErrIO) Unwrap() error { return e.Err }
