package blockdev

import (
	"fmt"
	"sync"
)

// MemDevice is an in-memory Device for tests: it avoids real file
// I/O and supports injecting a transfer failure, which is needed to
// exercise the swap-out revert path of spec.md §4.4 ("if the disk
// write fails, the slot is released, the PTE is left unchanged...").
type MemDevice struct {
	mu        sync.Mutex
	blockSize int64
	data      []byte

	// failNext, if > 0, causes the next N transfers (read or write) to
	// fail with a synthetic I/O error, then resets to 0.
	failNext int
}

// NewMem creates an in-memory device of numBlocks sectors of
// blockSize bytes each, zero-initialized.
func NewMem(numBlocks int64, blockSize int64) *MemDevice {
	return &MemDevice{
		blockSize: blockSize,
		data:      make([]byte, numBlocks*blockSize),
	}
}

// BlockSize implements Device.
func (d *MemDevice) BlockSize() int64 { return d.blockSize }

// FailNextTransfers arranges for the next n ReadBlocks/WriteBlocks
// calls to return an error instead of performing the transfer.
func (d *MemDevice) FailNextTransfers(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

func (d *MemDevice) consumeFailure() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext <= 0 {
		return false
	}
	d.failNext--
	return true
}

// ReadBlocks implements Device.
func (d *MemDevice) ReadBlocks(start int64, buf []byte) error {
	if d.consumeFailure() {
		return &ErrIO{Op: "read", Block: start, Err: fmt.Errorf("injected failure")}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := start * d.blockSize
	if off < 0 || off+int64(len(buf)) > int64(len(d.data)) {
		return &ErrIO{Op: "read", Block: start, Err: fmt.Errorf("out of range")}
	}
	copy(buf, d.data[off:off+int64(len(buf))])
	return nil
}

// WriteBlocks implements Device.
func (d *MemDevice) WriteBlocks(start int64, buf []byte) error {
	if d.consumeFailure() {
		return &ErrIO{Op: "write", Block: start, Err: fmt.Errorf("injected failure")}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := start * d.blockSize
	if off < 0 || off+int64(len(buf)) > int64(len(d.data)) {
		return &ErrIO{Op: "write", Block: start, Err: fmt.Errorf("out of range")}
	}
	copy(d.data[off:off+int64(len(buf))], buf)
	return nil
}
