package blockdev

import (
	"bytes"
	"testing"
)

func TestMemDeviceWriteThenReadRoundTrips(t *testing.T) {
	d := NewMem(4, 512)
	want := bytes.Repeat([]byte{0xAB}, 512)
	if err := d.WriteBlocks(1, want); err != nil {
		t.Fatalf("WriteBlocks() = %v", err)
	}
	got := make([]byte, 512)
	if err := d.ReadBlocks(1, got); err != nil {
		t.Fatalf("ReadBlocks() = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadBlocks() = %x, want %x", got, want)
	}
}

func TestMemDeviceOutOfRangeFails(t *testing.T) {
	d := NewMem(2, 512)
	buf := make([]byte, 512)
	if err := d.ReadBlocks(5, buf); err == nil {
		t.Error("ReadBlocks() out of range succeeded")
	}
	if err := d.WriteBlocks(5, buf); err == nil {
		t.Error("WriteBlocks() out of range succeeded")
	}
}

func TestMemDeviceFailNextTransfersInjectsThenRecovers(t *testing.T) {
	d := NewMem(2, 512)
	d.FailNextTransfers(2)

	buf := make([]byte, 512)
	if err := d.WriteBlocks(0, buf); err == nil {
		t.Error("first WriteBlocks() after FailNextTransfers(2) succeeded, want injected failure")
	}
	if err := d.ReadBlocks(0, buf); err == nil {
		t.Error("second transfer after FailNextTransfers(2) succeeded, want injected failure")
	}
	if err := d.WriteBlocks(0, buf); err != nil {
		t.Errorf("third transfer failed, want injection to have been consumed: %v", err)
	}
}

func TestMemDeviceBlockSize(t *testing.T) {
	d := NewMem(1, 4096)
	if got := d.BlockSize(); got != 4096 {
		t.Errorf("BlockSize() = %d, want 4096", got)
	}
}
