// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package epc

import (
	"bytes"
	"testing"

	"github.com/usbarmory/qemu-epc/dma"
)

// ReadPCIConfig is the guest-facing read of the pci-config window, which
// is write-only from the guest's perspective: it must return zero even
// after a write has landed in config_space. The real bytes are only
// exposed via the HDR query over the EPC socket (handleHDR).
func TestReadPCIConfigAlwaysZero(t *testing.T) {
	d := NewDevice("", dma.NewRegion(0, 0x10), nil)

	d.WritePCIConfig(0, []byte{0x86, 0x80, 0x01, 0x10})

	got := d.ReadPCIConfig(0, 4)
	want := make([]byte, 4)
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadPCIConfig = %x, want zero-filled %x", got, want)
	}

	// HDR reads the same region through config_space directly and must
	// see the real bytes, confirming the asymmetry is read-path only.
	data, ok := d.State.ReadConfigRange(0, 4)
	if !ok {
		t.Fatalf("ReadConfigRange: out of bounds")
	}
	if !bytes.Equal(data, []byte{0x86, 0x80, 0x01, 0x10}) {
		t.Fatalf("ReadConfigRange = %x, want 86800110", data)
	}
}

func TestReadControlAlwaysZero(t *testing.T) {
	d := NewDevice("", dma.NewRegion(0, 0x10), nil)

	got := d.ReadControl(0, 8)
	want := make([]byte, 8)
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadControl = %x, want zero-filled %x", got, want)
	}
}
