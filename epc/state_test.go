// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package epc

import "testing"

func TestBarConfigMaskAndNumberCascade(t *testing.T) {
	s := NewEndpointState()

	s.WriteBarConfig(0x00, []byte{0xaa, 0xbb})

	if got := s.BarMask(); got != 0xaa {
		t.Fatalf("bar_mask = %#x, want 0xaa", got)
	}
	if got := s.CurrentBar(); got != 0xbb {
		t.Fatalf("current_bar = %#x, want 0xbb", got)
	}
}

func TestBarConfigMaskOnlyLeavesNumberUnchanged(t *testing.T) {
	s := NewEndpointState()
	s.WriteBarConfig(0x01, []byte{0x02})

	s.WriteBarConfig(0x00, []byte{0x11})

	if got := s.BarMask(); got != 0x11 {
		t.Fatalf("bar_mask = %#x, want 0x11", got)
	}
	if got := s.CurrentBar(); got != 0x02 {
		t.Fatalf("current_bar = %#x, want unchanged 0x02", got)
	}
}

func TestBarConfigSelectBarThenSetFlagsPhysAddrSize(t *testing.T) {
	s := NewEndpointState()

	s.WriteBarConfig(fieldNumber, []byte{0x02})

	s.WriteBarConfig(fieldFlags, []byte{0x01})
	s.WriteBarConfig(fieldPhysAddr, []byte{0x00, 0x00, 0x00, 0x90, 0, 0, 0, 0})
	s.WriteBarConfig(fieldSize, []byte{0x00, 0x10, 0, 0, 0, 0, 0, 0})

	bar, _ := s.Bar(2)
	if bar.Flags != 0x01 {
		t.Fatalf("flags = %#x, want 0x01", bar.Flags)
	}
	if bar.PhysAddr != 0x90000000 {
		t.Fatalf("phys_addr = %#x, want 0x90000000", bar.PhysAddr)
	}
	if bar.Size != 0x1000 {
		t.Fatalf("size = %#x, want 0x1000", bar.Size)
	}
}

func TestBarConfigPhysAddrLowThenHighHalfWrites(t *testing.T) {
	s := NewEndpointState()
	s.WriteBarConfig(fieldNumber, []byte{0x00})

	s.WriteBarConfig(fieldPhysAddr, []byte{0xef, 0xbe, 0xad, 0xde})
	s.WriteBarConfig(fieldPhysAddrH, []byte{0x01, 0x00, 0x00, 0x00})

	bar, _ := s.Bar(0)
	if want := uint64(0x00000001deadbeef); bar.PhysAddr != want {
		t.Fatalf("phys_addr = %#x, want %#x", bar.PhysAddr, want)
	}
}

func TestBarConfigCurrentBarOutOfRangeDropsPerBarFields(t *testing.T) {
	s := NewEndpointState()

	s.WriteBarConfig(0x00, []byte{0x00, 0xff})

	s.WriteBarConfig(fieldFlags, []byte{0x42})
	s.WriteBarConfig(fieldPhysAddr, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	for i := uint8(0); i <= MaxBAR; i++ {
		bar, _ := s.Bar(i)
		if bar.Flags != 0 || bar.PhysAddr != 0 {
			t.Fatalf("bar %d mutated despite current_bar=0xff: %+v", i, bar)
		}
	}
}

func TestBarConfigReadReturnsMaskAtOffsetZeroOnly(t *testing.T) {
	s := NewEndpointState()
	s.WriteBarConfig(0x00, []byte{0x2a})

	got := s.ReadBarConfig(0x00, 4)
	want := []byte{0x2a, 0, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ReadBarConfig(0,4) = %v, want %v", got, want)
		}
	}

	got = s.ReadBarConfig(0x04, 2)
	if got[0] != 0 || got[1] != 0 {
		t.Fatalf("ReadBarConfig(4,2) = %v, want zeros", got)
	}
}

func TestWriteConfigRespectsBounds(t *testing.T) {
	s := NewEndpointState()

	s.WriteConfig(4090, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if _, ok := s.ReadConfigRange(4090, 8); ok {
		t.Fatalf("expected out-of-bounds read to be rejected")
	}

	s.WriteConfig(0, []byte{0x86, 0x80})
	data, ok := s.ReadConfigRange(0, 2)
	if !ok || data[0] != 0x86 || data[1] != 0x80 {
		t.Fatalf("ReadConfigRange(0,2) = %v, ok=%v", data, ok)
	}
}
