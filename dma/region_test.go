// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import "testing"

func TestRegionWriteRead(t *testing.T) {
	r := NewRegion(0x90000000, 0x1000)

	if err := r.Write(0x90000010, []byte{0xde, 0xad, 0xbe, 0xef}); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := r.Read(0x90000010, 4)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestRegionWriteOutOfBounds(t *testing.T) {
	r := NewRegion(0x90000000, 0x10)

	if err := r.Write(0x9000000c, []byte{1, 2, 3, 4, 5, 6}); err == nil {
		t.Fatalf("expected out of bounds error")
	}

	if err := r.Write(0x1000, []byte{1}); err == nil {
		t.Fatalf("expected out of bounds error for address below base")
	}
}
