// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package epc implements the EPC target device: the three MMIO register
// banks a guest programs to describe a PCI endpoint (control,
// pci-config, bar-config), the authoritative endpoint state they mutate,
// and the socket server that answers the EPF bridge's queries about that
// state.
package epc

import (
	gsync "gvisor.dev/gvisor/pkg/sync"

	"github.com/usbarmory/qemu-epc/bits"
	"github.com/usbarmory/qemu-epc/protocol"
)

// MaxBAR is the highest valid BAR index (BAR0..BAR5).
const MaxBAR = protocol.MaxBAR

// BarEntry mirrors one BAR's configuration as programmed through the
// bar-config window.
type BarEntry struct {
	PhysAddr uint64
	Size     uint64
	Flags    uint8
}

// EndpointState is the EPC-owned, authoritative description of the PCI
// endpoint the guest is building: a 4096-byte configuration-space
// buffer, the BAR enable mask, the bar-config cursor, and the six BAR
// entries it addresses.
//
// Per spec.md §9, the shared fields are split across two locks so that
// a worker-side HDR query doesn't contend with an MMIO-side bar-config
// write: one RWMutex guards config_space, a second guards bar_mask /
// current_bar / bars. Each message handler observes a consistent
// snapshot of the field(s) it touches; no cross-message atomicity is
// implied or required.
type EndpointState struct {
	configMu    gsync.RWMutex
	configSpace [protocol.ConfigSpaceSize]byte

	barMu      gsync.RWMutex
	barMask    uint8
	currentBar uint8
	bars       [6]BarEntry
}

// NewEndpointState returns a zeroed endpoint state, as created on EPC
// realization.
func NewEndpointState() *EndpointState {
	return &EndpointState{}
}

// WriteConfig copies the low len(val) bytes into config_space[offset:]
// if the access fits within the 4096-byte buffer; out-of-bounds writes
// are silently dropped, per the pci-config window's write-through
// semantics.
func (s *EndpointState) WriteConfig(offset uint32, val []byte) {
	if uint64(offset)+uint64(len(val)) > protocol.ConfigSpaceSize {
		return
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()
	copy(s.configSpace[offset:], val)
}

// ReadConfigRange returns a copy of config_space[offset:offset+size],
// rejecting (ok=false) a request that would read past the end of the
// buffer — used by the HDR message handler.
func (s *EndpointState) ReadConfigRange(offset, size uint32) (data []byte, ok bool) {
	if uint64(offset)+uint64(size) > protocol.ConfigSpaceSize {
		return nil, false
	}

	s.configMu.RLock()
	defer s.configMu.RUnlock()

	out := make([]byte, size)
	copy(out, s.configSpace[offset:offset+size])
	return out, true
}

// BarMask returns the current BAR enable mask.
func (s *EndpointState) BarMask() uint8 {
	s.barMu.RLock()
	defer s.barMu.RUnlock()
	return s.barMask
}

// CurrentBar returns the bar-config cursor.
func (s *EndpointState) CurrentBar() uint8 {
	s.barMu.RLock()
	defer s.barMu.RUnlock()
	return s.currentBar
}

// Bar returns a copy of bars[i] and whether bit i is set in bar_mask.
func (s *EndpointState) Bar(i uint8) (BarEntry, bool) {
	s.barMu.RLock()
	defer s.barMu.RUnlock()

	if i > MaxBAR {
		return BarEntry{}, false
	}
	return s.bars[i], s.barMask&(1<<i) != 0
}

// WriteBarConfig applies a partial write of width len(val) (1, 2, 4 or 8
// bytes) at the given offset into the bar-config packed record. See
// decodeBarConfigWrite for the cascade semantics.
func (s *EndpointState) WriteBarConfig(offset uint32, val []byte) {
	if len(val) == 0 || len(val) > 8 {
		return
	}

	var v uint64
	for i := len(val) - 1; i >= 0; i-- {
		v = v<<8 | uint64(val[i])
	}

	s.barMu.Lock()
	defer s.barMu.Unlock()
	decodeBarConfigWrite(s, offset, v, len(val))
}

// ReadBarConfig reads size bytes from the bar-config window starting at
// offset. Only the byte at absolute offset 0 carries bar_mask; every
// other byte reads as zero, per spec.md §4.1.
func (s *EndpointState) ReadBarConfig(offset uint32, size int) []byte {
	out := make([]byte, size)
	if offset == 0 && size > 0 {
		out[0] = s.BarMask()
	}
	return out
}

// bar-config packed record field offsets, see spec.md §4.1.
const (
	fieldMask      = 0x00
	fieldNumber    = 0x01
	fieldFlags     = 0x02
	fieldReserved  = 0x03
	fieldPhysAddr  = 0x04
	fieldPhysAddrH = fieldPhysAddr + 4
	fieldSize      = 0x0c
	fieldSizeH     = fieldSize + 4
	barConfigEnd   = 0x14
)

// decodeBarConfigWrite implements the forward-cascading fall-through
// write decode: starting at the field matching offset, bytes of v are
// consumed left to right, each field its natural width, with any
// remaining bytes spilling into the next field. An 8-byte field accepts
// either a full 8-byte write or a single 4-byte write at its base offset
// (low half) or base+4 (high half); any other width at that point is
// dropped. Writes to the per-BAR fields (flags, phys_addr, size) observe
// current_bar as updated earlier in the *same* cascading write, matching
// the original device's fall-through order; a current_bar beyond MaxBAR
// silently drops those per-BAR fields. Callers must hold s.barMu.
func decodeBarConfigWrite(s *EndpointState, offset uint32, v uint64, width int) {
	pos := offset
	remaining := width

	for remaining > 0 {
		switch pos {
		case fieldMask:
			s.barMask = byte(v)
			v >>= 8
			remaining--
			pos++

		case fieldNumber:
			s.currentBar = byte(v)
			v >>= 8
			remaining--
			pos++

		case fieldFlags:
			if cur := s.currentBar; cur <= MaxBAR {
				s.bars[cur].Flags = byte(v)
			}
			v >>= 8
			remaining--
			pos++

		case fieldReserved:
			v >>= 8
			remaining--
			pos++

		case fieldPhysAddr:
			cur := s.currentBar
			switch remaining {
			case 8:
				if cur <= MaxBAR {
					s.bars[cur].PhysAddr = v
				}
			case 4:
				if cur <= MaxBAR {
					bits.SetN64(&s.bars[cur].PhysAddr, 0, 0xffffffff, v)
				}
			}
			return

		case fieldPhysAddrH:
			cur := s.currentBar
			if remaining == 4 && cur <= MaxBAR {
				bits.SetN64(&s.bars[cur].PhysAddr, 32, 0xffffffff, v)
			}
			return

		case fieldSize:
			cur := s.currentBar
			switch remaining {
			case 8:
				if cur <= MaxBAR {
					s.bars[cur].Size = v
				}
			case 4:
				if cur <= MaxBAR {
					bits.SetN64(&s.bars[cur].Size, 0, 0xffffffff, v)
				}
			}
			return

		case fieldSizeH:
			cur := s.currentBar
			if remaining == 4 && cur <= MaxBAR {
				bits.SetN64(&s.bars[cur].Size, 32, 0xffffffff, v)
			}
			return

		default:
			return
		}
	}
}

// barConfigWindowSize is the MMIO window size registered for BAR1: the
// next power of two at or above the packed record's length.
func barConfigWindowSize() int {
	size := 1
	for size < barConfigEnd {
		size <<= 1
	}
	return size
}
