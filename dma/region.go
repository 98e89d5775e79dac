// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma provides a stand-in for the guest physical address space
// that the EPC target's "DMA write to guest physical address" host
// capability targets. It is the concrete, testable default for host
// capability (d) in spec.md §6: real hardware-emulation hosts perform
// this write against the guest's actual memory-backed region; here it is
// a bounds-checked flat buffer addressed by physical base.
package dma

import (
	"fmt"

	gsync "gvisor.dev/gvisor/pkg/sync"
)

// Region represents a window of emulated guest physical memory.
type Region struct {
	mu gsync.RWMutex

	// Base is the guest physical address the region starts at.
	Base uint64
	buf  []byte
}

// NewRegion allocates a Region of the given size starting at base.
func NewRegion(base uint64, size int) *Region {
	return &Region{
		Base: base,
		buf:  make([]byte, size),
	}
}

// NewRegionFromBytes wraps an existing buffer (typically an mmap'd shared
// memfd received over protocol.RecvFD) as a Region, rather than allocating
// a fresh one. The caller retains ownership of buf's backing memory.
func NewRegionFromBytes(base uint64, buf []byte) *Region {
	return &Region{
		Base: base,
		buf:  buf,
	}
}

// Size returns the region's size in bytes.
func (r *Region) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buf)
}

// contains reports whether [addr, addr+size) falls entirely within the
// region; callers must hold r.mu.
func (r *Region) contains(addr uint64, size int) bool {
	if addr < r.Base {
		return false
	}
	off := addr - r.Base
	return off <= uint64(len(r.buf)) && uint64(size) <= uint64(len(r.buf))-off
}

// Write performs a DMA write of buf into the region at the given guest
// physical address, standing in for the host's pci_dma_write primitive.
// It returns an error if any byte of the write falls outside the region,
// mirroring the bounds failure the real primitive would report.
func (r *Region) Write(addr uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.contains(addr, len(buf)) {
		return fmt.Errorf("dma: write [%#x, %#x) out of bounds for region [%#x, %#x)",
			addr, addr+uint64(len(buf)), r.Base, r.Base+uint64(len(r.buf)))
	}

	copy(r.buf[addr-r.Base:], buf)
	return nil
}

// Read copies size bytes from the region starting at addr, standing in
// for a hypothetical guest-memory read primitive (used by tests to
// observe the effect of a DMA write).
func (r *Region) Read(addr uint64, size int) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.contains(addr, size) {
		return nil, fmt.Errorf("dma: read [%#x, %#x) out of bounds for region [%#x, %#x)",
			addr, addr+uint64(size), r.Base, r.Base+uint64(len(r.buf)))
	}

	out := make([]byte, size)
	copy(out, r.buf[addr-r.Base:addr-r.Base+uint64(size)])
	return out, nil
}

// Writer is satisfied by Region and by any other guest-memory stand-in a
// host embedding this module wants to substitute (e.g. one backed by a
// real mmap'd VM memory slot).
type Writer interface {
	Write(addr uint64, buf []byte) error
}
