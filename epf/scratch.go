// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package epf

import (
	"encoding/binary"
	"hash/crc32"

	gsync "gvisor.dev/gvisor/pkg/sync"

	"github.com/usbarmory/qemu-epc/bits"
)

// Endpoint-test command register, BAR0 offset 0x04 (spec.md §4.2).
const (
	cmdRead  uint32 = 1 << 3
	cmdWrite uint32 = 1 << 4
	cmdCopy  uint32 = 1 << 5
)

// Endpoint-test status register bit, BAR0 offset 0x08.
const statusIRQRaised = 6

// Register offsets within the endpoint-test register file.
const (
	offCommand    = 0x04
	offStatus     = 0x08
	offDstAddrLo  = 0x14
	offDstAddrHi  = 0x18
	offSize       = 0x1c
	offChecksum   = 0x20
	offIRQType    = 0x24
	offIRQNumber  = 0x28
	offIRQFlags   = 0x2c
	scratchLength = 0x30
)

// scratch is the endpoint-test register file the driver programs at
// BAR0: a command register (WRITE, READ or COPY; only WRITE moves data), a
// status register the endpoint sets on completion, and a handful of
// plain storage registers (destination address, size, checksum, IRQ
// configuration) the driver reads back to check the result.
type scratch struct {
	mu  gsync.Mutex
	raw [scratchLength]byte
}

// write applies a raw register write and returns the command value if
// this write starts at the command register's offset, signalling the
// caller should run the command. A wider write that starts earlier and
// spans the command register only stores the bytes.
func (s *scratch) write(offset uint32, val []byte) (cmd uint32, trigger bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint64(offset)+uint64(len(val)) > scratchLength {
		return 0, false
	}
	copy(s.raw[offset:], val)

	if offset != offCommand {
		return 0, false
	}
	return binary.LittleEndian.Uint32(s.raw[offCommand:]), true
}

func (s *scratch) read(offset uint32, size int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, size)
	if uint64(offset)+uint64(size) <= scratchLength {
		copy(out, s.raw[offset:])
	}
	return out
}

func (s *scratch) dstAddr() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo := binary.LittleEndian.Uint32(s.raw[offDstAddrLo:])
	hi := binary.LittleEndian.Uint32(s.raw[offDstAddrHi:])
	return uint64(hi)<<32 | uint64(lo)
}

func (s *scratch) size() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return binary.LittleEndian.Uint32(s.raw[offSize:])
}

func (s *scratch) setChecksum(data []byte) uint32 {
	sum := crc32.ChecksumIEEE(data) ^ 0xffffffff

	s.mu.Lock()
	defer s.mu.Unlock()
	binary.LittleEndian.PutUint32(s.raw[offChecksum:], sum)
	return sum
}

func (s *scratch) raiseIRQFlag() {
	s.mu.Lock()
	defer s.mu.Unlock()
	bits.Set8(&s.raw[offStatus], statusIRQRaised)
}
