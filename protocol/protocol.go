// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package protocol implements the wire protocol that keeps the EPC target
// and EPF bridge emulated devices in sync over a process-local AF_UNIX
// stream socket.
//
// Frames are not length-prefixed: the message tag determines the payload
// shape and the receiver reads exactly the expected number of bytes. All
// integers are little-endian. Types 0-3 are synchronous request/response;
// ACCESS_BAR (4) is fire-and-forget from bridge to EPC.
package protocol

import "errors"

// SockPath is the well-known filesystem path the EPC target binds its
// listener to.
const SockPath = "/tmp/qemu-epc.sock"

// Version is the 32-bit protocol version constant exchanged during the
// VER handshake.
const Version uint32 = 0xdeadbeef

// Message tags (u32 LE on the wire).
const (
	TagVer       uint32 = 0
	TagFD        uint32 = 1
	TagHDR       uint32 = 2
	TagBAR       uint32 = 3
	TagAccessBAR uint32 = 4
)

// BAR query subtypes (u8 on the wire).
const (
	BarSubtypeMask uint8 = 1
	BarSubtypeBAR  uint8 = 2
)

// Access types for ACCESS_BAR (u8 on the wire).
const (
	AccessRead  uint8 = 0
	AccessWrite uint8 = 1
)

// ConfigSpaceSize is the size of the PCI configuration-space buffer;
// only the first 256 bytes are conventionally populated.
const ConfigSpaceSize = 4096

// MaxBAR is the highest valid BAR index (BAR0..BAR5).
const MaxBAR = 5

// Errors returned by framing and validation helpers, shared by epc and
// epf. ReadFull reports a clean disconnect (io.EOF before the first byte)
// as ErrShortRead too, so the two are not distinguished.
var (
	ErrShortRead     = errors.New("protocol: short read")
	ErrShortWrite    = errors.New("protocol: short write")
	ErrUnknownTag    = errors.New("protocol: unknown message tag")
	ErrOutOfBounds   = errors.New("protocol: offset/size out of bounds")
	ErrBadBarNo      = errors.New("protocol: bar_no out of range")
	ErrBarDisabled   = errors.New("protocol: bar not enabled")
	ErrUnimplemented = errors.New("protocol: access type not implemented")
)

// HdrRequest is the payload of a HDR (2) request.
type HdrRequest struct {
	Offset uint32
	Size   uint32
}

// AccessBarRequest is the payload of an ACCESS_BAR (4) request header; it
// is followed by Size bytes of payload when Type == AccessWrite.
type AccessBarRequest struct {
	Offset uint64
	Size   uint64
	Type   uint8
	BarNo  uint8
}
