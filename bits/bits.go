// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bits provides primitives for bitwise operations on the packed
// registers of the endpoint emulation protocol: the endpoint-test status
// bitfield and the 32-bit halves of the 64-bit BAR phys_addr/size fields.
package bits

// Set8 sets a bit in a byte-sized register.
func Set8(addr *uint8, pos int) {
	*addr |= 1 << uint(pos)
}
