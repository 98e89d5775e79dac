// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package bits

// SetN64 modifies the pointed value by setting a value at a specific bit
// position and with a bitmask applied.
func SetN64(addr *uint64, pos int, mask int, val uint64) {
	*addr = (*addr & (^(uint64(mask) << pos))) | (val << pos)
}
