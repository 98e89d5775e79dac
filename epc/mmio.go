// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package epc

// ControlWindowSize is the size of the control MMIO window.
const ControlWindowSize = 64

// PCIConfigWindowSize is the size of the pci-config MMIO window.
const PCIConfigWindowSize = 4096

// BarConfigWindowSize is the size of the bar-config MMIO window.
var BarConfigWindowSize = barConfigWindowSize()

// WritePCIConfig implements the pci-config window: a plain write-through
// into config_space, bounds-checked against its 4096-byte extent.
func (d *Device) WritePCIConfig(offset uint32, val []byte) {
	d.State.WriteConfig(offset, val)
}

// ReadPCIConfig implements the pci-config window's read side: the window
// is write-only from the guest's perspective, so every read returns zero.
// The real config_space bytes are only ever exposed host-to-host, via the
// HDR query over the EPC socket.
func (d *Device) ReadPCIConfig(offset uint32, size int) []byte {
	return make([]byte, size)
}

// WriteBarConfig implements the bar-config window's cascading partial
// write decode; see decodeBarConfigWrite.
func (d *Device) WriteBarConfig(offset uint32, val []byte) {
	d.State.WriteBarConfig(offset, val)
}

// ReadBarConfig implements the bar-config window's read side.
func (d *Device) ReadBarConfig(offset uint32, size int) []byte {
	return d.State.ReadBarConfig(offset, size)
}
