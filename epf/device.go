// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package epf implements the EPF bridge: the emulated PCI endpoint
// function that realizes itself against an EPC target over the shared
// wire protocol, mirrors the endpoint's configuration header and BAR
// layout locally, forwards BAR writes for DMA, and drives the
// endpoint-test register file drivers probe for conformance testing.
package epf

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/usbarmory/qemu-epc/internal/ratelog"
	"github.com/usbarmory/qemu-epc/msi"
	"github.com/usbarmory/qemu-epc/protocol"
	"github.com/usbarmory/qemu-epc/randgen"
)

// PCI identity constants the bridge pulls from the endpoint's
// configuration header during Realize.
const (
	offVendorID     = 0x00
	offDeviceID     = 0x02
	offRevisionID   = 0x08
	offClassDevice  = 0x0a
	scratchBarIndex = 0
)

// barInfo mirrors one BAR's size and enable state as learned from the
// EPC target; the bridge does not need phys_addr locally, since BAR
// writes are addressed by (bar_no, offset) and the EPC target resolves
// the physical address on its side.
type barInfo struct {
	size    uint64
	enabled bool
}

// Device is the EPF bridge: one realized connection to an EPC target.
type Device struct {
	log  *slog.Logger
	warn *ratelog.Logger

	connMu sync.Mutex
	conn   *net.UnixConn

	VendorID    uint16
	DeviceID    uint16
	RevisionID  uint8
	ClassDevice uint16

	barMu sync.RWMutex
	bars  [6]barInfo

	msi     *msi.Controller
	rng     *randgen.Generator
	scratch scratch
}

// NewDevice returns an unrealized bridge device.
func NewDevice(log *slog.Logger) *Device {
	if log == nil {
		log = slog.Default()
	}
	return &Device{
		log:  log,
		warn: ratelog.New(log, 5, 10),
	}
}

// Realize connects to the EPC target at sockPath, performs the VER
// handshake (fatal on mismatch, per spec.md), hands over a shared memfd
// for subsequent DMA forwarding, pulls the configuration header fields,
// and enumerates BARs.
func (d *Device) Realize(sockPath string) error {
	if sockPath == "" {
		sockPath = protocol.SockPath
	}

	addr, err := net.ResolveUnixAddr("unix", sockPath)
	if err != nil {
		return fmt.Errorf("epf: resolve %s: %w", sockPath, err)
	}

	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return fmt.Errorf("epf: dial %s: %w", sockPath, err)
	}
	d.conn = conn

	if err := d.handshake(); err != nil {
		conn.Close()
		return err
	}

	if err := d.sendSharedMemory(); err != nil {
		conn.Close()
		return err
	}

	if err := d.pullHeader(); err != nil {
		conn.Close()
		return err
	}

	if err := d.enumerateBARs(); err != nil {
		conn.Close()
		return err
	}

	d.msi = msi.NewController(1)

	rng, err := randgen.New()
	if err != nil {
		conn.Close()
		return fmt.Errorf("epf: randgen: %w", err)
	}
	d.rng = rng

	return nil
}

// Close tears down the connection to the EPC target.
func (d *Device) Close() error {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// handshake sends a VER request (tag only, no payload) and compares the
// target's reply against our own protocol version.
func (d *Device) handshake() error {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	if err := protocol.WriteTag(d.conn, protocol.TagVer); err != nil {
		return err
	}
	peerVersion, err := protocol.ReadVersion(d.conn)
	if err != nil {
		return err
	}
	if peerVersion != protocol.Version {
		return fmt.Errorf("epf: protocol version mismatch: peer %#x, want %#x", peerVersion, protocol.Version)
	}
	return nil
}

// sendSharedMemory creates the memfd standing in for guest physical
// memory and hands the descriptor to the EPC target; the bridge keeps no
// local reference to it, since all DMA traffic flows through ACCESS_BAR.
func (d *Device) sendSharedMemory() error {
	const sharedMemSize = 1 << 20

	fd, err := protocol.NewSharedMemFD("qemu-epc-dma", sharedMemSize)
	if err != nil {
		return err
	}

	d.connMu.Lock()
	defer d.connMu.Unlock()

	if err := protocol.WriteTag(d.conn, protocol.TagFD); err != nil {
		return err
	}
	return protocol.SendFD(d.conn, fd)
}

func (d *Device) pullHeader() error {
	vendor, err := d.hdrU16(offVendorID)
	if err != nil {
		return err
	}
	device, err := d.hdrU16(offDeviceID)
	if err != nil {
		return err
	}
	revision, err := d.hdrU8(offRevisionID)
	if err != nil {
		return err
	}
	class, err := d.hdrU16(offClassDevice)
	if err != nil {
		return err
	}

	d.VendorID = vendor
	d.DeviceID = device
	d.RevisionID = revision
	d.ClassDevice = class
	return nil
}

func (d *Device) hdrU16(offset uint32) (uint16, error) {
	data, err := d.hdr(offset, 2)
	if err != nil {
		return 0, err
	}
	return uint16(data[0]) | uint16(data[1])<<8, nil
}

func (d *Device) hdrU8(offset uint32) (uint8, error) {
	data, err := d.hdr(offset, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (d *Device) hdr(offset uint32, size uint32) ([]byte, error) {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	if err := protocol.WriteTag(d.conn, protocol.TagHDR); err != nil {
		return nil, err
	}
	if err := protocol.WriteHdrRequest(d.conn, protocol.HdrRequest{Offset: offset, Size: size}); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	if err := protocol.ReadFull(d.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Device) enumerateBARs() error {
	mask, err := d.barMask()
	if err != nil {
		return err
	}

	d.barMu.Lock()
	defer d.barMu.Unlock()

	for i := uint8(0); i <= protocol.MaxBAR; i++ {
		enabled := mask&(1<<i) != 0
		d.bars[i].enabled = enabled
		if !enabled {
			continue
		}

		size, err := d.barSize(i)
		if err != nil {
			return err
		}
		d.bars[i].size = size
	}

	return nil
}

func (d *Device) barMask() (uint8, error) {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	if err := protocol.WriteTag(d.conn, protocol.TagBAR); err != nil {
		return 0, err
	}
	if err := protocol.WriteBarSubtype(d.conn, protocol.BarSubtypeMask); err != nil {
		return 0, err
	}
	return protocol.ReadMask(d.conn)
}

func (d *Device) barSize(barNo uint8) (uint64, error) {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	if err := protocol.WriteTag(d.conn, protocol.TagBAR); err != nil {
		return 0, err
	}
	if err := protocol.WriteBarSubtype(d.conn, protocol.BarSubtypeBAR); err != nil {
		return 0, err
	}
	if err := protocol.WriteBarNo(d.conn, barNo); err != nil {
		return 0, err
	}
	return protocol.ReadBarSize(d.conn)
}

// WriteBAR forwards a BAR write to the EPC target as a fire-and-forget
// ACCESS_BAR message, standing in for a driver-initiated MMIO write into
// one of the endpoint's exposed BARs. A write that would exceed the
// enumerated BAR's size is rejected locally without contacting the
// target.
func (d *Device) WriteBAR(barNo uint8, offset uint64, data []byte) error {
	if barNo > protocol.MaxBAR {
		return protocol.ErrBarDisabled
	}

	d.barMu.RLock()
	bar := d.bars[barNo]
	d.barMu.RUnlock()

	if !bar.enabled {
		return protocol.ErrBarDisabled
	}
	if offset+uint64(len(data)) > bar.size {
		return protocol.ErrOutOfBounds
	}

	d.connMu.Lock()
	defer d.connMu.Unlock()

	if err := protocol.WriteTag(d.conn, protocol.TagAccessBAR); err != nil {
		return err
	}
	req := protocol.AccessBarRequest{
		Offset: offset,
		Size:   uint64(len(data)),
		Type:   protocol.AccessWrite,
		BarNo:  barNo,
	}
	if err := protocol.WriteAccessBarRequest(d.conn, req); err != nil {
		return err
	}
	return protocol.WriteFull(d.conn, data)
}

// WriteScratch programs the endpoint-test register file at BAR0. A
// write that starts at the command register runs the command: WRITE
// performs the transfer, READ and COPY are only logged as not
// implemented.
func (d *Device) WriteScratch(offset uint32, val []byte) {
	cmd, trigger := d.scratch.write(offset, val)
	if !trigger {
		return
	}
	d.runCommand(cmd)
}

// ReadScratch reads back the endpoint-test register file.
func (d *Device) ReadScratch(offset uint32, size int) []byte {
	return d.scratch.read(offset, size)
}

func (d *Device) runCommand(cmd uint32) {
	switch {
	case cmd&cmdWrite != 0:
		d.doWrite()
	case cmd&cmdRead != 0:
		d.warn.Warn("epf: endpoint-test READ command not implemented")
	case cmd&cmdCopy != 0:
		d.warn.Warn("epf: endpoint-test COPY command not implemented")
	}
}

// doWrite generates a random-filled payload of the programmed size,
// forwards it to the destination address via BAR0, records its checksum,
// and raises the completion interrupt.
func (d *Device) doWrite() {
	size := d.scratch.size()
	dst := d.scratch.dstAddr()

	data := d.rng.Fill(int(size))
	d.scratch.setChecksum(data)

	if err := d.WriteBAR(scratchBarIndex, dst, data); err != nil {
		d.warn.Warn("epf: endpoint-test write forward failed", "error", err)
		return
	}

	d.scratch.raiseIRQFlag()
	if err := d.msi.Notify(0); err != nil {
		d.warn.Warn("epf: msi notify failed", "error", err)
	}
}
