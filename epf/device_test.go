// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package epf

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/usbarmory/qemu-epc/dma"
	"github.com/usbarmory/qemu-epc/epc"
	"github.com/usbarmory/qemu-epc/protocol"
)

func newRealizedPair(t *testing.T) (*epc.Device, *dma.Region, *Device) {
	t.Helper()

	sockPath := filepath.Join(t.TempDir(), "epc.sock")
	fallback := dma.NewRegion(0, 0x200000)
	target := epc.NewDevice(sockPath, fallback, nil)

	target.WritePCIConfig(0x00, []byte{0x34, 0x12})
	target.WritePCIConfig(0x02, []byte{0x78, 0x56})
	target.WritePCIConfig(0x08, []byte{0x01})
	target.WritePCIConfig(0x0a, []byte{0x00, 0x02})

	target.WriteBarConfig(0x01, []byte{0x00})
	target.WriteBarConfig(0x04, []byte{0x00, 0x00, 0x00, 0x00, 0, 0, 0, 0})
	target.WriteBarConfig(0x0c, []byte{0x00, 0x00, 0x20, 0x00, 0, 0, 0, 0})
	target.WriteBarConfig(0x00, []byte{0x01})

	if err := target.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { target.Stop() })

	bridge := NewDevice(nil)
	if err := bridge.Realize(sockPath); err != nil {
		t.Fatalf("Realize: %v", err)
	}
	t.Cleanup(func() { bridge.Close() })

	region, ok := target.DMA().(*dma.Region)
	if !ok {
		t.Fatalf("target DMA target is not a *dma.Region after FD handoff")
	}

	return target, region, bridge
}

func TestRealizePullsHeaderAndBARs(t *testing.T) {
	_, _, bridge := newRealizedPair(t)

	if bridge.VendorID != 0x1234 {
		t.Fatalf("VendorID = %#x, want 0x1234", bridge.VendorID)
	}
	if bridge.DeviceID != 0x5678 {
		t.Fatalf("DeviceID = %#x, want 0x5678", bridge.DeviceID)
	}
	if bridge.RevisionID != 0x01 {
		t.Fatalf("RevisionID = %#x, want 0x01", bridge.RevisionID)
	}
	if bridge.ClassDevice != 0x0200 {
		t.Fatalf("ClassDevice = %#x, want 0x0200", bridge.ClassDevice)
	}

	bridge.barMu.RLock()
	bar0 := bridge.bars[0]
	bridge.barMu.RUnlock()

	if !bar0.enabled || bar0.size != 0x200000 {
		t.Fatalf("bar0 = %+v, want enabled size 0x200000", bar0)
	}
}

func TestRealizeFailsOnVersionMismatch(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "epc.sock")
	addr, err := net.ResolveUnixAddr("unix", sockPath)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if _, err := protocol.ReadTag(conn); err != nil {
			return
		}
		protocol.WriteVersion(conn, 0x11111111)
	}()

	bridge := NewDevice(nil)
	err = bridge.Realize(sockPath)
	<-done

	if err == nil {
		t.Fatalf("expected version mismatch error")
	}
}

func TestEndpointTestWriteCommand(t *testing.T) {
	_, region, bridge := newRealizedPair(t)

	bridge.WriteScratch(offSize, []byte{0x10, 0, 0, 0})
	bridge.WriteScratch(offDstAddrLo, []byte{0x00, 0x10, 0, 0})
	bridge.WriteScratch(offDstAddrHi, []byte{0, 0, 0, 0})

	bridge.WriteScratch(offCommand, []byte{byte(cmdWrite), 0, 0, 0})

	deadline := time.Now().Add(time.Second)
	for {
		data, err := region.Read(0x1000, 0x10)
		if err == nil {
			allZero := true
			for _, b := range data {
				if b != 0 {
					allZero = false
					break
				}
			}
			if !allZero {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("endpoint-test write never landed in DMA region")
		}
		time.Sleep(5 * time.Millisecond)
	}

	status := bridge.ReadScratch(offStatus, 1)
	if status[0]&(1<<statusIRQRaised) == 0 {
		t.Fatalf("status = %#x, IRQ_RAISED bit not set", status[0])
	}

	if bridge.msi.Count(0) != 1 {
		t.Fatalf("msi vector 0 count = %d, want 1", bridge.msi.Count(0))
	}
}
