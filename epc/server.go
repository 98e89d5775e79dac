// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package epc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/usbarmory/qemu-epc/dma"
	"github.com/usbarmory/qemu-epc/internal/ratelog"
	"github.com/usbarmory/qemu-epc/protocol"
)

// Device is the EPC target: the register-visible EndpointState plus the
// AF_UNIX socket server an EPF bridge connects to in order to read that
// state and forward BAR writes. One Device backs one emulated PCI
// endpoint.
type Device struct {
	State *EndpointState

	sockPath string
	log      *slog.Logger
	warn     *ratelog.Logger

	mu       sync.Mutex
	running  bool
	listener *net.UnixListener
	wg       sync.WaitGroup

	dmaMu sync.RWMutex
	dma   dma.Writer
}

// NewDevice returns an unarmed EPC device bound to sockPath (protocol.SockPath
// if empty). dmaFallback, if non-nil, is used for ACCESS_BAR forwarding
// until the bridge hands over a shared memfd via an FD (1) message; tests
// typically pass a dma.Region here directly and never exercise the FD
// handoff.
func NewDevice(sockPath string, dmaFallback dma.Writer, log *slog.Logger) *Device {
	if sockPath == "" {
		sockPath = protocol.SockPath
	}
	if log == nil {
		log = slog.Default()
	}

	return &Device{
		State:    NewEndpointState(),
		sockPath: sockPath,
		log:      log,
		warn:     ratelog.New(log, 5, 10),
		dma:      dmaFallback,
	}
}

// WriteControl implements the control window: a write of a nonzero value
// to offset 0 arms the socket server (idempotent), a write of zero tears
// it down (idempotent). Every other offset is a no-op.
func (d *Device) WriteControl(offset uint32, val []byte) {
	if offset != 0 || len(val) == 0 {
		return
	}

	nonzero := false
	for _, b := range val {
		if b != 0 {
			nonzero = true
			break
		}
	}

	if nonzero {
		if err := d.Start(); err != nil {
			d.warn.Warn("epc: start failed", "error", err)
		}
	} else {
		if err := d.Stop(); err != nil {
			d.warn.Warn("epc: stop failed", "error", err)
		}
	}
}

// DMA returns the device's current DMA forwarding target: the
// constructor-supplied fallback until a bridge hands over a shared memfd
// via an FD (1) message, the mapped memfd afterwards.
func (d *Device) DMA() dma.Writer {
	d.dmaMu.RLock()
	defer d.dmaMu.RUnlock()
	return d.dma
}

// ReadControl implements the control window's read side: every offset
// reads as zero, there being nothing useful to observe about server
// liveness through this window.
func (d *Device) ReadControl(offset uint32, size int) []byte {
	return make([]byte, size)
}

// Start arms the device: binds the listener and spawns the worker
// goroutine that blocks in Accept/recv/send, per spec.md's one-worker-
// per-arming concurrency model. Calling Start while already running is a
// no-op.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	os.Remove(d.sockPath)

	addr, err := net.ResolveUnixAddr("unix", d.sockPath)
	if err != nil {
		return fmt.Errorf("epc: resolve %s: %w", d.sockPath, err)
	}

	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("epc: listen %s: %w", d.sockPath, err)
	}

	d.listener = ln
	d.running = true

	d.wg.Add(1)
	go d.serve(ln)

	return nil
}

// Stop tears the device down: closes the listener (unblocking Accept)
// and waits for the worker goroutine to exit. Calling Stop while already
// stopped is a no-op.
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	ln := d.listener
	d.running = false
	d.listener = nil
	d.mu.Unlock()

	err := ln.Close()
	d.wg.Wait()
	return err
}

// serve is the per-arming worker: it accepts connections one at a time
// and serves each to completion before accepting the next, matching the
// "one client at a time" resource model.
func (d *Device) serve(ln *net.UnixListener) {
	defer d.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		d.handleConn(conn)
	}
}

// handleConn dispatches messages on a single connection until a read
// fails (clean disconnect or malformed frame) or a message handler
// returns an error; either one terminates the connection.
func (d *Device) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		tag, err := protocol.ReadTag(conn)
		if err != nil {
			if !errors.Is(err, protocol.ErrShortRead) {
				d.warn.Warn("epc: read tag", "error", err)
			}
			return
		}

		if err := d.dispatch(conn, tag); err != nil {
			d.warn.Warn("epc: dispatch", "tag", tag, "error", err)
			return
		}
	}
}

func (d *Device) dispatch(conn net.Conn, tag uint32) error {
	switch tag {
	case protocol.TagVer:
		return d.handleVer(conn)
	case protocol.TagFD:
		return d.handleFD(conn)
	case protocol.TagHDR:
		return d.handleHDR(conn)
	case protocol.TagBAR:
		return d.handleBAR(conn)
	case protocol.TagAccessBAR:
		return d.handleAccessBAR(conn)
	default:
		return protocol.ErrUnknownTag
	}
}

// handleVer replies with the server's protocol version. The VER request
// carries no payload beyond its tag; the peer is expected to compare the
// reply against its own version and decide whether to continue.
func (d *Device) handleVer(conn net.Conn) error {
	return protocol.WriteVersion(conn, protocol.Version)
}

// handleFD receives the shared memfd the bridge created to stand in for
// guest physical memory, maps it, and adopts it as the DMA forwarding
// target for subsequent ACCESS_BAR writes.
func (d *Device) handleFD(conn net.Conn) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("epc: FD message on non-unix connection")
	}

	fd, err := protocol.RecvFD(unixConn)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fmt.Errorf("epc: fstat received fd: %w", err)
	}

	buf, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("epc: mmap received fd: %w", err)
	}

	d.dmaMu.Lock()
	d.dma = dma.NewRegionFromBytes(0, buf)
	d.dmaMu.Unlock()

	return nil
}

func (d *Device) handleHDR(conn net.Conn) error {
	req, err := protocol.ReadHdrRequest(conn)
	if err != nil {
		return err
	}

	data, ok := d.State.ReadConfigRange(req.Offset, req.Size)
	if !ok {
		return protocol.ErrOutOfBounds
	}

	return protocol.WriteFull(conn, data)
}

func (d *Device) handleBAR(conn net.Conn) error {
	subtype, err := protocol.ReadBarSubtype(conn)
	if err != nil {
		return err
	}

	switch subtype {
	case protocol.BarSubtypeMask:
		return protocol.WriteMask(conn, d.State.BarMask())

	case protocol.BarSubtypeBAR:
		barNo, err := protocol.ReadBarNo(conn)
		if err != nil {
			return err
		}
		if barNo > MaxBAR {
			return protocol.ErrBadBarNo
		}
		bar, enabled := d.State.Bar(barNo)
		if !enabled {
			return protocol.ErrBarDisabled
		}
		return protocol.WriteBarSize(conn, bar.Size)

	default:
		return protocol.ErrUnknownTag
	}
}

// handleAccessBAR forwards a fire-and-forget BAR write to the DMA target.
// AccessRead is reported via the rate-limited logger and dropped, there
// being no response channel for this message type. Every other failure
// (bad bar_no, disabled bar, no DMA target, a failed DMA write) closes
// the connection.
func (d *Device) handleAccessBAR(conn net.Conn) error {
	req, err := protocol.ReadAccessBarRequest(conn)
	if err != nil {
		return err
	}

	if req.Type != protocol.AccessWrite {
		if req.Size > 0 {
			if _, err := discard(conn, req.Size); err != nil {
				return err
			}
		}
		d.warn.Warn("epc: access_bar read not implemented", "bar", req.BarNo)
		return nil
	}

	payload := make([]byte, req.Size)
	if err := protocol.ReadFull(conn, payload); err != nil {
		return err
	}

	if req.BarNo > MaxBAR {
		d.warn.Warn("epc: access_bar bad bar_no", "bar", req.BarNo)
		return protocol.ErrBadBarNo
	}

	bar, enabled := d.State.Bar(req.BarNo)
	if !enabled {
		d.warn.Warn("epc: access_bar disabled bar", "bar", req.BarNo)
		return protocol.ErrBarDisabled
	}

	d.dmaMu.RLock()
	target := d.dma
	d.dmaMu.RUnlock()

	if target == nil {
		d.warn.Warn("epc: access_bar with no dma target", "bar", req.BarNo)
		return fmt.Errorf("epc: access_bar: no dma target")
	}

	if err := target.Write(bar.PhysAddr+req.Offset, payload); err != nil {
		d.warn.Warn("epc: access_bar dma write failed", "bar", req.BarNo, "error", err)
		return fmt.Errorf("epc: access_bar dma write: %w", err)
	}

	return nil
}

func discard(conn net.Conn, n uint64) (int64, error) {
	buf := make([]byte, n)
	if err := protocol.ReadFull(conn, buf); err != nil {
		return 0, err
	}
	return int64(len(buf)), nil
}
