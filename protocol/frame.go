// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// ReadFull reads exactly len(buf) bytes from conn, wrapping a short read
// (including a clean io.EOF on the first byte) as ErrShortRead so callers
// can treat any incomplete message as connection-terminating per spec.
func ReadFull(conn net.Conn, buf []byte) error {
	n, err := io.ReadFull(conn, buf)
	if err != nil {
		return fmt.Errorf("%w: got %d of %d bytes: %v", ErrShortRead, n, len(buf), err)
	}
	return nil
}

// WriteFull writes all of buf to conn, wrapping a short write as
// ErrShortWrite.
func WriteFull(conn net.Conn, buf []byte) error {
	n, err := conn.Write(buf)
	if err != nil {
		return fmt.Errorf("%w: wrote %d of %d bytes: %v", ErrShortWrite, n, len(buf), err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(buf))
	}
	return nil
}

// ReadTag reads the 4-byte little-endian message tag that begins every
// request.
func ReadTag(conn net.Conn) (uint32, error) {
	var buf [4]byte
	if err := ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteTag writes a 4-byte little-endian message tag.
func WriteTag(conn net.Conn, tag uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], tag)
	return WriteFull(conn, buf[:])
}

// ReadVersion reads the 4-byte little-endian protocol version reply to a
// VER request.
func ReadVersion(conn net.Conn) (uint32, error) {
	var buf [4]byte
	if err := ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteVersion writes the 4-byte little-endian protocol version.
func WriteVersion(conn net.Conn, version uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], version)
	return WriteFull(conn, buf[:])
}

// ReadHdrRequest reads the fixed 8-byte HDR request payload.
func ReadHdrRequest(conn net.Conn) (HdrRequest, error) {
	var buf [8]byte
	if err := ReadFull(conn, buf[:]); err != nil {
		return HdrRequest{}, err
	}
	return HdrRequest{
		Offset: binary.LittleEndian.Uint32(buf[0:4]),
		Size:   binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// WriteHdrRequest writes the fixed 8-byte HDR request payload.
func WriteHdrRequest(conn net.Conn, req HdrRequest) error {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], req.Offset)
	binary.LittleEndian.PutUint32(buf[4:8], req.Size)
	return WriteFull(conn, buf[:])
}

// ReadBarSubtype reads the 1-byte BAR request subtype.
func ReadBarSubtype(conn net.Conn) (uint8, error) {
	var buf [1]byte
	if err := ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteBarSubtype writes the 1-byte BAR request subtype.
func WriteBarSubtype(conn net.Conn, subtype uint8) error {
	return WriteFull(conn, []byte{subtype})
}

// ReadBarNo reads the 1-byte bar_no that follows a BAR/BAR subtype
// request.
func ReadBarNo(conn net.Conn) (uint8, error) {
	var buf [1]byte
	if err := ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteBarNo writes the 1-byte bar_no.
func WriteBarNo(conn net.Conn, barNo uint8) error {
	return WriteFull(conn, []byte{barNo})
}

// ReadMask reads the 1-byte bar_mask reply to BAR/MASK.
func ReadMask(conn net.Conn) (uint8, error) {
	var buf [1]byte
	if err := ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteMask writes the 1-byte bar_mask reply to BAR/MASK.
func WriteMask(conn net.Conn, mask uint8) error {
	return WriteFull(conn, []byte{mask})
}

// ReadBarSize reads the 8-byte little-endian BAR size reply to BAR/BAR.
func ReadBarSize(conn net.Conn) (uint64, error) {
	var buf [8]byte
	if err := ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteBarSize writes the 8-byte little-endian BAR size reply to BAR/BAR.
func WriteBarSize(conn net.Conn, size uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], size)
	return WriteFull(conn, buf[:])
}

// ReadAccessBarRequest reads the fixed 18-byte ACCESS_BAR request header.
func ReadAccessBarRequest(conn net.Conn) (AccessBarRequest, error) {
	var buf [18]byte
	if err := ReadFull(conn, buf[:]); err != nil {
		return AccessBarRequest{}, err
	}
	return AccessBarRequest{
		Offset: binary.LittleEndian.Uint64(buf[0:8]),
		Size:   binary.LittleEndian.Uint64(buf[8:16]),
		Type:   buf[16],
		BarNo:  buf[17],
	}, nil
}

// WriteAccessBarRequest writes the fixed 18-byte ACCESS_BAR request
// header; the caller is responsible for writing the following payload
// bytes when req.Type == AccessWrite.
func WriteAccessBarRequest(conn net.Conn, req AccessBarRequest) error {
	var buf [18]byte
	binary.LittleEndian.PutUint64(buf[0:8], req.Offset)
	binary.LittleEndian.PutUint64(buf[8:16], req.Size)
	buf[16] = req.Type
	buf[17] = req.BarNo
	return WriteFull(conn, buf[:])
}
