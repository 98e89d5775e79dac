// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package protocol

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// SendFD sends a single file descriptor as ancillary SCM_RIGHTS data on a
// one-byte datagram over conn, per the FD (1) message shape.
func SendFD(conn *net.UnixConn, fd int) error {
	rights := unix.UnixRights(fd)

	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("protocol: syscall conn: %w", err)
	}

	var sendErr error
	if err := raw.Control(func(sysFd uintptr) {
		sendErr = unix.Sendmsg(int(sysFd), []byte{0}, rights, nil, 0)
	}); err != nil {
		return fmt.Errorf("protocol: control: %w", err)
	}
	if sendErr != nil {
		return fmt.Errorf("protocol: sendmsg: %w", sendErr)
	}

	return nil
}

// RecvFD receives a single file descriptor passed as ancillary SCM_RIGHTS
// data on a one-byte datagram over conn.
func RecvFD(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("protocol: syscall conn: %w", err)
	}

	oob := make([]byte, unix.CmsgSpace(4))
	buf := make([]byte, 1)

	var (
		oobn    int
		n       int
		recvErr error
	)
	if err := raw.Control(func(sysFd uintptr) {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(sysFd), buf, oob, 0)
	}); err != nil {
		return -1, fmt.Errorf("protocol: control: %w", err)
	}
	if recvErr != nil {
		return -1, fmt.Errorf("protocol: recvmsg: %w", recvErr)
	}
	if n == 0 {
		return -1, fmt.Errorf("protocol: recvmsg: %w", ErrShortRead)
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("protocol: parse control message: %w", err)
	}

	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}

	return -1, fmt.Errorf("protocol: no file descriptor in ancillary data")
}

// NewSharedMemFD creates an anonymous shared memory object of
// the given size, suitable for sending to the peer with SendFD. The
// returned descriptor is owned by the caller.
func NewSharedMemFD(name string, size int64) (int, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return -1, fmt.Errorf("protocol: memfd_create: %w", err)
	}

	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("protocol: ftruncate: %w", err)
	}

	return fd, nil
}
