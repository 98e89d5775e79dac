// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package protocol

import (
	"net"
	"os"
	"testing"
)

func socketpair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()

	dir := t.TempDir()
	addr := dir + "/test.sock"

	ln, err := net.Listen("unix", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	clientCh := make(chan *net.UnixConn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := net.Dial("unix", addr)
		if err != nil {
			errCh <- err
			return
		}
		clientCh <- c.(*net.UnixConn)
	}()

	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	select {
	case client := <-clientCh:
		return server.(*net.UnixConn), client
	case err := <-errCh:
		t.Fatalf("dial: %v", err)
	}

	return nil, nil
}

func TestVersionRoundTrip(t *testing.T) {
	server, client := socketpair(t)
	defer server.Close()
	defer client.Close()

	go func() {
		tag, err := ReadTag(server)
		if err != nil || tag != TagVer {
			return
		}
		WriteVersion(server, Version)
	}()

	if err := WriteTag(client, TagVer); err != nil {
		t.Fatalf("write tag: %v", err)
	}

	got, err := ReadVersion(client)
	if err != nil {
		t.Fatalf("read version: %v", err)
	}
	if got != Version {
		t.Fatalf("version = %#x, want %#x", got, Version)
	}
}

func TestHdrRequestRoundTrip(t *testing.T) {
	server, client := socketpair(t)
	defer server.Close()
	defer client.Close()

	want := HdrRequest{Offset: 8, Size: 1}

	go func() {
		WriteHdrRequest(server, want)
	}()

	got, err := ReadHdrRequest(client)
	if err != nil {
		t.Fatalf("read hdr request: %v", err)
	}
	if got != want {
		t.Fatalf("hdr request = %+v, want %+v", got, want)
	}
}

func TestAccessBarRequestRoundTrip(t *testing.T) {
	server, client := socketpair(t)
	defer server.Close()
	defer client.Close()

	want := AccessBarRequest{Offset: 0x10, Size: 4, Type: AccessWrite, BarNo: 0}

	go func() {
		WriteAccessBarRequest(server, want)
	}()

	got, err := ReadAccessBarRequest(client)
	if err != nil {
		t.Fatalf("read access bar request: %v", err)
	}
	if got != want {
		t.Fatalf("access bar request = %+v, want %+v", got, want)
	}
}

func TestShortReadIsReported(t *testing.T) {
	server, client := socketpair(t)
	defer client.Close()

	go func() {
		// Write a truncated tag and close, simulating a disconnect
		// mid-message.
		server.Write([]byte{0x01, 0x02})
		server.Close()
	}()

	if _, err := ReadTag(client); err == nil {
		t.Fatalf("expected short read error")
	}
}

func TestFDRoundTrip(t *testing.T) {
	server, client := socketpair(t)
	defer server.Close()
	defer client.Close()

	fd, err := NewSharedMemFD("epc-test", 4096)
	if err != nil {
		t.Fatalf("new shared memfd: %v", err)
	}
	defer unixClose(fd)

	errCh := make(chan error, 1)
	go func() {
		errCh <- SendFD(client, fd)
	}()

	got, err := RecvFD(server)
	if err != nil {
		t.Fatalf("recv fd: %v", err)
	}
	defer unixClose(got)

	if err := <-errCh; err != nil {
		t.Fatalf("send fd: %v", err)
	}

	fi, err := os.NewFile(uintptr(got), "shm").Stat()
	if err != nil {
		t.Fatalf("stat received fd: %v", err)
	}
	if fi.Size() != 4096 {
		t.Fatalf("received fd size = %d, want 4096", fi.Size())
	}
}

func unixClose(fd int) {
	f := os.NewFile(uintptr(fd), "")
	f.Close()
}
