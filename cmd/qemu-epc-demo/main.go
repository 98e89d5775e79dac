// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command qemu-epc-demo wires one EPC target and one EPF bridge over a
// real AF_UNIX socket for manual smoke-testing of the endpoint emulation
// protocol: it arms the target, realizes the bridge against it, issues
// an endpoint-test WRITE, and reports the result.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/usbarmory/qemu-epc/config"
	"github.com/usbarmory/qemu-epc/dma"
	"github.com/usbarmory/qemu-epc/epc"
	"github.com/usbarmory/qemu-epc/epf"
	"github.com/usbarmory/qemu-epc/internal/debugsrv"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML configuration file")
		writeSize  = flag.Uint("write-size", 256, "bytes requested from the endpoint-test WRITE command")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if cfg.Debug.ChartsAddr != "" {
		errCh := make(chan error, 1)
		debugsrv.Start(cfg.Debug.ChartsAddr, errCh)
		log.Info("debug endpoint listening", "addr", cfg.Debug.ChartsAddr)
	}

	region := dma.NewRegion(0, 16<<20)
	target := epc.NewDevice(cfg.SockPath, region, log)

	target.WritePCIConfig(0x00, []byte{0x34, 0x12})
	target.WritePCIConfig(0x02, []byte{0x78, 0x56})
	target.WritePCIConfig(0x08, []byte{0x01})
	target.WritePCIConfig(0x0a, []byte{0x00, 0x02})

	target.WriteBarConfig(0x01, []byte{0x00})
	target.WriteBarConfig(0x04, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	target.WriteBarConfig(0x0c, []byte{0, 0, 0, 1, 0, 0, 0, 0})
	target.WriteBarConfig(0x00, []byte{0x01})

	if err := target.Start(); err != nil {
		log.Error("epc start failed", "error", err)
		os.Exit(1)
	}
	defer target.Stop()

	bridge := epf.NewDevice(log)
	if err := bridge.Realize(cfg.SockPath); err != nil {
		log.Error("epf realize failed", "error", err)
		os.Exit(1)
	}
	defer bridge.Close()

	log.Info("realized",
		"vendor_id", bridge.VendorID,
		"device_id", bridge.DeviceID,
		"revision_id", bridge.RevisionID,
		"class_device", bridge.ClassDevice,
	)

	bridge.WriteScratch(0x1c, u32le(uint32(*writeSize)))
	bridge.WriteScratch(0x14, u32le(0x1000))
	bridge.WriteScratch(0x18, u32le(0))
	bridge.WriteScratch(0x04, u32le(1<<4))

	time.Sleep(100 * time.Millisecond)

	status := bridge.ReadScratch(0x08, 1)
	checksum := bridge.ReadScratch(0x20, 4)
	log.Info("endpoint-test write complete", "status", status[0], "checksum", checksum)
}

func u32le(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
