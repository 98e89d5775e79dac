// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config loads optional YAML configuration for the EPC/EPF
// demo harness: the socket path override, log level, and debug-endpoint
// toggle. The distilled spec is silent on configuration; a YAML file is
// the convention this pack's host-side tooling uses (tinyrange-cc's
// cmd/ccapp site/app settings).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/usbarmory/qemu-epc/protocol"
)

// Debug controls the optional debug HTTP endpoint.
type Debug struct {
	// ChartsAddr, if non-empty, is the address internal/debugsrv
	// listens on.
	ChartsAddr string `yaml:"charts_addr"`
}

// Config is the top-level configuration document.
type Config struct {
	// SockPath overrides protocol.SockPath.
	SockPath string `yaml:"sock_path"`
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
	Debug    Debug  `yaml:"debug"`
}

// Default returns the spec-mandated defaults.
func Default() Config {
	return Config{
		SockPath: protocol.SockPath,
		LogLevel: "info",
	}
}

// Load reads a YAML configuration file at path, overlaying it on top of
// Default(). A missing path is not an error: the defaults are returned
// unchanged, matching the spec's "no configuration" baseline.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.SockPath == "" {
		cfg.SockPath = protocol.SockPath
	}

	return cfg, nil
}
