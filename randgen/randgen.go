// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package randgen provides the cryptographically-seeded random data
// generator used by the EPF bridge's endpoint-test WRITE command
// (spec.md §4.2), the concrete default for host capability (e) in
// spec.md §6.
package randgen

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
)

// Generator produces pseudo-random byte streams keyed from a CSPRNG
// seed, rather than reaching for math/rand for "random-filled" test
// payloads.
type Generator struct {
	cipher *chacha20.Cipher
}

// New constructs a Generator keyed and nonced from crypto/rand.Reader.
func New() (*Generator, error) {
	var key [chacha20.KeySize]byte
	var nonce [chacha20.NonceSize]byte

	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("randgen: seed key: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("randgen: seed nonce: %w", err)
	}

	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("randgen: new cipher: %w", err)
	}

	return &Generator{cipher: c}, nil
}

// Fill generates n bytes of pseudo-random data.
func (g *Generator) Fill(n int) []byte {
	buf := make([]byte, n)
	g.cipher.XORKeyStream(buf, buf)
	return buf
}
