// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package msi provides a minimal Message-Signaled Interrupt controller
// stand-in, the concrete default for host capability (c) in spec.md §6
// ("MSI init and msi_notify(vector)").
package msi

import (
	"fmt"
	"sync"
)

// Controller tracks a fixed number of MSI vectors and counts deliveries,
// letting tests assert that a given vector fired exactly once.
type Controller struct {
	mu      sync.Mutex
	vectors int
	counts  []uint64
}

// NewController initializes a Controller with n vectors, mirroring the
// EPF bridge's "Initialize MSI with one vector" realize step.
func NewController(n int) *Controller {
	return &Controller{
		vectors: n,
		counts:  make([]uint64, n),
	}
}

// Notify raises the given MSI vector.
func (c *Controller) Notify(vector int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vector < 0 || vector >= c.vectors {
		return fmt.Errorf("msi: vector %d out of range [0,%d)", vector, c.vectors)
	}

	c.counts[vector]++
	return nil
}

// Count returns how many times the given vector has fired.
func (c *Controller) Count(vector int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vector < 0 || vector >= c.vectors {
		return 0
	}
	return c.counts[vector]
}

// Vectors returns the number of vectors the controller was initialized
// with.
func (c *Controller) Vectors() int {
	return c.vectors
}
