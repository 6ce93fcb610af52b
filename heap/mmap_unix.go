// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build linux || darwin

package heap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NewMapped returns a heap backed by an anonymous private mapping of
// size bytes. The memory starts zeroed. Call Close to unmap it.
func NewMapped(size uint32) (*Heap, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("heap: mmap %d bytes: %w", size, err)
	}
	return &Heap{mem: mem, unmap: unix.Munmap}, nil
}
