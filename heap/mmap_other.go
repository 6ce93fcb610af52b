// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build !linux && !darwin

package heap

// NewMapped falls back to a Go slice on platforms without anonymous mmap.
func NewMapped(size uint32) (*Heap, error) {
	return New(size), nil
}
