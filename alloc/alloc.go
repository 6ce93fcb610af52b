// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package alloc holds the types shared by the heap allocators:
// the heap pointer, the allocator interface and the usage statistics.
package alloc

// Ptr is a byte address inside a heap.
type Ptr uint32

// Null is the "no allocation" pointer. It is never returned for a
// successful allocation.
const Null Ptr = 0

// WordSize is the size of a pointer or size word stored in the heap.
const WordSize = 4

// ObjHeaderSize is the size of the object header every allocator keeps
// right in front of the pointers it returns:
//
//	p-8  shape  type/shape tag
//	p-4  count  reference count
//
// Malloc and Calloc set both words to 0: the block is raw memory owned by
// the caller until it is promoted by a reference.
const ObjHeaderSize = 2 * WordSize

// ShapeAddr returns the address of the shape word of the block p.
func ShapeAddr(p Ptr) uint32 { return uint32(p) - ObjHeaderSize }

// CountAddr returns the address of the reference count word of the block p.
func CountAddr(p Ptr) uint32 { return uint32(p) - WordSize }

// Allocator is implemented by every heap allocation strategy.
// Malloc and Calloc return Null on failure (zero size, oversized request,
// out of memory), otherwise a pointer preceded by a zeroed object header.
// Free ignores Null and already freed pointers.
type Allocator interface {
	Malloc(size uint32) Ptr
	Calloc(size uint32) Ptr
	Free(p Ptr)
}

// MUsed contains the memory usage statistics of an allocator.
type MUsed struct {
	Used        uint64 // total size of the allocated bodies
	RealUsed    uint64 // real size = Used + allocator overhead
	MaxRealUsed uint64
}

// Add accounts for a new allocation of size bytes occupying real bytes.
func (u *MUsed) Add(size, real uint64) {
	u.Used += size
	u.RealUsed += real
	if u.MaxRealUsed < u.RealUsed {
		u.MaxRealUsed = u.RealUsed
	}
}

// Sub reverts Add.
func (u *MUsed) Sub(size, real uint64) {
	u.Used -= size
	u.RealUsed -= real
}

// RoundUp rounds s up to the next multiple of align (a power of 2).
func RoundUp(s, align uint32) uint32 {
	return (s + (align - 1)) &^ (align - 1)
}

// IsPow2 returns true if v is a power of 2.
func IsPow2(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}
