// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package refcount manages the lifetime of heap objects with a reference
// count kept in the object header every allocator places in front of the
// pointers it returns (alloc.ShapeAddr, alloc.CountAddr).
//
// A block fresh from Malloc or Calloc has a count of 0: raw memory owned
// by the caller. Ref promotes it, and the last Deref frees it. New returns
// an object that is already managed, with a count of 1.
//
// The count saturates at MaxCount. Such an object is never freed.
package refcount

import (
	"github.com/mattbasta/btype-sub001/alloc"
	"github.com/mattbasta/btype-sub001/heap"
)

// MaxCount is the sticky reference count of a pinned object.
const MaxCount = ^uint32(0)

// Finalizer is called with an object right before its memory is freed.
type Finalizer func(p alloc.Ptr)

// Counter implements ref/deref on top of an allocator.
// It is not safe for concurrent use.
type Counter struct {
	h          *heap.Heap
	a          alloc.Allocator
	finalizers map[uint32]Finalizer
}

// New returns a Counter for objects living in h and allocated by a.
func New(h *heap.Heap, a alloc.Allocator) *Counter {
	return &Counter{h: h, a: a}
}

// SetFinalizer registers fn to run when an object of the given shape is
// released. A nil fn removes the finalizer.
func (c *Counter) SetFinalizer(shape uint32, fn Finalizer) {
	if fn == nil {
		delete(c.finalizers, shape)
		return
	}
	if c.finalizers == nil {
		c.finalizers = make(map[uint32]Finalizer)
	}
	c.finalizers[shape] = fn
}

// New allocates a zeroed object of size bytes, tags it with shape and
// sets its count to 1.
// It returns alloc.Null if the allocation fails.
func (c *Counter) New(shape, size uint32) alloc.Ptr {
	p := c.a.Calloc(size)
	if p == alloc.Null {
		return p
	}
	c.h.SetU32(alloc.ShapeAddr(p), shape)
	c.h.SetU32(alloc.CountAddr(p), 1)
	return p
}

// Shape returns the shape tag of the object p.
func (c *Counter) Shape(p alloc.Ptr) uint32 {
	if p == alloc.Null {
		return 0
	}
	return c.h.U32(alloc.ShapeAddr(p))
}

// SetShape tags p with shape.
func (c *Counter) SetShape(p alloc.Ptr, shape uint32) {
	if p != alloc.Null {
		c.h.SetU32(alloc.ShapeAddr(p), shape)
	}
}

// Get returns the reference count of p.
func (c *Counter) Get(p alloc.Ptr) uint32 {
	if p == alloc.Null {
		return 0
	}
	return c.h.U32(alloc.CountAddr(p))
}

// Ref adds an owner to p and returns p.
func (c *Counter) Ref(p alloc.Ptr) alloc.Ptr {
	if p == alloc.Null {
		return p
	}
	addr := alloc.CountAddr(p)
	if count := c.h.U32(addr); count != MaxCount {
		c.h.SetU32(addr, count+1)
	}
	return p
}

// Deref drops an owner of p. The last owner releases the object: its
// finalizer runs, then its memory goes back to the allocator.
// Raw blocks (count 0) and pinned objects (MaxCount) are left alone.
func (c *Counter) Deref(p alloc.Ptr) {
	if p == alloc.Null {
		return
	}
	addr := alloc.CountAddr(p)
	switch count := c.h.U32(addr); count {
	case 0, MaxCount:
		return
	case 1:
		c.h.SetU32(addr, 0)
		if fn, ok := c.finalizers[c.h.U32(alloc.ShapeAddr(p))]; ok {
			fn(p)
		}
		c.a.Free(p)
	default:
		c.h.SetU32(addr, count-1)
	}
}
