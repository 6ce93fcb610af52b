// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package buddy provides a power-of-two buddy allocator working on a heap
// of uint32 addresses, with the block state kept in a side bitmap.
package buddy

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/mattbasta/btype-sub001/alloc"
	"github.com/mattbasta/btype-sub001/heap"
)

const NAME = "buddy"

// MinHeaderSize is the smallest per block overhead in front of the
// returned pointer: the object header.
const MinHeaderSize = alloc.ObjHeaderSize

var ErrHeapTooSmall = errors.New("buddy: heap smaller than HEAP_SIZE + BUDDY_SPACE")

// Options encodes various configuration flags for Buddy.
type Options uint32

const (
	BDebug          Options = 1 << iota // log ignored frees, check the tree after each call
	BIterative                          // search with an explicit stack instead of recursion
	BDumpStatsShort                     // dump status in log, short version
	BDefaultOptions Options = 0
)

// Buddy is a buddy allocator over the first HeapSize bytes of a heap.
// The block tree is numbered like a binary heap: node 1 is the whole heap
// and node n has the children 2n and 2n+1. The buddy of node n is n^1,
// which is the block at address XOR size.
//
// Every block starts with a header of max(MinHeaderSize, LowestOrder)
// bytes whose last 8 bytes are the object header, so returned pointers
// are multiples of LowestOrder. Block sizes are kept in the tree only.
//
// Buddy is not safe for concurrent use.
type Buddy struct {
	h       *heap.Heap
	layout  heap.Layout
	bits    bitmap
	hdr     uint32 // block header size
	options Options
	used    alloc.MUsed

	stack []frame // BIterative search stack
}

type frame struct {
	node, size uint32
}

var _ alloc.Allocator = (*Buddy)(nil)

// New returns a buddy allocator managing h according to l.
// h must hold at least l.HeapSize + l.BuddySpace() bytes.
func New(h *heap.Heap, l heap.Layout, options Options) (*Buddy, error) {
	b := &Buddy{}
	if err := b.init(h, l, options); err != nil {
		return nil, err
	}
	return b, nil
}

// Init initialises b in place, clearing the state bitmap.
// It returns true on success and false otherwise.
func (b *Buddy) Init(h *heap.Heap, l heap.Layout, options Options) bool {
	return b.init(h, l, options) == nil
}

func (b *Buddy) init(h *heap.Heap, l heap.Layout, options Options) error {
	*b = Buddy{} // zero, in case of re-init
	if err := l.Validate(); err != nil {
		return err
	}
	if h.Len() < l.HeapSize+l.BuddySpace() {
		return fmt.Errorf("%w: %d < %d", ErrHeapTooSmall,
			h.Len(), l.HeapSize+l.BuddySpace())
	}
	b.h = h
	b.layout = l
	b.options = options
	b.hdr = max(MinHeaderSize, l.LowestOrder)
	b.bits = bitmap{h: h, base: l.HeapSize, size: l.BuddySpace()}
	b.bits.reset()
	if options&BIterative != 0 {
		depth := bits.Len32(l.Units())
		b.stack = make([]frame, 0, 2*depth+1)
	}
	return nil
}

// Debug returns true if allocator debugging is turned on.
func (b *Buddy) Debug() bool { return b.options&BDebug != 0 }

// Iterative returns true if the block search uses an explicit stack.
func (b *Buddy) Iterative() bool { return b.options&BIterative != 0 }

// Layout returns the layout b was initialised with.
func (b *Buddy) Layout() heap.Layout { return b.layout }

// HeaderSize returns the per block overhead in front of each pointer.
func (b *Buddy) HeaderSize() uint32 { return b.hdr }

// MUsage returns current memory usage values.
// Used counts block sizes minus the headers.
func (b *Buddy) MUsage() alloc.MUsed { return b.used }

// Available returns how many bytes are not part of an allocated block.
func (b *Buddy) Available() uint64 {
	return uint64(b.layout.HeapSize) - b.used.RealUsed
}

// Owns returns whether p looks like a pointer returned by b
// (inside the heap and on a block boundary).
func (b *Buddy) Owns(p alloc.Ptr) bool {
	if uint32(p) < b.hdr || uint32(p) >= b.layout.HeapSize {
		return false
	}
	return (uint32(p)-b.hdr)&(b.layout.LowestOrder-1) == 0
}

// nodeSize returns the block size of a tree node.
func (b *Buddy) nodeSize(node uint32) uint32 {
	return b.layout.HeapSize >> (bits.Len32(node) - 1)
}

// nodeAddr returns the address of the block of node.
func (b *Buddy) nodeAddr(node, size uint32) uint32 {
	return (node - b.layout.HeapSize/size) * size
}

// nodeAt returns the node for the block of the given size at addr.
func (b *Buddy) nodeAt(addr, size uint32) uint32 {
	return b.layout.HeapSize/size + addr/size
}

// leaf returns true if a block of size cannot be split any further
// for a request of need bytes.
func (b *Buddy) leaf(size, need uint32) bool {
	half := size >> 1
	return half < need || half < b.layout.LowestOrder
}

// search looks for a free block of at least need bytes under node,
// splitting blocks on the way down. Left children are probed first.
// It returns the allocated node or 0.
func (b *Buddy) search(node, size, need uint32) uint32 {
	if b.bits.has(node, bitAlloc) {
		return 0
	}
	if b.leaf(size, need) {
		if b.bits.has(node, bitSplit) {
			return 0
		}
		b.bits.toggle(node, bitAlloc)
		return node
	}
	half := size >> 1
	if !b.bits.has(node, bitSplit) {
		b.bits.toggle(node, bitSplit)
		return b.search(node<<1, half, need)
	}
	if n := b.search(node<<1, half, need); n != 0 {
		return n
	}
	return b.search(node<<1|1, half, need)
}

// searchIter is search with an explicit stack. Nodes are visited in the
// same order and split the same way.
func (b *Buddy) searchIter(node, size, need uint32) uint32 {
	stack := append(b.stack[:0], frame{node, size})
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if b.bits.has(f.node, bitAlloc) {
			continue
		}
		if b.leaf(f.size, need) {
			if b.bits.has(f.node, bitSplit) {
				continue
			}
			b.bits.toggle(f.node, bitAlloc)
			b.stack = stack
			return f.node
		}
		half := f.size >> 1
		if !b.bits.has(f.node, bitSplit) {
			b.bits.toggle(f.node, bitSplit)
			stack = append(stack[:0], frame{f.node << 1, half})
			continue
		}
		stack = append(stack, frame{f.node<<1 | 1, half}, frame{f.node << 1, half})
	}
	b.stack = stack
	return 0
}

// findAllocated returns the allocated node starting at addr and its size,
// or 0, 0 if there is none.
func (b *Buddy) findAllocated(addr uint32) (uint32, uint32) {
	for size := b.layout.LowestOrder; size <= b.layout.HeapSize; size <<= 1 {
		if addr&(size-1) != 0 {
			break
		}
		node := b.nodeAt(addr, size)
		if b.bits.has(node, bitAlloc) {
			return node, size
		}
		if size == b.layout.HeapSize {
			break
		}
	}
	return 0, 0
}

// BlockSize returns the size of the block backing p (header included)
// or 0 if p is not allocated.
func (b *Buddy) BlockSize(p alloc.Ptr) uint32 {
	if !b.Owns(p) {
		return 0
	}
	_, size := b.findAllocated(uint32(p) - b.hdr)
	return size
}

// Malloc allocates size bytes of memory and returns a pointer to it.
// Requests smaller than LowestOrder are rounded up to it. The object
// header in front of the pointer is zeroed.
// On failure (zero size, size bigger then the heap, out of memory) it
// returns alloc.Null.
func (b *Buddy) Malloc(size uint32) alloc.Ptr {
	if size == 0 || size > b.layout.HeapSize {
		return alloc.Null
	}
	req := size
	if size < b.layout.LowestOrder {
		size = b.layout.LowestOrder
	}
	need := size + b.hdr
	if need > b.layout.HeapSize {
		return alloc.Null
	}
	var node uint32
	if b.Iterative() {
		node = b.searchIter(1, b.layout.HeapSize, need)
	} else {
		node = b.search(1, b.layout.HeapSize, need)
	}
	if node == 0 {
		if b.Debug() {
			DBG("malloc(%d): no free block\n", req)
		}
		return alloc.Null
	}
	bsize := b.nodeSize(node)
	addr := b.nodeAddr(node, bsize)
	p := alloc.Ptr(addr + b.hdr)
	b.h.SetU32(alloc.ShapeAddr(p), 0)
	b.h.SetU32(alloc.CountAddr(p), 0)
	b.used.Add(uint64(bsize-b.hdr), uint64(bsize))
	if b.Debug() {
		b.debug()
	}
	return p
}

// Calloc is Malloc followed by zeroing the first size bytes.
func (b *Buddy) Calloc(size uint32) alloc.Ptr {
	p := b.Malloc(size)
	if p != alloc.Null {
		b.h.Zero(uint32(p), size)
	}
	return p
}

// Free releases the block of p and merges it with its buddy as far up the
// tree as possible. Null, foreign and already freed pointers are ignored.
func (b *Buddy) Free(p alloc.Ptr) {
	if p == alloc.Null {
		return
	}
	if !b.Owns(p) {
		if b.Debug() {
			WARN("free(%d): pointer out of heap or misaligned\n", p)
		}
		return
	}
	node, size := b.findAllocated(uint32(p) - b.hdr)
	if node == 0 {
		if b.Debug() {
			DBG("free(%d): not allocated (double free?)\n", p)
		}
		return
	}
	b.used.Sub(uint64(size-b.hdr), uint64(size))
	b.bits.unset(node, bitAlloc)
	for node > 1 && b.bits.free(node^1) {
		node >>= 1
		b.bits.unset(node, bitSplit)
	}
	if b.Debug() {
		b.debug()
	}
}

// Walk calls fn for every leaf block of the current tree in address
// order, allocated or free.
func (b *Buddy) Walk(fn func(addr, size uint32, allocated bool)) {
	stack := []frame{{1, b.layout.HeapSize}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if b.bits.has(f.node, bitSplit) {
			half := f.size >> 1
			stack = append(stack, frame{f.node<<1 | 1, half}, frame{f.node << 1, half})
			continue
		}
		fn(b.nodeAddr(f.node, f.size), f.size, b.bits.has(f.node, bitAlloc))
	}
}
