// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package chain provides a first-fit free list allocator. The free list is
// kept sorted by address and threaded through the block headers inside the
// heap.
package chain

import (
	"errors"
	"fmt"

	"github.com/mattbasta/btype-sub001/alloc"
	"github.com/mattbasta/btype-sub001/heap"
)

const NAME = "chain"

// size we round to, must be 2^n and a multiple of the word size
const RoundTo = 8

var ErrHeapTooSmall = errors.New("chain: heap smaller than HEAP_SIZE")

// Options encodes various configuration flags for Chain.
type Options uint32

const (
	CDebug          Options = 1 << iota // log ignored frees, check the list after each call
	CForwardOnly                        // on free join only with the next block
	CDumpStatsShort                     // dump status in log, short version
	CDefaultOptions Options = 0
)

// Chain is a free list allocator over the first HeapSize bytes of a heap.
// Blocks take whole multiples of the granularity, max(RoundTo, LowestOrder)
// bytes header included, and are placed so that every body is a multiple
// of it. The heap is set up lazily, on the first Malloc.
//
// Chain is not safe for concurrent use.
type Chain struct {
	h       *heap.Heap
	size    uint32 // HEAP_SIZE
	gran    uint32 // block granularity
	first   uint32 // address of the first block
	top     uint32 // end of the last block
	head    uint32 // first free block
	ready   bool   // first block written
	options Options
	used    alloc.MUsed
}

var _ alloc.Allocator = (*Chain)(nil)

// New returns a chain allocator managing the first l.HeapSize bytes of h.
func New(h *heap.Heap, l heap.Layout, options Options) (*Chain, error) {
	c := &Chain{}
	if err := c.init(h, l, options); err != nil {
		return nil, err
	}
	return c, nil
}

// Init initialises c in place and marks the heap as not set up, the free
// list is built on the first allocation.
// It returns true on success and false otherwise.
func (c *Chain) Init(h *heap.Heap, l heap.Layout, options Options) bool {
	return c.init(h, l, options) == nil
}

func (c *Chain) init(h *heap.Heap, l heap.Layout, options Options) error {
	*c = Chain{} // zero, in case of re-init
	if err := l.Validate(); err != nil {
		return err
	}
	if h.Len() < l.HeapSize {
		return fmt.Errorf("%w: %d < %d", ErrHeapTooSmall, h.Len(), l.HeapSize)
	}
	c.h = h
	c.size = l.HeapSize
	c.gran = max(RoundTo, l.LowestOrder)
	c.first = alloc.RoundUp(HeaderSize, c.gran) - HeaderSize
	c.top = c.first + (c.size-c.first)&^(c.gran-1)
	c.head = noBlock
	c.options = options
	return nil
}

// Debug returns true if allocator debugging is turned on.
func (c *Chain) Debug() bool { return c.options&CDebug != 0 }

// JoinBackward returns true if Free also merges with the previous block.
func (c *Chain) JoinBackward() bool { return c.options&CForwardOnly == 0 }

// MUsage returns current memory usage values.
// Used counts the body sizes of the allocated blocks.
func (c *Chain) MUsage() alloc.MUsed { return c.used }

// Available returns how many bytes are available for allocation
// (free memory, block headers included).
func (c *Chain) Available() uint64 {
	return uint64(c.top-c.first) - c.used.RealUsed
}

// Owns returns whether p looks like a pointer returned by c.
func (c *Chain) Owns(p alloc.Ptr) bool {
	if uint32(p) < body(c.first) || uint32(p) >= c.top {
		return false
	}
	return uint32(p)&(c.gran-1) == 0
}

// SplitMin returns the smallest leftover for which a free block is split:
// room for a header and a RoundTo body, in whole granules.
func (c *Chain) SplitMin() uint32 {
	return alloc.RoundUp(HeaderSize+RoundTo, c.gran)
}

// lazyInit writes the initial free block spanning the whole heap.
func (c *Chain) lazyInit() {
	if c.ready {
		return
	}
	c.ready = true
	c.setSize(c.first, c.top-c.first-HeaderSize)
	c.setNext(c.first, noBlock)
	c.head = c.first
}

func (c *Chain) initialized() bool { return c.ready }

// bodySize returns the body size of a block holding size bytes.
func (c *Chain) bodySize(size uint32) uint32 {
	return alloc.RoundUp(size+HeaderSize, c.gran) - HeaderSize
}

// splitBlock splits the free block b into one of newSize bytes and a
// free rest block linked right after it.
// newSize must come from bodySize and leave at least SplitMin bytes.
func (c *Chain) splitBlock(b, newSize uint32) {
	rest := body(b) + newSize
	c.setSize(rest, c.blkSize(b)-newSize-HeaderSize)
	c.setNext(rest, c.next(b))
	c.setSize(b, newSize)
	c.setNext(b, rest)
}

// Malloc allocates size bytes of memory and returns a pointer to it.
// The first free block large enough is used, split if the leftover can
// hold another block. The object header in front of the pointer is zeroed.
// On failure (zero size, size bigger than the heap, out of memory) it
// returns alloc.Null.
func (c *Chain) Malloc(size uint32) alloc.Ptr {
	if size == 0 || size > c.size {
		return alloc.Null
	}
	c.lazyInit()
	need := c.bodySize(size)
	prev := noBlock
	for b := c.head; b != noBlock; prev, b = b, c.next(b) {
		bsize := c.blkSize(b)
		if bsize < need {
			continue
		}
		if bsize-need >= c.SplitMin() {
			c.splitBlock(b, need)
		}
		// detach it from the free list
		c.link(prev, c.next(b))
		c.setNext(b, noBlock)
		p := alloc.Ptr(body(b))
		c.h.SetU32(alloc.ShapeAddr(p), 0)
		c.h.SetU32(alloc.CountAddr(p), 0)
		c.used.Add(uint64(c.blkSize(b)), uint64(c.blkSize(b)+HeaderSize))
		if c.Debug() {
			c.debug()
		}
		return p
	}
	if c.Debug() {
		DBG("malloc(%d): no free block large enough\n", size)
	}
	return alloc.Null
}

// Calloc is Malloc followed by zeroing the first size bytes.
func (c *Chain) Calloc(size uint32) alloc.Ptr {
	p := c.Malloc(size)
	if p != alloc.Null {
		c.h.Zero(uint32(p), size)
	}
	return p
}

// Free returns the block of p to the free list and joins it with the
// free blocks right after and right before it.
// Null and already freed pointers are ignored.
func (c *Chain) Free(p alloc.Ptr) {
	if p == alloc.Null {
		return
	}
	if !c.Owns(p) || !c.initialized() {
		if c.Debug() {
			WARN("free(%d): pointer out of heap or misaligned\n", p)
		}
		return
	}
	b := header(p)
	prev := noBlock
	cur := c.head
	for cur != noBlock && cur < b {
		prev, cur = cur, c.next(cur)
	}
	if cur == b || (prev != noBlock && c.end(prev) > b) {
		if c.Debug() {
			DBG("free(%d): already free (double free?)\n", p)
		}
		return
	}
	bsize := c.blkSize(b)
	if c.end(b) > c.top || (cur != noBlock && c.end(b) > cur) {
		if c.Debug() {
			BUG("free(%d): corrupted block size %d\n", p, bsize)
		}
		return
	}
	c.used.Sub(uint64(bsize), uint64(bsize+HeaderSize))

	// insert here
	c.setNext(b, cur)
	c.link(prev, b)

	// try joining with the next block
	if cur != noBlock && c.end(b) == cur {
		c.setSize(b, bsize+HeaderSize+c.blkSize(cur))
		c.setNext(b, c.next(cur))
	}
	// try joining with the previous block
	if c.JoinBackward() && prev != noBlock && c.end(prev) == b {
		c.setSize(prev, c.blkSize(prev)+HeaderSize+c.blkSize(b))
		c.setNext(prev, c.next(b))
	}
	if c.Debug() {
		c.debug()
	}
}

// FreeBlocks returns the number of blocks on the free list.
func (c *Chain) FreeBlocks() int {
	if !c.initialized() {
		return 1
	}
	n := 0
	for b := c.head; b != noBlock; b = c.next(b) {
		n++
	}
	return n
}

// Walk calls fn for every block of the heap in address order, allocated
// or free. size is the body size.
func (c *Chain) Walk(fn func(addr, size uint32, allocated bool)) {
	if !c.initialized() {
		fn(c.first, c.top-c.first-HeaderSize, false)
		return
	}
	free := c.head
	for b := c.first; b < c.top; b = c.end(b) {
		isFree := b == free
		if isFree {
			free = c.next(b)
		}
		fn(b, c.blkSize(b), !isFree)
	}
}
