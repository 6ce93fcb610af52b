// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package chain

import "github.com/mattbasta/btype-sub001/alloc"

// Block layout (all words little endian uint32):
//
//	+0   size   body size in bytes
//	+4   next   free: address of the next free block (noBlock ends the list)
//	            used: noBlock
//	+8   shape  object header, see alloc.ObjHeaderSize
//	+12  count
//	+16  body   returned to the caller
const (
	offSize    = 0
	offNext    = alloc.WordSize
	HeaderSize = 2*alloc.WordSize + alloc.ObjHeaderSize
)

// noBlock terminates the free list. A block may start at address 0, so 0
// cannot be used for that.
const noBlock = ^uint32(0)

func (c *Chain) blkSize(b uint32) uint32 { return c.h.U32(b + offSize) }

func (c *Chain) setSize(b, size uint32) { c.h.SetU32(b+offSize, size) }

func (c *Chain) next(b uint32) uint32 { return c.h.U32(b + offNext) }

func (c *Chain) setNext(b, next uint32) { c.h.SetU32(b+offNext, next) }

// link makes b follow prev on the free list, prev == noBlock is the head.
func (c *Chain) link(prev, b uint32) {
	if prev == noBlock {
		c.head = b
		return
	}
	c.setNext(prev, b)
}

// body returns the usable address for a block.
func body(b uint32) uint32 { return b + HeaderSize }

// header returns the block of a body address.
func header(p alloc.Ptr) uint32 { return uint32(p) - HeaderSize }

// end returns the first address after the block b.
func (c *Chain) end(b uint32) uint32 { return b + HeaderSize + c.blkSize(b) }
