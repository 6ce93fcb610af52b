// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package buddy

import "github.com/mattbasta/btype-sub001/heap"

// state bits kept for every node of the block tree
const (
	bitSplit = 0 // the node was divided into two children
	bitAlloc = 1 // the node is handed out as a whole
	nodeBits = 2
)

// bitmap is the buddy state bitset. It lives in the heap, right after the
// managed region, and uses nodeBits bits per tree node.
type bitmap struct {
	h    *heap.Heap
	base uint32 // byte address of the first bitmap byte
	size uint32 // bytes
}

func (b bitmap) pos(node uint32, bit uint32) (uint32, uint8) {
	i := node*nodeBits + bit
	return b.base + i>>3, uint8(1) << (i & 7)
}

func (b bitmap) has(node uint32, bit uint32) bool {
	addr, mask := b.pos(node, bit)
	return b.h.U8(addr)&mask != 0
}

func (b bitmap) unset(node uint32, bit uint32) {
	addr, mask := b.pos(node, bit)
	b.h.SetU8(addr, b.h.U8(addr)&^mask)
}

func (b bitmap) toggle(node uint32, bit uint32) {
	addr, mask := b.pos(node, bit)
	b.h.SetU8(addr, b.h.U8(addr)^mask)
}

// free returns true if the node is neither split nor allocated.
func (b bitmap) free(node uint32) bool {
	addr, mask := b.pos(node, bitSplit)
	// both bits of a node share the same byte (nodeBits divides 8)
	return b.h.U8(addr)&(mask|mask<<1) == 0
}

func (b bitmap) reset() {
	b.h.Zero(b.base, b.size)
}
