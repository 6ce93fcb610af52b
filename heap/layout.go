// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package heap

import (
	"errors"
	"fmt"
)

var (
	ErrHeapSizeNotPow2    = errors.New("heap: heap size must be a power of two")
	ErrHeapTooSmall       = errors.New("heap: heap size must be at least 64 bytes")
	ErrLowestOrderNotPow2 = errors.New("heap: lowest order must be a power of two")
	ErrLowestOrderRange   = errors.New("heap: lowest order out of range")
)

const (
	MinHeapSize    = 64
	MinLowestOrder = 8
)

// Layout is the fixed memory layout the code generator injects as literal
// constants into the emitted allocator.
type Layout struct {
	HeapSize    uint32 // HEAP_SIZE, total heap bytes
	LowestOrder uint32 // LOWEST_ORDER, smallest buddy block
}

// DefaultLayout is a 64KiB heap with 8 byte minimal blocks.
var DefaultLayout = Layout{HeapSize: 64 * 1024, LowestOrder: 8}

// Validate checks that the layout is usable by every allocator strategy.
func (l Layout) Validate() error {
	if l.HeapSize&(l.HeapSize-1) != 0 || l.HeapSize == 0 {
		return fmt.Errorf("%w: %d", ErrHeapSizeNotPow2, l.HeapSize)
	}
	if l.HeapSize < MinHeapSize {
		return fmt.Errorf("%w: %d", ErrHeapTooSmall, l.HeapSize)
	}
	if l.LowestOrder&(l.LowestOrder-1) != 0 || l.LowestOrder == 0 {
		return fmt.Errorf("%w: %d", ErrLowestOrderNotPow2, l.LowestOrder)
	}
	if l.LowestOrder < MinLowestOrder || l.LowestOrder > l.HeapSize/2 {
		return fmt.Errorf("%w: %d not in [%d, %d]",
			ErrLowestOrderRange, l.LowestOrder, MinLowestOrder, l.HeapSize/2)
	}
	return nil
}

// Units returns the number of lowest order blocks in the heap.
func (l Layout) Units() uint32 { return l.HeapSize / l.LowestOrder }

// BuddySpace returns BUDDY_SPACE: the size in bytes of the buddy state
// bitmap, 2 bits for each node of the block tree (2*Units nodes, the
// node 0 slot is unused).
func (l Layout) BuddySpace() uint32 {
	return (2*l.Units()*2 + 7) / 8
}

// Constants returns the layout as the named constants of the emitted
// allocator source.
func (l Layout) Constants() map[string]uint32 {
	return map[string]uint32{
		"HEAP_SIZE":    l.HeapSize,
		"LOWEST_ORDER": l.LowestOrder,
		"BUDDY_SPACE":  l.BuddySpace(),
	}
}

func (l Layout) String() string {
	return fmt.Sprintf("HEAP_SIZE=%d LOWEST_ORDER=%d BUDDY_SPACE=%d",
		l.HeapSize, l.LowestOrder, l.BuddySpace())
}
