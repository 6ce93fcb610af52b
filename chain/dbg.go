// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package chain

import (
	"fmt"

	"github.com/intuitivelabs/slog"
)

// Check verifies the free list: blocks inside the heap, sorted by address,
// not overlapping, not adjacent (unless CForwardOnly) and the free bytes
// plus the used bytes covering the whole heap.
func (c *Chain) Check() error {
	if !c.initialized() {
		if c.used.RealUsed != 0 {
			return fmt.Errorf("heap not set up but %d bytes used", c.used.RealUsed)
		}
		return nil
	}
	var free uint64
	prev := noBlock
	for b := c.head; b != noBlock; prev, b = b, c.next(b) {
		if b < c.first || body(b)&(c.gran-1) != 0 {
			return fmt.Errorf("free block %d misaligned", b)
		}
		if c.end(b) > c.top {
			return fmt.Errorf("free block %d size %d past heap end %d",
				b, c.blkSize(b), c.top)
		}
		if prev != noBlock {
			if b <= prev {
				return fmt.Errorf("free list out of order: %d after %d", b, prev)
			}
			if c.end(prev) > b {
				return fmt.Errorf("free blocks %d and %d overlap", prev, b)
			}
			if c.end(prev) == b && c.JoinBackward() {
				return fmt.Errorf("free blocks %d and %d not joined", prev, b)
			}
		}
		free += uint64(c.blkSize(b) + HeaderSize)
	}
	if free+c.used.RealUsed != uint64(c.top-c.first) {
		return fmt.Errorf("free %d + used %d != heap %d",
			free, c.used.RealUsed, c.top-c.first)
	}
	return nil
}

// debug runs the consistency checks and logs violations.
func (c *Chain) debug() {
	if err := c.Check(); err != nil {
		c.dumpStatus()
		BUG("corrupted free list: %s\n", err)
	}
}

// dumpStatus will write current status information in the log
func (c *Chain) dumpStatus() {
	const lev = slog.LDBG
	const prefix = "chain_status "

	if !Log.L(lev) {
		return
	}
	Log.LLog(lev, 0, prefix, "(%p):\n", c)
	if c == nil {
		return
	}
	Log.LLog(lev, 0, prefix, "heap size= %d\n", c.size)
	Log.LLog(lev, 0, prefix, "used= %d, used+overhead=%d, free=%d\n",
		c.used.Used, c.used.RealUsed, c.Available())
	Log.LLog(lev, 0, prefix, "max used (+overhead)= %d\n",
		c.used.MaxRealUsed)
	if c.options&CDumpStatsShort != 0 {
		return
	}
	Log.LLog(lev, 0, prefix, "dumping all alloc'ed blocks:\n")
	i := 0
	c.Walk(func(addr, size uint32, allocated bool) {
		if allocated {
			Log.LLog(lev, 0, prefix,
				"   %3d.    address=%d block=%d size=%d\n",
				i, body(addr), addr, size)
		}
		i++
	})
	Log.LLog(lev, 0, prefix, "dumping free list: %d blocks\n", c.FreeBlocks())
	for b := c.head; b != noBlock && c.initialized(); b = c.next(b) {
		Log.LLog(lev, 0, prefix, "   block=%d size=%d next=%d\n",
			b, c.blkSize(b), c.next(b))
	}
	Log.LLog(lev, 0, prefix, "-----------------------------\n")
}
