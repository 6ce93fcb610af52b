// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package buddy

import (
	"fmt"

	"github.com/intuitivelabs/slog"

	"github.com/mattbasta/btype-sub001/alloc"
)

// Check verifies the block tree invariants:
//   - a node is never both split and allocated
//   - nodes of the lowest order are never split
//   - a used (split or allocated) node has a split parent
//   - a split node has at least one used child
//
// It returns the first violation found.
func (b *Buddy) Check() error {
	nodes := 2 * b.layout.Units()
	for n := uint32(1); n < nodes; n++ {
		split := b.bits.has(n, bitSplit)
		allocd := b.bits.has(n, bitAlloc)
		if split && allocd {
			return fmt.Errorf("node %d is both split and allocated", n)
		}
		if split && n >= b.layout.Units() {
			return fmt.Errorf("lowest order node %d is split", n)
		}
		if (split || allocd) && n > 1 && !b.bits.has(n>>1, bitSplit) {
			return fmt.Errorf("used node %d has an unsplit parent %d", n, n>>1)
		}
		if split && b.bits.free(n<<1) && b.bits.free(n<<1|1) {
			return fmt.Errorf("split node %d has two free children", n)
		}
	}
	var realUsed uint64
	b.Walk(func(addr, size uint32, allocated bool) {
		if allocated {
			realUsed += uint64(size)
		}
	})
	if realUsed != b.used.RealUsed {
		return fmt.Errorf("allocated blocks cover %d bytes, stats say %d",
			realUsed, b.used.RealUsed)
	}
	return nil
}

// debug runs the consistency checks and logs violations.
func (b *Buddy) debug() {
	if err := b.Check(); err != nil {
		b.dumpStatus()
		BUG("corrupted block tree: %s\n", err)
	}
}

// dumpStatus will write current status information in the log
func (b *Buddy) dumpStatus() {
	const lev = slog.LDBG
	const prefix = "buddy_status "

	if !Log.L(lev) {
		return
	}
	Log.LLog(lev, 0, prefix, "(%p):\n", b)
	if b == nil {
		return
	}
	Log.LLog(lev, 0, prefix, "%s\n", b.layout)
	Log.LLog(lev, 0, prefix, "used= %d, used+overhead=%d, free=%d\n",
		b.used.Used, b.used.RealUsed, b.Available())
	Log.LLog(lev, 0, prefix, "max used (+overhead)= %d\n",
		b.used.MaxRealUsed)
	if b.options&BDumpStatsShort != 0 {
		return
	}
	Log.LLog(lev, 0, prefix, "dumping all blocks:\n")
	i := 0
	b.Walk(func(addr, size uint32, allocated bool) {
		if allocated {
			Log.LLog(lev, 0, prefix,
				"   %3d.    address=%d block=%d size=%d refcnt=%d\n",
				i, addr+b.hdr, addr, size,
				b.h.U32(alloc.CountAddr(alloc.Ptr(addr+b.hdr))))
		} else {
			Log.LLog(lev, 0, prefix,
				"   %3d.    free block=%d size=%d\n", i, addr, size)
		}
		i++
	})
	Log.LLog(lev, 0, prefix, "-----------------------------\n")
}
