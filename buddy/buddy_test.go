// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package buddy

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mattbasta/btype-sub001/alloc"
	"github.com/mattbasta/btype-sub001/heap"
)

func newTestBuddy(t testing.TB, heapSize uint32, options Options) (*Buddy, *heap.Heap) {
	t.Helper()
	return newTestBuddyLayout(t, heap.Layout{HeapSize: heapSize, LowestOrder: 8}, options)
}

func newTestBuddyLayout(t testing.TB, l heap.Layout, options Options) (*Buddy, *heap.Heap) {
	t.Helper()
	h := heap.New(l.HeapSize + l.BuddySpace())
	b, err := New(h, l, options)
	require.NoError(t, err)
	return b, h
}

func bitmapSnapshot(b *Buddy) []byte {
	return bytes.Clone(b.h.Bytes(b.bits.base, b.bits.size))
}

func TestNewRejectsSmallHeap(t *testing.T) {
	l := heap.Layout{HeapSize: 1024, LowestOrder: 8}
	_, err := New(heap.New(1024), l, BDefaultOptions)
	require.ErrorIs(t, err, ErrHeapTooSmall)

	var b Buddy
	require.False(t, b.Init(heap.New(4096), heap.Layout{HeapSize: 1000, LowestOrder: 8}, 0))
	require.True(t, b.Init(heap.New(4096), l, 0))
}

func TestMallocRejects(t *testing.T) {
	b, _ := newTestBuddy(t, 1024, BDefaultOptions)
	require.Equal(t, alloc.Null, b.Malloc(0))
	require.Equal(t, alloc.Null, b.Malloc(1025))
	require.Equal(t, alloc.Null, b.Malloc(1024)) // no room left for the header
	require.NoError(t, b.Check())
	require.Zero(t, b.MUsage().RealUsed)
}

func TestMallocPointerRange(t *testing.T) {
	const heapSize = 1024
	for _, lo := range []uint32{8, 16, 32, 128} {
		l := heap.Layout{HeapSize: heapSize, LowestOrder: lo}
		b, h := newTestBuddyLayout(t, l, BDefaultOptions)
		require.Equal(t, max(8, lo), b.HeaderSize())
		for n := uint32(1); n <= heapSize; n++ {
			require.True(t, b.Init(h, l, BDefaultOptions))
			p := b.Malloc(n)
			if p == alloc.Null {
				require.Greater(t, max(n, lo)+b.HeaderSize(), uint32(heapSize), "malloc(%d)", n)
				continue
			}
			require.GreaterOrEqual(t, uint32(p), lo, "malloc(%d)", n)
			require.Less(t, uint32(p), uint32(heapSize), "malloc(%d)", n)
			require.Zero(t, uint32(p)%lo, "lowest order %d: malloc(%d) = %d", lo, n, p)
			require.GreaterOrEqual(t, b.BlockSize(p), n+b.HeaderSize())
		}
	}
}

func TestLowestOrderGranularity(t *testing.T) {
	b, _ := newTestBuddyLayout(t, heap.Layout{HeapSize: 1024, LowestOrder: 32}, BDebug)
	// 1 -> 32+32 byte block at 0, 8 -> next 64 byte block, 40 -> 128 byte block
	require.Equal(t, alloc.Ptr(32), b.Malloc(1))
	require.Equal(t, alloc.Ptr(96), b.Malloc(8))
	require.Equal(t, alloc.Ptr(160), b.Malloc(40))
	require.Equal(t, uint32(128), b.BlockSize(160))
	require.False(t, b.Owns(8))
	require.False(t, b.Owns(48))
}

func TestObjectHeaderZeroed(t *testing.T) {
	b, h := newTestBuddy(t, 1024, BDebug)
	p := b.Malloc(100)
	require.Equal(t, alloc.Ptr(8), p)
	// dirty the whole block, header included
	h.Fill(0, 128, 0xA5)
	b.Free(p)

	q := b.Malloc(100)
	require.Equal(t, p, q)
	require.Zero(t, h.U32(alloc.ShapeAddr(q)))
	require.Zero(t, h.U32(alloc.CountAddr(q)))
	require.Equal(t, uint8(0xA5), h.U8(uint32(q)))
	require.Equal(t, alloc.MUsed{Used: 120, RealUsed: 128, MaxRealUsed: 128}, b.MUsage())
}

func TestExhaustion(t *testing.T) {
	const heapSize = 1024
	b, _ := newTestBuddy(t, heapSize, BDefaultOptions)
	p := b.Malloc(heapSize - 16)
	require.Equal(t, alloc.Ptr(b.HeaderSize()), p)
	require.Equal(t, uint32(heapSize), b.BlockSize(p))
	require.Equal(t, alloc.Null, b.Malloc(1))
	require.Zero(t, b.Available())

	b.Free(p)
	require.Equal(t, uint64(heapSize), b.Available())
	require.NotEqual(t, alloc.Null, b.Malloc(1))
}

func TestLeftFirst(t *testing.T) {
	b, _ := newTestBuddy(t, 1024, BDefaultOptions)
	p1 := b.Malloc(8)
	p2 := b.Malloc(8)
	p3 := b.Malloc(20)
	require.Equal(t, alloc.Ptr(8), p1)
	require.Equal(t, alloc.Ptr(24), p2)
	require.Equal(t, alloc.Ptr(40), p3) // 32 byte block at 32
	require.Equal(t, uint32(32), b.BlockSize(p3))

	b.Free(p1)
	require.Equal(t, alloc.Ptr(8), b.Malloc(4))
}

type leaf struct {
	addr, size uint32
	used       bool
}

func leaves(b *Buddy) []leaf {
	var l []leaf
	b.Walk(func(addr, size uint32, allocated bool) {
		l = append(l, leaf{addr, size, allocated})
	})
	return l
}

func TestCoalesceMiddleFirstLast(t *testing.T) {
	// four 16 byte blocks fill the heap
	b, _ := newTestBuddy(t, 64, BDebug)
	var p [4]alloc.Ptr
	for i := range p {
		p[i] = b.Malloc(8)
		require.NotEqual(t, alloc.Null, p[i])
	}
	require.Equal(t, alloc.Null, b.Malloc(1))

	b.Free(p[1])
	require.Equal(t, []leaf{{0, 16, true}, {16, 16, false}, {32, 16, true}, {48, 16, true}}, leaves(b))
	b.Free(p[0])
	require.Equal(t, []leaf{{0, 32, false}, {32, 16, true}, {48, 16, true}}, leaves(b))
	b.Free(p[2])
	require.Equal(t, []leaf{{0, 32, false}, {32, 16, false}, {48, 16, true}}, leaves(b))

	// the three requests together fit again; blocks of different
	// subtrees never merge while p[3] holds its buddy
	q := b.Malloc(3 * 8)
	require.Equal(t, p[0], q)
	require.Equal(t, uint32(32), b.BlockSize(q))
	b.Free(q)

	// with the last block gone everything merges into the root
	b.Free(p[3])
	require.Equal(t, []leaf{{0, 64, false}}, leaves(b))
	q = b.Malloc(64 - b.HeaderSize())
	require.Equal(t, p[0], q)
	require.Equal(t, uint32(64), b.BlockSize(q))
	require.NoError(t, b.Check())
}

func TestFreeAllMergesToRoot(t *testing.T) {
	b, _ := newTestBuddy(t, 4096, BDefaultOptions)
	var ptrs []alloc.Ptr
	for {
		p := b.Malloc(24)
		if p == alloc.Null {
			break
		}
		ptrs = append(ptrs, p)
	}
	require.Len(t, ptrs, 4096/32)
	for i := len(ptrs) - 1; i >= 0; i -= 2 {
		b.Free(ptrs[i])
	}
	for i := 0; i < len(ptrs); i += 2 {
		b.Free(ptrs[i])
	}
	var blocks int
	b.Walk(func(addr, size uint32, allocated bool) {
		blocks++
		require.False(t, allocated)
		require.Equal(t, uint32(4096), size)
	})
	require.Equal(t, 1, blocks)
	require.Equal(t, alloc.MUsed{MaxRealUsed: 4096}, b.MUsage())
}

func TestCalloc(t *testing.T) {
	b, h := newTestBuddy(t, 1024, BDefaultOptions)
	p := b.Malloc(100)
	h.Fill(uint32(p), 100, 0xFF)
	b.Free(p)

	q := b.Calloc(100)
	require.Equal(t, p, q)
	for i := uint32(0); i < 100; i++ {
		require.Zero(t, h.U8(uint32(q)+i), "byte %d", i)
	}
	require.Equal(t, alloc.Null, b.Calloc(0))
	require.Equal(t, alloc.Null, b.Calloc(2048))
}

func TestDoubleFree(t *testing.T) {
	b, _ := newTestBuddy(t, 1024, BDebug)
	p1 := b.Malloc(8)
	p2 := b.Malloc(100)
	b.Malloc(30)

	b.Free(p1)
	snap, used := bitmapSnapshot(b), b.MUsage()
	b.Free(p1)
	require.Equal(t, snap, bitmapSnapshot(b))
	require.Equal(t, used, b.MUsage())

	b.Free(p2)
	snap, used = bitmapSnapshot(b), b.MUsage()
	b.Free(p2)
	b.Free(alloc.Null)
	b.Free(3)    // misaligned
	b.Free(4096) // outside
	require.Equal(t, snap, bitmapSnapshot(b))
	require.Equal(t, used, b.MUsage())
	require.NoError(t, b.Check())
}

type span struct {
	p    alloc.Ptr
	size uint32
	fill byte
}

func overlaps(a, b span) bool {
	return uint32(a.p) < uint32(b.p)+b.size && uint32(b.p) < uint32(a.p)+a.size
}

func TestRandomNoOverlap(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	b, h := newTestBuddy(t, 16*1024, BDefaultOptions)
	var live []span
	for i := 0; i < 5000; i++ {
		if len(live) > 0 && r.Intn(3) == 0 {
			k := r.Intn(len(live))
			s := live[k]
			for j := uint32(0); j < s.size; j++ {
				require.Equal(t, s.fill, h.U8(uint32(s.p)+j), "block %d corrupted", s.p)
			}
			b.Free(s.p)
			live = append(live[:k], live[k+1:]...)
		} else {
			n := uint32(r.Intn(600)) + 1
			p := b.Malloc(n)
			if p == alloc.Null {
				continue
			}
			s := span{p: p, size: n, fill: byte(i)}
			for _, o := range live {
				require.False(t, overlaps(s, o), "%v overlaps %v", s, o)
			}
			h.Fill(uint32(p), n, s.fill)
			live = append(live, s)
		}
		require.NoError(t, b.Check())
	}
}

func TestIterativeMatchesRecursive(t *testing.T) {
	rec, _ := newTestBuddy(t, 8*1024, BDefaultOptions)
	itr, _ := newTestBuddy(t, 8*1024, BIterative)
	require.True(t, itr.Iterative())
	require.False(t, rec.Iterative())

	r := rand.New(rand.NewSource(7))
	var live []alloc.Ptr
	for i := 0; i < 4000; i++ {
		if len(live) > 0 && r.Intn(5) < 2 {
			k := r.Intn(len(live))
			rec.Free(live[k])
			itr.Free(live[k])
			live = append(live[:k], live[k+1:]...)
		} else {
			n := uint32(r.Intn(300)) + 1
			p1 := rec.Malloc(n)
			p2 := itr.Malloc(n)
			require.Equal(t, p1, p2, "malloc(%d) step %d", n, i)
			if p1 != alloc.Null {
				live = append(live, p1)
			}
		}
		require.Equal(t, bitmapSnapshot(rec), bitmapSnapshot(itr), "step %d", i)
	}
	require.Equal(t, rec.MUsage(), itr.MUsage())
}

func TestBitmapToggle(t *testing.T) {
	h := heap.New(16)
	bm := bitmap{h: h, base: 4, size: 4}
	require.True(t, bm.free(5))
	bm.toggle(5, bitAlloc)
	require.True(t, bm.has(5, bitAlloc))
	require.False(t, bm.has(5, bitSplit))
	require.False(t, bm.free(5))
	require.True(t, bm.free(4))
	require.True(t, bm.free(6))
	// node 5, bit 1 is bit 11 of the bitmap
	require.Equal(t, uint8(1<<3), h.U8(5))
	bm.unset(5, bitAlloc)
	require.True(t, bm.free(5))
	bm.toggle(3, bitSplit)
	bm.reset()
	require.True(t, bm.free(3))
}
