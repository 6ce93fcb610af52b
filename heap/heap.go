// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package heap exposes one contiguous byte buffer through several
// fixed-width typed views (byte, 32-bit words, 32/64-bit floats).
//
// All accessors work on byte addresses. Word views behave like typed
// arrays laid over the buffer: the address is truncated to the alignment
// of the view, so U32(5) reads the word at address 4. No range checks are
// done besides the ones Go itself does; an out-of-range access is a bug in
// the caller.
package heap

import (
	"encoding/binary"
	"math"
)

// Heap is the backing buffer of an allocator.
type Heap struct {
	mem   []byte
	unmap func([]byte) error // set for mapped heaps
}

// New returns a heap backed by a zeroed Go slice of size bytes.
func New(size uint32) *Heap {
	return &Heap{mem: make([]byte, size)}
}

// FromBytes wraps an existing buffer. The heap aliases mem.
func FromBytes(mem []byte) *Heap {
	return &Heap{mem: mem}
}

// Len returns the size of the backing buffer in bytes.
func (h *Heap) Len() uint32 { return uint32(len(h.mem)) }

// Mapped returns true if the heap memory comes from mmap.
func (h *Heap) Mapped() bool { return h.unmap != nil }

// Close releases mapped memory. It is a no-op for slice backed heaps.
func (h *Heap) Close() error {
	if h.unmap == nil {
		return nil
	}
	err := h.unmap(h.mem)
	h.mem = nil
	h.unmap = nil
	return err
}

// U8 returns the byte at addr.
func (h *Heap) U8(addr uint32) uint8 { return h.mem[addr] }

// SetU8 stores the byte v at addr.
func (h *Heap) SetU8(addr uint32, v uint8) { h.mem[addr] = v }

// U32 returns the unsigned word containing addr.
func (h *Heap) U32(addr uint32) uint32 {
	addr &^= 3
	return binary.LittleEndian.Uint32(h.mem[addr : addr+4])
}

// SetU32 stores v in the word containing addr.
func (h *Heap) SetU32(addr uint32, v uint32) {
	addr &^= 3
	binary.LittleEndian.PutUint32(h.mem[addr:addr+4], v)
}

// I32 returns the word containing addr as a signed value.
func (h *Heap) I32(addr uint32) int32 { return int32(h.U32(addr)) }

// SetI32 stores the signed v in the word containing addr.
func (h *Heap) SetI32(addr uint32, v int32) { h.SetU32(addr, uint32(v)) }

// F32 returns the word containing addr as a float32.
func (h *Heap) F32(addr uint32) float32 { return math.Float32frombits(h.U32(addr)) }

// SetF32 stores the float32 v in the word containing addr.
func (h *Heap) SetF32(addr uint32, v float32) { h.SetU32(addr, math.Float32bits(v)) }

// F64 returns the 8 byte aligned float64 containing addr.
func (h *Heap) F64(addr uint32) float64 {
	addr &^= 7
	return math.Float64frombits(binary.LittleEndian.Uint64(h.mem[addr : addr+8]))
}

// SetF64 stores v in the 8 byte aligned float64 slot containing addr.
func (h *Heap) SetF64(addr uint32, v float64) {
	addr &^= 7
	binary.LittleEndian.PutUint64(h.mem[addr:addr+8], math.Float64bits(v))
}

// Bytes returns the n bytes starting at addr. The slice aliases the heap.
func (h *Heap) Bytes(addr, n uint32) []byte {
	return h.mem[addr : addr+n : addr+n]
}

// Zero clears n bytes starting at addr.
func (h *Heap) Zero(addr, n uint32) {
	clear(h.mem[addr : addr+n])
}

// Fill sets n bytes starting at addr to v.
func (h *Heap) Fill(addr, n uint32, v byte) {
	b := h.mem[addr : addr+n]
	for i := range b {
		b[i] = v
	}
}
