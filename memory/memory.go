// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package memory is the runtime memory manager as seen by generated code:
// one heap, one allocator strategy chosen at configuration time, the
// reference counting layer, boxed function references and the numeric
// casts.
package memory

import (
	"github.com/mattbasta/btype-sub001/alloc"
	"github.com/mattbasta/btype-sub001/buddy"
	"github.com/mattbasta/btype-sub001/chain"
	"github.com/mattbasta/btype-sub001/heap"
	"github.com/mattbasta/btype-sub001/numcast"
	"github.com/mattbasta/btype-sub001/refcount"
)

// strategy is what Memory needs from an allocator besides alloc.Allocator.
type strategy interface {
	alloc.Allocator
	MUsage() alloc.MUsed
	Available() uint64
	Check() error
	Walk(fn func(addr, size uint32, allocated bool))
}

var (
	_ strategy = (*buddy.Buddy)(nil)
	_ strategy = (*chain.Chain)(nil)
)

// Memory is a heap with its allocator. It is not safe for concurrent use.
type Memory struct {
	cfg   Config
	heap  *heap.Heap
	alloc strategy
	rc    *refcount.Counter
}

// New creates the heap and allocator described by cfg.
func New(cfg Config) (*Memory, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	var h *heap.Heap
	if cfg.Mapped {
		var err error
		if h, err = heap.NewMapped(cfg.HeapBytes()); err != nil {
			return nil, err
		}
	} else {
		h = heap.New(cfg.HeapBytes())
	}
	m := &Memory{cfg: cfg, heap: h}
	var err error
	switch cfg.Strategy {
	case Buddy:
		m.alloc, err = buddy.New(h, cfg.Layout, cfg.buddyOptions())
	case Chain:
		m.alloc, err = chain.New(h, cfg.Layout, cfg.chainOptions())
	default:
		err = ErrUnknownStrategy
	}
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	m.rc = refcount.New(h, m.alloc)
	if cfg.Debug {
		DBG("%s heap ready: %s mapped=%v\n", cfg.Strategy, cfg.Layout, h.Mapped())
	}
	return m, nil
}

// Close releases the heap memory if it is mapped.
func (m *Memory) Close() error { return m.heap.Close() }

// Config returns the configuration m was created with.
func (m *Memory) Config() Config { return m.cfg }

// Heap returns the heap views.
func (m *Memory) Heap() *heap.Heap { return m.heap }

// Counter returns the reference counting layer.
func (m *Memory) Counter() *refcount.Counter { return m.rc }

// Stats returns the allocator memory usage.
func (m *Memory) Stats() alloc.MUsed { return m.alloc.MUsage() }

// Available returns the free bytes of the heap.
func (m *Memory) Available() uint64 { return m.alloc.Available() }

// Check verifies the allocator bookkeeping.
func (m *Memory) Check() error { return m.alloc.Check() }

// Walk calls fn for every block of the heap in address order.
func (m *Memory) Walk(fn func(addr, size uint32, allocated bool)) { m.alloc.Walk(fn) }

// Malloc returns size bytes of heap or alloc.Null.
func (m *Memory) Malloc(size uint32) alloc.Ptr { return m.alloc.Malloc(size) }

// Calloc returns size zeroed bytes of heap or alloc.Null.
func (m *Memory) Calloc(size uint32) alloc.Ptr { return m.alloc.Calloc(size) }

// Free releases p. Null and already freed pointers are ignored.
func (m *Memory) Free(p alloc.Ptr) { m.alloc.Free(p) }

// New allocates a managed object with a reference count of 1.
func (m *Memory) New(shape, size uint32) alloc.Ptr { return m.rc.New(shape, size) }

// Ref adds an owner to the object p and returns p.
func (m *Memory) Ref(p alloc.Ptr) alloc.Ptr { return m.rc.Ref(p) }

// Deref drops an owner of p, freeing it when none are left.
func (m *Memory) Deref(p alloc.Ptr) { m.rc.Deref(p) }

// Get returns the reference count of p.
func (m *Memory) Get(p alloc.Ptr) uint32 { return m.rc.Get(p) }

// IntToUint is numcast.IntToUint.
func (m *Memory) IntToUint(v int32) uint32 { return numcast.IntToUint(v) }

// UintToInt is numcast.UintToInt.
func (m *Memory) UintToInt(v uint32) int32 { return numcast.UintToInt(v) }

// FloatToUint is numcast.FloatToUint.
func (m *Memory) FloatToUint(v float64) uint32 { return numcast.FloatToUint(v) }

// FloatToInt is numcast.FloatToInt.
func (m *Memory) FloatToInt(v float64) int32 { return numcast.FloatToInt(v) }
