// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package memory

import "github.com/mattbasta/btype-sub001/alloc"

// Box layout for function references and bound methods.
const (
	boxOffFunc = 0
	boxOffCtx  = alloc.WordSize
	BoxSize    = 2 * alloc.WordSize
)

// GetFuncRef boxes a function id with its context object. The context
// gains an owner, held by the box. A raw context block is promoted and
// then belongs to the box alone.
func (m *Memory) GetFuncRef(funcID uint32, ctx alloc.Ptr) alloc.Ptr {
	return m.box(funcID, ctx)
}

// GetBoundMethod boxes a method id with its receiver. The receiver gains
// an owner, held by the box.
func (m *Memory) GetBoundMethod(funcID uint32, self alloc.Ptr) alloc.Ptr {
	return m.box(funcID, self)
}

func (m *Memory) box(funcID uint32, obj alloc.Ptr) alloc.Ptr {
	p := m.alloc.Malloc(BoxSize)
	if p == alloc.Null {
		return p
	}
	m.heap.SetU32(uint32(p)+boxOffFunc, funcID)
	m.heap.SetU32(uint32(p)+boxOffCtx, uint32(obj))
	m.rc.Ref(obj)
	return p
}

// FuncID returns the function id stored in a box.
func (m *Memory) FuncID(box alloc.Ptr) uint32 {
	return m.heap.U32(uint32(box) + boxOffFunc)
}

// FuncContext returns the context or receiver stored in a box.
func (m *Memory) FuncContext(box alloc.Ptr) alloc.Ptr {
	return alloc.Ptr(m.heap.U32(uint32(box) + boxOffCtx))
}

// ReleaseBox frees a box and drops its owner of the boxed object.
func (m *Memory) ReleaseBox(box alloc.Ptr) {
	if box == alloc.Null {
		return
	}
	obj := m.FuncContext(box)
	m.alloc.Free(box)
	m.rc.Deref(obj)
}
