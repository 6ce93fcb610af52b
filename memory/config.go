// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package memory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattbasta/btype-sub001/buddy"
	"github.com/mattbasta/btype-sub001/chain"
	"github.com/mattbasta/btype-sub001/heap"
)

var ErrUnknownStrategy = errors.New("memory: unknown allocator strategy")

// Strategy selects the allocator backing a Memory.
type Strategy uint8

const (
	Buddy Strategy = iota // bitmap indexed buddy allocator
	Chain                 // first-fit free list allocator
)

func (s Strategy) String() string {
	switch s {
	case Buddy:
		return "buddy"
	case Chain:
		return "chain"
	}
	return fmt.Sprintf("Strategy(%d)", uint8(s))
}

// ParseStrategy returns the strategy named s ("buddy" or "chain").
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buddy":
		return Buddy, nil
	case "chain":
		return Chain, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// Config is fixed when a Memory is created.
type Config struct {
	Strategy Strategy
	Layout   heap.Layout
	// Mapped backs the heap with an anonymous mmap instead of a Go slice.
	Mapped bool
	// Debug turns on allocator self checks and logging of ignored frees.
	Debug bool
	// Iterative makes the buddy search use an explicit stack.
	Iterative bool
	// ForwardOnly makes the chain allocator join freed blocks only with
	// the block after them.
	ForwardOnly bool
}

// DefaultConfig is a buddy allocator over heap.DefaultLayout.
var DefaultConfig = Config{Strategy: Buddy, Layout: heap.DefaultLayout}

// HeapBytes returns the size of the backing buffer needed for c.
func (c Config) HeapBytes() uint32 {
	if c.Strategy == Buddy {
		return c.Layout.HeapSize + c.Layout.BuddySpace()
	}
	return c.Layout.HeapSize
}

func (c Config) buddyOptions() buddy.Options {
	o := buddy.BDefaultOptions
	if c.Debug {
		o |= buddy.BDebug
	}
	if c.Iterative {
		o |= buddy.BIterative
	}
	return o
}

func (c Config) chainOptions() chain.Options {
	o := chain.CDefaultOptions
	if c.Debug {
		o |= chain.CDebug
	}
	if c.ForwardOnly {
		o |= chain.CForwardOnly
	}
	return o
}
