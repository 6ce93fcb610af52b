// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package numcast_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattbasta/btype-sub001/numcast"
)

func TestIntToUint(t *testing.T) {
	assert.Equal(t, uint32(0), numcast.IntToUint(-1))
	assert.Equal(t, uint32(0), numcast.IntToUint(math.MinInt32))
	assert.Equal(t, uint32(0), numcast.IntToUint(0))
	assert.Equal(t, uint32(42), numcast.IntToUint(42))
	assert.Equal(t, uint32(math.MaxInt32), numcast.IntToUint(math.MaxInt32))
}

func TestUintToInt(t *testing.T) {
	assert.Equal(t, int32(0), numcast.UintToInt(0))
	assert.Equal(t, int32(math.MaxInt32), numcast.UintToInt(math.MaxInt32))
	assert.Equal(t, int32(math.MaxInt32), numcast.UintToInt(math.MaxInt32+1))
	assert.Equal(t, int32(math.MaxInt32), numcast.UintToInt(math.MaxUint32))
}

func TestFloatToUint(t *testing.T) {
	cases := []struct {
		in  float64
		out uint32
	}{
		{-0.5, 0},
		{-1e20, 0},
		{math.Inf(-1), 0},
		{math.NaN(), 0},
		{0.99, 0},
		{1.99, 1},
		{4294967295, math.MaxUint32},
		{4294967295.5, math.MaxUint32},
		{4294967296, math.MaxUint32},
		{math.Inf(1), math.MaxUint32},
	}
	for _, c := range cases {
		assert.Equal(t, c.out, numcast.FloatToUint(c.in), "FloatToUint(%v)", c.in)
	}
}

func TestFloatToInt(t *testing.T) {
	cases := []struct {
		in  float64
		out int32
	}{
		{math.NaN(), 0},
		{-1.99, -1},
		{1.99, 1},
		{-3e9, math.MinInt32},
		{3e9, math.MaxInt32},
		{math.Inf(-1), math.MinInt32},
	}
	for _, c := range cases {
		assert.Equal(t, c.out, numcast.FloatToInt(c.in), "FloatToInt(%v)", c.in)
	}
}
