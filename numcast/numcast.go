// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package numcast provides the saturating conversions used by generated
// code when a value crosses between the signed, unsigned and floating
// point types of the target. All conversions are total.
package numcast

import "math"

// IntToUint converts v to uint32, negative values become 0.
func IntToUint(v int32) uint32 {
	if v < 0 {
		return 0
	}
	return uint32(v)
}

// UintToInt converts v to int32, values above MaxInt32 become MaxInt32.
func UintToInt(v uint32) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

// FloatToUint truncates v toward zero and clamps it to [0, MaxUint32].
// NaN becomes 0.
func FloatToUint(v float64) uint32 {
	switch {
	case v != v, v < 0:
		return 0
	case v > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(v)
}

// FloatToInt truncates v toward zero and clamps it to [MinInt32, MaxInt32].
// NaN becomes 0.
func FloatToInt(v float64) int32 {
	switch {
	case v != v:
		return 0
	case v < math.MinInt32:
		return math.MinInt32
	case v > math.MaxInt32:
		return math.MaxInt32
	}
	return int32(v)
}
