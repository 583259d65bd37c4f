// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sweep plans the ordered set of problem sizes exercised by a session.
package sweep

import (
	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/matrix"
)

const (
	// MinExponent and MaxExponent bound the power-of-two sweep: 2^5..2^11.
	MinExponent = 5
	MaxExponent = 11

	// DefaultMinSize and DefaultMaxSize cover the whole power-of-two range.
	DefaultMinSize = 1 << MinExponent
	DefaultMaxSize = 1 << MaxExponent
)

// Sweep is an ordered, de-duplicated, non-empty list of matrix dimensions.
type Sweep []int

// Plan computes the size sweep.
//
// Description:
//
//	When explicit sizes are given they are used verbatim, in the given order,
//	with repeated values dropped. Otherwise every power of two from 2^5 to
//	2^11 that lies within [minSize, maxSize] is returned in ascending order.
//
// Inputs:
//   - explicit: Caller-validated positive sizes. Overrides the bounds when non-empty.
//   - minSize, maxSize: Inclusive bounds for the power-of-two sweep.
//
// Outputs:
//   - Sweep: The planned sizes. Never empty on success.
//   - error: ErrConfiguration when no size is selected, or when an explicit
//     size is not positive or exceeds matrix.MaxDimension.
//
// Example:
//
//	sizes, err := sweep.Plan(nil, 32, 2048) // [32 64 128 256 512 1024 2048]
func Plan(explicit []int, minSize, maxSize int) (Sweep, error) {
	if len(explicit) > 0 {
		seen := make(map[int]bool, len(explicit))
		out := make(Sweep, 0, len(explicit))
		for _, n := range explicit {
			if n <= 0 {
				return nil, bench.Configurationf("plan", "matrix size must be positive, got %d", n)
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
		if largest := out.Max(); largest > matrix.MaxDimension {
			return nil, bench.Configurationf("plan", "matrix size %d exceeds the maximum of %d", largest, matrix.MaxDimension)
		}
		return out, nil
	}

	var out Sweep
	for p := MinExponent; p <= MaxExponent; p++ {
		n := 1 << p
		if n >= minSize && n <= maxSize {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, bench.Configurationf("plan",
			"no matrix sizes selected in [%d, %d]; check --min-size/--max-size/--sizes", minSize, maxSize)
	}
	return out, nil
}

// Max returns the largest size in the sweep.
func (s Sweep) Max() int {
	m := 0
	for _, n := range s {
		m = max(m, n)
	}
	return m
}
