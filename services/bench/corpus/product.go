// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"context"
	"fmt"
	"runtime"

	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/matrix"
	"golang.org/x/sync/errgroup"
)

// Multiply computes the exact product a×b.
//
// Description:
//
//	Each output row is accumulated in uint64 and narrowed to uint32 when
//	stored, matching the storage width kernels write. Inputs bounded by 255
//	cannot overflow the accumulator for any dimension below 2^47. Row bands
//	are computed in parallel; every row is owned by one goroutine, so the
//	result does not depend on scheduling.
//
// Inputs:
//   - ctx: Cancels the computation between rows.
//   - a, b: Square matrices of equal dimension.
//
// Outputs:
//   - *matrix.Matrix: The product.
//   - error: ErrDimensionMismatch, or the context error.
func Multiply(ctx context.Context, a, b *matrix.Matrix) (*matrix.Matrix, error) {
	if a.N != b.N {
		return nil, &bench.Error{
			Kind:    bench.ErrDimensionMismatch,
			Op:      "multiply",
			Message: fmt.Sprintf("A is %dx%d, B is %dx%d", a.N, a.N, b.N, b.N),
		}
	}
	n := a.N
	c := matrix.New(n)

	workers := min(runtime.GOMAXPROCS(0), n)
	band := (n + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += band {
		end := min(start+band, n)
		g.Go(func() error {
			acc := make([]uint64, n)
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				clear(acc)
				arow := a.Row(i)
				for k, aik := range arow {
					if aik == 0 {
						continue
					}
					w := uint64(aik)
					for j, bkj := range b.Row(k) {
						acc[j] += w * uint64(bkj)
					}
				}
				crow := c.Row(i)
				for j, v := range acc {
					crow[j] = uint32(v)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return c, nil
}
