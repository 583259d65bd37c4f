// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verify judges kernel output against the exact reference product.
//
// The judgment is a tolerant scalar, the mean absolute error over all
// elements. It flags systematic faults (wrong algorithm, overflow, a
// transposed operand) without demanding bitwise equality between kernels
// that reduce in different orders.
package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/matrix"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "matbench.verify"

// DefaultTolerance accepts only an exact match on average.
const DefaultTolerance = 0.0

// MeanAbsoluteError returns the mean of |cand - ref| over every element.
//
// Description:
//
//	Differences are taken as signed int64 so a candidate value below the
//	reference cannot wrap.
//
// Outputs:
//   - float64: The mean absolute error. Zero for identical matrices.
//   - error: ErrDimensionMismatch when the dimensions differ.
//
// Example:
//
//	// [[4,6],[8,2]] vs [[4,7],[8,0]] → (0+1+0+2)/4 = 0.75
func MeanAbsoluteError(ref, cand *matrix.Matrix) (float64, error) {
	if ref.N != cand.N || len(ref.Data) != len(cand.Data) {
		return 0, &bench.Error{
			Kind:    bench.ErrDimensionMismatch,
			Op:      "verify.MeanAbsoluteError",
			Message: fmt.Sprintf("reference is %dx%d, candidate is %dx%d", ref.N, ref.N, cand.N, cand.N),
		}
	}
	var sum uint64
	for i, r := range ref.Data {
		d := int64(cand.Data[i]) - int64(r)
		if d < 0 {
			d = -d
		}
		sum += uint64(d)
	}
	return float64(sum) / float64(len(ref.Data)), nil
}

// CompareFiles decodes both files concurrently and returns their mean
// absolute error.
//
// Outputs:
//   - float64: The mean absolute error.
//   - error: ErrFormat naming the bad file, ErrDimensionMismatch naming the
//     candidate, or an I/O error.
func CompareFiles(ctx context.Context, refPath, candPath string) (float64, error) {
	var ref, cand *matrix.Matrix

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ref, err = matrix.ReadFile(refPath)
		return err
	})
	g.Go(func() error {
		var err error
		cand, err = matrix.ReadFile(candPath)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	mae, err := MeanAbsoluteError(ref, cand)
	var be *bench.Error
	if errors.As(err, &be) {
		be.Path = candPath
	}
	return mae, err
}

// Result is the verdict for one kernel at one size.
type Result struct {
	Kernel            string  `json:"kernel"`
	Size              int     `json:"size"`
	MeanAbsoluteError float64 `json:"mean_absolute_error"`
	Tolerance         float64 `json:"tolerance"`
	Pass              bool    `json:"pass"`
}

// Verifier checks kernel products against references.
type Verifier struct {
	// Tolerance is the largest mean absolute error that still passes.
	Tolerance float64
}

// NewVerifier creates a Verifier. A negative tolerance is treated as zero.
func NewVerifier(tolerance float64) *Verifier {
	return &Verifier{Tolerance: max(tolerance, 0)}
}

// Check compares cand against ref for one kernel and size.
//
// Outputs:
//   - Result: The verdict. Pass is MeanAbsoluteError <= Tolerance.
//   - error: Decoding failures and dimension mismatches. A numeric
//     mismatch is a failing Result, not an error.
func (v *Verifier) Check(ctx context.Context, kernelName string, size int, ref, cand string) (Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "verify.Verifier.Check",
		trace.WithAttributes(
			attribute.String("kernel", kernelName),
			attribute.Int("size", size),
		),
	)
	defer span.End()

	mae, err := CompareFiles(ctx, ref, cand)
	if err != nil {
		var be *bench.Error
		if errors.As(err, &be) && be.Kernel == "" {
			be.Kernel, be.Size = kernelName, size
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
		return Result{}, err
	}

	res := Result{
		Kernel:            kernelName,
		Size:              size,
		MeanAbsoluteError: mae,
		Tolerance:         v.Tolerance,
		Pass:              mae <= v.Tolerance,
	}
	span.SetAttributes(
		attribute.Float64("mean_absolute_error", mae),
		attribute.Bool("pass", res.Pass),
	)
	span.SetStatus(codes.Ok, "verified")
	return res, nil
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Pass {
			out = append(out, r)
		}
	}
	return out
}
