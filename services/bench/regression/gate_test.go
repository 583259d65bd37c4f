// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regression

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/AleutianAI/matbench/services/bench/history"
	"github.com/AleutianAI/matbench/services/bench/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sessionWith(id string, points map[Point]float64) *history.Session {
	s := &history.Session{ID: id}
	for p, secs := range points {
		s.Summaries = append(s.Summaries, report.Summary{Method: p.Method, Size: p.Size, Runs: 1, Seconds: secs})
	}
	return s
}

func TestPercentChange(t *testing.T) {
	assert.InDelta(t, 50.0, percentChange(2, 3), 1e-9)
	assert.InDelta(t, -25.0, percentChange(4, 3), 1e-9)
	assert.Equal(t, 0.0, percentChange(0, 5))
}

func TestGate_Compare(t *testing.T) {
	base := sessionWith("base", map[Point]float64{
		{"SLOW", 64}:      1.0,
		{"SLOW", 128}:     8.0,
		{"TRANSPOSE", 64}: 0.5,
		{"BLOCK", 64}:     0.2,
	})
	cand := sessionWith("cand", map[Point]float64{
		{"SLOW", 64}:      1.05,
		{"SLOW", 128}:     10.0,
		{"TRANSPOSE", 64}: 0.25,
		{"SIMD", 64}:      0.01,
	})

	d, err := NewGate(WithGateLogger(quietLogger())).Compare(context.Background(), base, cand)
	require.ErrorIs(t, err, ErrGateFailed)
	require.NotNil(t, d)

	assert.False(t, d.Pass)
	require.Len(t, d.Regressions, 1)
	assert.Equal(t, "SLOW", d.Regressions[0].Method)
	assert.Equal(t, 128, d.Regressions[0].Size)
	assert.InDelta(t, 25.0, d.Regressions[0].ChangePct, 1e-9)

	require.Len(t, d.Improvements, 1)
	assert.Equal(t, "TRANSPOSE", d.Improvements[0].Method)
	assert.Equal(t, 1, d.Unchanged)
	assert.Equal(t, []Point{{"BLOCK", 64}}, d.Missing)
	assert.Equal(t, []Point{{"SIMD", 64}}, d.Added)

	out := d.Report()
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "slower")
	assert.Contains(t, out, "+25.0%")
}

func TestGate_AllowedRegressionsAndThreshold(t *testing.T) {
	base := sessionWith("a", map[Point]float64{{"SLOW", 64}: 1.0})
	cand := sessionWith("b", map[Point]float64{{"SLOW", 64}: 1.3})

	d, err := NewGate(WithGateLogger(quietLogger()), WithAllowedRegressions(1)).Compare(context.Background(), base, cand)
	require.NoError(t, err)
	assert.True(t, d.Pass)

	d, err = NewGate(WithGateLogger(quietLogger()), WithThreshold(50)).Compare(context.Background(), base, cand)
	require.NoError(t, err)
	assert.Empty(t, d.Regressions)
	assert.Equal(t, 1, d.Unchanged)
}

func TestGate_FailOnMissing(t *testing.T) {
	base := sessionWith("a", map[Point]float64{{"SLOW", 64}: 1.0, {"SLOW", 128}: 2.0})
	cand := sessionWith("b", map[Point]float64{{"SLOW", 64}: 1.0})

	d, err := NewGate(WithGateLogger(quietLogger())).Compare(context.Background(), base, cand)
	require.NoError(t, err)
	assert.True(t, d.Pass)

	_, err = NewGate(WithGateLogger(quietLogger()), WithFailOnMissing(true)).Compare(context.Background(), base, cand)
	assert.ErrorIs(t, err, ErrGateFailed)
}
