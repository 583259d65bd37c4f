// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRows(t *testing.T, rows [][]uint32) *matrix.Matrix {
	t.Helper()
	m, err := matrix.FromRows(rows)
	require.NoError(t, err)
	return m
}

func writeMatrix(t *testing.T, dir, name string, m *matrix.Matrix) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, matrix.WriteFile(path, m))
	return path
}

func TestMeanAbsoluteError_Example(t *testing.T) {
	ref := mustRows(t, [][]uint32{{4, 6}, {8, 2}})
	cand := mustRows(t, [][]uint32{{4, 7}, {8, 0}})

	mae, err := MeanAbsoluteError(ref, cand)
	require.NoError(t, err)
	assert.Equal(t, 0.75, mae)
}

func TestMeanAbsoluteError_Reflexive(t *testing.T) {
	m := matrix.New(33)
	for i := range m.Data {
		m.Data[i] = uint32(i * 7919)
	}
	mae, err := MeanAbsoluteError(m, m)
	require.NoError(t, err)
	assert.Zero(t, mae)
}

func TestMeanAbsoluteError_NoUnsignedWrap(t *testing.T) {
	ref := mustRows(t, [][]uint32{{0xFFFFFFFF}})
	cand := mustRows(t, [][]uint32{{0}})

	mae, err := MeanAbsoluteError(ref, cand)
	require.NoError(t, err)
	assert.Equal(t, float64(0xFFFFFFFF), mae)
}

func TestMeanAbsoluteError_DimensionMismatch(t *testing.T) {
	_, err := MeanAbsoluteError(matrix.New(2), matrix.New(3))
	assert.ErrorIs(t, err, bench.ErrDimensionMismatch)
}

func TestCompareFiles(t *testing.T) {
	dir := t.TempDir()
	ref := writeMatrix(t, dir, "ref.dat", mustRows(t, [][]uint32{{4, 6}, {8, 2}}))
	cand := writeMatrix(t, dir, "cand.dat", mustRows(t, [][]uint32{{4, 7}, {8, 0}}))

	mae, err := CompareFiles(context.Background(), ref, cand)
	require.NoError(t, err)
	assert.Equal(t, 0.75, mae)
}

func TestCompareFiles_DimensionMismatchNamesCandidate(t *testing.T) {
	dir := t.TempDir()
	ref := writeMatrix(t, dir, "ref.dat", matrix.New(2))
	cand := writeMatrix(t, dir, "cand.dat", matrix.New(3))

	_, err := CompareFiles(context.Background(), ref, cand)
	require.ErrorIs(t, err, bench.ErrDimensionMismatch)
	assert.Contains(t, err.Error(), cand)
}

func TestCompareFiles_FormatError(t *testing.T) {
	dir := t.TempDir()
	ref := writeMatrix(t, dir, "ref.dat", matrix.New(2))
	bad := filepath.Join(dir, "bad.dat")
	require.NoError(t, os.WriteFile(bad, []byte("2\n1 2 x 4\n"), 0644))

	_, err := CompareFiles(context.Background(), ref, bad)
	require.ErrorIs(t, err, bench.ErrFormat)
	assert.Contains(t, err.Error(), bad)
}

func TestVerifier_Check(t *testing.T) {
	dir := t.TempDir()
	ref := writeMatrix(t, dir, "ref.dat", mustRows(t, [][]uint32{{4, 6}, {8, 2}}))
	cand := writeMatrix(t, dir, "cand.dat", mustRows(t, [][]uint32{{4, 7}, {8, 0}}))

	tests := []struct {
		tolerance float64
		pass      bool
	}{
		{DefaultTolerance, false},
		{0.75, true},
		{1, true},
		{-3, false},
	}
	for _, tt := range tests {
		res, err := NewVerifier(tt.tolerance).Check(context.Background(), "block", 2, ref, cand)
		require.NoError(t, err)
		assert.Equal(t, tt.pass, res.Pass, "tolerance %v", tt.tolerance)
		assert.Equal(t, "block", res.Kernel)
		assert.Equal(t, 2, res.Size)
		assert.Equal(t, 0.75, res.MeanAbsoluteError)
	}
}

func TestVerifier_CheckMissingCandidate(t *testing.T) {
	dir := t.TempDir()
	ref := writeMatrix(t, dir, "ref.dat", matrix.New(2))

	_, err := NewVerifier(0).Check(context.Background(), "slow", 2, ref, filepath.Join(dir, "none.dat"))
	assert.Error(t, err)
}

func TestFailed(t *testing.T) {
	results := []Result{{Kernel: "a", Pass: true}, {Kernel: "b"}, {Kernel: "c", Pass: true}}
	assert.Equal(t, []Result{{Kernel: "b"}}, Failed(results))
}
