// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package matrix implements the square matrix type exchanged with kernels and
// its flat text file format.
//
// A matrix file holds the dimension N on the first line followed by N²
// whitespace-separated decimal unsigned integers in row-major order. The
// token stream may span any number of physical lines.
package matrix

import "fmt"

// MaxDimension is the largest N a matrix file may declare. It keeps N² well
// inside int and bounds what a corrupt header can make Decode allocate.
const MaxDimension = 1 << 15

// Matrix is a square N×N grid of unsigned 32-bit values in row-major order.
type Matrix struct {
	N    int
	Data []uint32
}

// New allocates a zeroed n×n matrix. It panics if n is not positive.
func New(n int) *Matrix {
	if n <= 0 {
		panic(fmt.Sprintf("matrix: invalid dimension %d", n))
	}
	return &Matrix{N: n, Data: make([]uint32, n*n)}
}

// FromRows builds a matrix from row slices. All rows must have len(rows)
// entries.
func FromRows(rows [][]uint32) (*Matrix, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("matrix: no rows")
	}
	m := New(n)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("matrix: row %d has %d values, want %d", i, len(row), n)
		}
		copy(m.Data[i*n:(i+1)*n], row)
	}
	return m, nil
}

// At returns the value at row i, column j.
func (m *Matrix) At(i, j int) uint32 {
	return m.Data[i*m.N+j]
}

// Set stores v at row i, column j.
func (m *Matrix) Set(i, j int, v uint32) {
	m.Data[i*m.N+j] = v
}

// Row returns row i as a slice sharing the matrix storage.
func (m *Matrix) Row(i int) []uint32 {
	return m.Data[i*m.N : (i+1)*m.N]
}

// Equal reports whether both matrices have the same dimension and values.
func (m *Matrix) Equal(other *Matrix) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.N != other.N || len(m.Data) != len(other.Data) {
		return false
	}
	for i := range m.Data {
		if m.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}
