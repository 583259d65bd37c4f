// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package matrix

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/AleutianAI/matbench/services/bench"
)

const (
	// chunkValues is the number of values serialized per buffered write.
	chunkValues = 1024

	// writeBufferSize bounds the memory held by the encoder.
	writeBufferSize = 64 * 1024

	// initialValues caps the decoder's up-front allocation.
	initialValues = 1 << 20
)

// -----------------------------------------------------------------------------
// Encoding
// -----------------------------------------------------------------------------

// Encode writes m to w in the matrix file format.
//
// Description:
//
//	Writes N on its own line followed by the N² values separated by single
//	spaces and a trailing newline. Values are formatted into a fixed-size
//	scratch buffer chunkValues at a time, so memory use does not grow with N².
//
// Inputs:
//   - w: Destination. Not closed by Encode.
//   - m: Matrix to encode. Must have len(Data) == N*N.
//
// Outputs:
//   - error: Non-nil on an invalid matrix or a write failure.
func Encode(w io.Writer, m *Matrix) error {
	if m == nil || m.N <= 0 || len(m.Data) != m.N*m.N {
		return &bench.Error{Kind: bench.ErrFormat, Op: "encode", Message: "matrix has inconsistent dimension"}
	}

	bw := bufio.NewWriterSize(w, writeBufferSize)
	if _, err := fmt.Fprintf(bw, "%d\n", m.N); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	// Worst case per value: 10 digits plus a separator.
	scratch := make([]byte, 0, chunkValues*11)
	for start := 0; start < len(m.Data); start += chunkValues {
		end := min(start+chunkValues, len(m.Data))
		scratch = scratch[:0]
		for i := start; i < end; i++ {
			if i > 0 {
				scratch = append(scratch, ' ')
			}
			scratch = strconv.AppendUint(scratch, uint64(m.Data[i]), 10)
		}
		if _, err := bw.Write(scratch); err != nil {
			return fmt.Errorf("write values: %w", err)
		}
	}
	if err := bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("write values: %w", err)
	}
	return bw.Flush()
}

// WriteFile encodes m into path.
//
// The matrix is written to a temporary file in the same directory and renamed
// into place, so an interrupted write never leaves a truncated matrix behind
// for the corpus cache to pick up.
func WriteFile(path string, m *Matrix) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = Encode(tmp, m); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Decoding
// -----------------------------------------------------------------------------

// Decode reads one matrix from r.
//
// Description:
//
//	Reads the header token as the dimension N and then exactly N² value
//	tokens. Tokens are whitespace-delimited, so runs of spaces, trailing
//	separators and line breaks are all accepted.
//
// Outputs:
//   - *Matrix: The decoded matrix. Nil on error; no partial matrix is returned.
//   - error: A *bench.Error of kind ErrFormat for a bad header, a
//     non-numeric or out-of-range token, or a token count other than N².
//     I/O errors are returned wrapped.
func Decode(r io.Reader) (*Matrix, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		return nil, formatError("missing dimension header")
	}
	header := sc.Text()
	n, err := strconv.Atoi(header)
	if err != nil || n <= 0 {
		return nil, formatError("invalid dimension header %q", header)
	}
	if n > MaxDimension {
		return nil, formatError("dimension %d exceeds the maximum of %d", n, MaxDimension)
	}

	// Storage grows with the values actually read, so a header that
	// overstates N costs nothing before the count check fails.
	want := n * n
	data := make([]uint32, 0, min(want, initialValues))
	for sc.Scan() {
		if len(data) == want {
			return nil, formatError("more than %d values for dimension %d", want, n)
		}
		tok := sc.Text()
		v, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			return nil, formatError("value %d is not an unsigned 32-bit integer: %q", len(data), tok)
		}
		data = append(data, uint32(v))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read values: %w", err)
	}
	if len(data) != want {
		return nil, formatError("got %d values, want %d for dimension %d", len(data), want, n)
	}
	return &Matrix{N: n, Data: data}, nil
}

// ReadFile decodes the matrix stored at path. Format errors carry the path.
func ReadFile(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open matrix %s: %w", path, err)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		var be *bench.Error
		if errors.As(err, &be) {
			be.Path = path
			return nil, be
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return m, nil
}

func formatError(format string, args ...any) error {
	return &bench.Error{Kind: bench.ErrFormat, Op: "decode", Message: fmt.Sprintf(format, args...)}
}
