// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timing ingests the timing lines kernels append to the shared log.
//
// Malformed lines follow the skip-and-continue policy: they are counted and
// dropped, never reported as errors, so one misbehaving kernel cannot hide the
// results of the others.
package timing

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Record is one self-reported measurement.
type Record struct {
	Method  string  `json:"method"`
	Size    int     `json:"size"`
	Seconds float64 `json:"seconds"`
}

// Log is the result of parsing a timing log.
type Log struct {
	// Records holds every well-formed line in file order. Repeated
	// (method, size) pairs are kept as is.
	Records []Record

	// Skipped counts malformed lines.
	Skipped int
}

// ParseLine parses "method,size,seconds".
//
// Description:
//
//	The line must have exactly three comma-separated fields. Surrounding
//	whitespace is ignored. Size must be a positive integer and seconds a
//	finite number that is not negative. Anything else reports false.
//
// Example:
//
//	rec, ok := timing.ParseLine("slow,64,0.002") // {slow 64 0.002}, true
func ParseLine(line string) (Record, bool) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 3 {
		return Record{}, false
	}
	method := strings.TrimSpace(fields[0])
	if method == "" {
		return Record{}, false
	}
	size, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil || size <= 0 {
		return Record{}, false
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil || seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return Record{}, false
	}
	return Record{Method: method, Size: size, Seconds: seconds}, true
}

// MaxLineBytes is the longest line ParseReader considers. Longer lines are
// drained and counted as skipped.
const MaxLineBytes = 64 * 1024

// ParseReader parses every line read from r.
//
// Outputs:
//   - Log: Well-formed records and the malformed line count. Blank lines are
//     neither records nor counted as skipped. A line over MaxLineBytes is
//     skipped whole.
//   - error: Only read errors; malformed content never fails.
func ParseReader(r io.Reader) (Log, error) {
	var out Log
	br := bufio.NewReaderSize(r, MaxLineBytes)
	for {
		line, isPrefix, err := br.ReadLine()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read timing log: %w", err)
		}
		if isPrefix {
			out.Skipped++
			for isPrefix {
				if _, isPrefix, err = br.ReadLine(); errors.Is(err, io.EOF) {
					return out, nil
				} else if err != nil {
					return out, fmt.Errorf("read timing log: %w", err)
				}
			}
			continue
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		rec, ok := ParseLine(string(line))
		if !ok {
			out.Skipped++
			continue
		}
		out.Records = append(out.Records, rec)
	}
}

// Parse parses the log at path. A missing file yields an empty Log.
func Parse(path string) (Log, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Log{}, nil
	}
	if err != nil {
		return Log{}, fmt.Errorf("open timing log: %w", err)
	}
	defer f.Close()
	return ParseReader(f)
}
