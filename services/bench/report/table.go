// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report turns timing records into a CSV table, charts, and a
// terminal summary.
package report

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/AleutianAI/matbench/services/bench/timing"
)

// CSVHeader is the first row of every exported table.
var CSVHeader = []string{"method", "size", "seconds"}

// Row is one line of the exported table.
type Row struct {
	Method  string
	Size    int
	Seconds float64
}

// ToTable returns one row per record sorted by (method, size). Records with
// equal keys keep their log order.
func ToTable(records []timing.Record) []Row {
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = Row{Method: r.Method, Size: r.Size, Seconds: r.Seconds}
	}
	slices.SortStableFunc(rows, func(a, b Row) int {
		if c := cmp.Compare(a.Method, b.Method); c != 0 {
			return c
		}
		return cmp.Compare(a.Size, b.Size)
	})
	return rows
}

// WriteCSV writes rows with the method,size,seconds header. Seconds carry
// nine decimal places.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.Method, strconv.Itoa(r.Size), strconv.FormatFloat(r.Seconds, 'f', 9, 64)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes rows to path, creating its directory.
func WriteCSVFile(path string, rows []Row) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create csv directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close csv: %w", cerr)
		}
	}()
	if err := WriteCSV(f, rows); err != nil {
		return fmt.Errorf("write csv %s: %w", path, err)
	}
	return nil
}
