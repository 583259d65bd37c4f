// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package timing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReader_SkipsMalformedLine(t *testing.T) {
	in := "slow,64,0.002\nbogus-line\ntranspose,64,0.004\n"

	log, err := ParseReader(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{Method: "slow", Size: 64, Seconds: 0.002},
		{Method: "transpose", Size: 64, Seconds: 0.004},
	}, log.Records)
	assert.Equal(t, 1, log.Skipped)
}

func TestParseReader_SkipsOverlongLine(t *testing.T) {
	in := "slow,64,0.002\n" + strings.Repeat("x", 2<<20) + "\ntranspose,64,0.004\n"

	log, err := ParseReader(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{Method: "slow", Size: 64, Seconds: 0.002},
		{Method: "transpose", Size: 64, Seconds: 0.004},
	}, log.Records)
	assert.Equal(t, 1, log.Skipped)
}

func TestParseReader_OverlongFinalLineWithoutNewline(t *testing.T) {
	in := "slow,64,0.002\n" + strings.Repeat("9", MaxLineBytes+10)

	log, err := ParseReader(strings.NewReader(in))
	require.NoError(t, err)
	assert.Len(t, log.Records, 1)
	assert.Equal(t, 1, log.Skipped)
}

func TestParseReader_CRLF(t *testing.T) {
	log, err := ParseReader(strings.NewReader("slow,64,0.002\r\nsimd,64,0.001"))
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{Method: "slow", Size: 64, Seconds: 0.002},
		{Method: "simd", Size: 64, Seconds: 0.001},
	}, log.Records)
	assert.Zero(t, log.Skipped)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
		want Record
	}{
		{"SLOW,32,0.000123", true, Record{"SLOW", 32, 0.000123}},
		{"  block , 128 , 1.5  ", true, Record{"block", 128, 1.5}},
		{"simd,2048,0", true, Record{"simd", 2048, 0}},
		{"simd,2048,1e-3", true, Record{"simd", 2048, 0.001}},
		{"MEAN_ERROR 0.0", false, Record{}},
		{"a,b", false, Record{}},
		{"a,1,2,3", false, Record{}},
		{",64,0.1", false, Record{}},
		{"slow,64.5,0.1", false, Record{}},
		{"slow,0,0.1", false, Record{}},
		{"slow,-4,0.1", false, Record{}},
		{"slow,64,fast", false, Record{}},
		{"slow,64,-0.1", false, Record{}},
		{"slow,64,NaN", false, Record{}},
		{"slow,64,+Inf", false, Record{}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ParseLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseReader_KeepsDuplicatesAndIgnoresBlankLines(t *testing.T) {
	in := "slow,64,0.3\n\nslow,64,0.2\r\nslow,64,0.1"

	log, err := ParseReader(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, log.Records, 3)
	assert.Equal(t, 0.1, log.Records[2].Seconds)
	assert.Zero(t, log.Skipped)
}

func TestParse_MissingFileIsEmpty(t *testing.T) {
	log, err := Parse(filepath.Join(t.TempDir(), "none.log"))
	require.NoError(t, err)
	assert.Empty(t, log.Records)
}

func TestSharedLog_TruncateOffsetReadSince(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "timings.log")
	l := NewSharedLog(path)

	off, err := l.Offset()
	require.NoError(t, err)
	assert.Zero(t, off)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("stale,32,9\n"), 0644))
	require.NoError(t, l.Truncate())

	off, err = l.Offset()
	require.NoError(t, err)
	assert.Zero(t, off)

	appendLine(t, path, "slow,32,0.5\n")
	mark, err := l.Offset()
	require.NoError(t, err)
	appendLine(t, path, "block,32,0.25\n")

	since, err := l.ReadSince(mark)
	require.NoError(t, err)
	assert.Equal(t, []Record{{"block", 32, 0.25}}, since.Records)

	all, err := l.Parse()
	require.NoError(t, err)
	assert.Len(t, all.Records, 2)
}

func TestSharedLog_TruncateCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "t.log")
	require.NoError(t, NewSharedLog(path).Truncate())
	assert.FileExists(t, path)
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(line)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
