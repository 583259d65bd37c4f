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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SharedLog is the append-only log kernels write their timing lines to.
//
// Description:
//
//	The harness never writes timing lines itself. It truncates the log once
//	at session start, then only reads. Kernels run one at a time, so the
//	harness holds no lock on the file.
type SharedLog struct {
	Path string
}

// NewSharedLog returns a handle for the log at path.
func NewSharedLog(path string) *SharedLog {
	return &SharedLog{Path: path}
}

// Truncate empties the log, creating it and its directory when missing.
func (l *SharedLog) Truncate() error {
	if dir := filepath.Dir(l.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("truncate timing log: %w", err)
	}
	return f.Close()
}

// Offset returns the current size of the log; zero when it does not exist.
func (l *SharedLog) Offset() (int64, error) {
	info, err := os.Stat(l.Path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat timing log: %w", err)
	}
	return info.Size(), nil
}

// ReadSince parses the lines appended after offset.
func (l *SharedLog) ReadSince(offset int64) (Log, error) {
	f, err := os.Open(l.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Log{}, nil
	}
	if err != nil {
		return Log{}, fmt.Errorf("open timing log: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return Log{}, fmt.Errorf("seek timing log: %w", err)
	}
	return ParseReader(f)
}

// Parse parses the whole log.
func (l *SharedLog) Parse() (Log, error) {
	return Parse(l.Path)
}
