// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bench holds the error kinds shared by the matbench pipeline.
//
// Every stage (codec, planner, corpus, orchestrator, aggregator, verifier,
// exporter) reports failures as a *Error whose Kind is one of the sentinel
// values below, so callers can branch with errors.Is while still printing
// the full context (command, file, size) needed to reproduce a failure.
package bench

import (
	"errors"
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Error Kinds
// -----------------------------------------------------------------------------

var (
	// ErrConfiguration is returned for an empty size sweep or an invalid
	// option combination. It is always raised before any file is written.
	ErrConfiguration = errors.New("configuration error")

	// ErrFormat is returned when a matrix file is malformed.
	ErrFormat = errors.New("matrix format error")

	// ErrMissingBinary is returned when a registered kernel's executable
	// does not exist.
	ErrMissingBinary = errors.New("kernel binary missing")

	// ErrProcessFailure is returned when a child process exits non-zero or
	// cannot be launched.
	ErrProcessFailure = errors.New("process failed")

	// ErrNotFound is returned when a kernel name is not registered or a stored
	// session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch is returned when a candidate matrix does not have
	// the reference dimension.
	ErrDimensionMismatch = errors.New("matrix dimension mismatch")

	// ErrMethodMismatch is returned when method checking is enabled and a
	// kernel's self-reported log line does not match the invoked kernel.
	ErrMethodMismatch = errors.New("kernel reported unexpected method")

	// ErrEmptyResult is returned when aggregation produced no timing records.
	ErrEmptyResult = errors.New("no timing records collected")
)

// -----------------------------------------------------------------------------
// Contextual Error
// -----------------------------------------------------------------------------

// Error carries an error kind together with the context needed to diagnose
// it. Zero-valued context fields are omitted from the message.
type Error struct {
	// Kind is one of the sentinel errors of this package.
	Kind error

	// Op names the operation that failed (e.g. "decode", "invoke").
	Op string

	// Path is the file involved, if any.
	Path string

	// Kernel is the kernel name involved, if any.
	Kernel string

	// Size is the problem size involved, if any.
	Size int

	// Command is the exact argv that was executed, if any.
	Command []string

	// Message is a human-readable detail.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	if e.Kind != nil {
		sb.WriteString(e.Kind.Error())
	} else {
		sb.WriteString("matbench error")
	}
	if e.Op != "" {
		fmt.Fprintf(&sb, " in %s", e.Op)
	}
	if e.Message != "" {
		fmt.Fprintf(&sb, ": %s", e.Message)
	}

	var ctx []string
	if e.Kernel != "" {
		ctx = append(ctx, "kernel="+e.Kernel)
	}
	if e.Size > 0 {
		ctx = append(ctx, fmt.Sprintf("size=%d", e.Size))
	}
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if len(e.Command) > 0 {
		ctx = append(ctx, fmt.Sprintf("command=%q", strings.Join(e.Command, " ")))
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// Configurationf builds an ErrConfiguration error for op.
func Configurationf(op, format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the sentinel kind of err, or nil if err carries none.
func KindOf(err error) error {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	for _, kind := range []error{
		ErrConfiguration, ErrFormat, ErrMissingBinary, ErrProcessFailure,
		ErrNotFound, ErrDimensionMismatch, ErrMethodMismatch, ErrEmptyResult,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
