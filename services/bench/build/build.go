// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package build produces kernel binaries by running make in the kernel
// source tree.
package build

import (
	"context"
	"io"
	"log/slog"

	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/orchestrator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "matbench.build"

// Builder runs the external build step.
type Builder struct {
	// Dir is the directory make runs in.
	Dir string

	// Command is the build tool. Empty means "make".
	Command string

	// Targets are passed to the build tool. Empty builds the default target.
	Targets []string

	Stdout io.Writer
	Stderr io.Writer

	pm     orchestrator.ProcessManager
	logger *slog.Logger
}

// New creates a Builder for dir.
func New(pm orchestrator.ProcessManager, dir string) *Builder {
	return &Builder{Dir: dir, Command: "make", pm: pm, logger: slog.Default()}
}

// SetLogger sets the logger for build progress.
func (b *Builder) SetLogger(logger *slog.Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Build runs the build tool once.
//
// Outputs:
//   - error: ErrProcessFailure with the command when the tool is missing or
//     exits nonzero.
func (b *Builder) Build(ctx context.Context) error {
	tool := b.Command
	if tool == "" {
		tool = "make"
	}
	cmd := orchestrator.Command{
		Path:   tool,
		Args:   b.Targets,
		Dir:    b.Dir,
		Stdout: b.Stdout,
		Stderr: b.Stderr,
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "build.Builder.Build",
		trace.WithAttributes(
			attribute.String("dir", b.Dir),
			attribute.String("command", cmd.String()),
		),
	)
	defer span.End()

	b.logger.Info("[build] building kernels", slog.String("dir", b.Dir), slog.String("command", cmd.String()))
	if err := b.pm.Run(ctx, cmd); err != nil {
		err = &bench.Error{
			Kind:    bench.ErrProcessFailure,
			Op:      "build",
			Path:    b.Dir,
			Command: cmd.Argv(),
			Message: "kernel build failed",
			Err:     err,
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		return err
	}
	span.SetStatus(codes.Ok, "built")
	return nil
}
