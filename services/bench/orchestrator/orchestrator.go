// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs every selected kernel against every planned size
// as an isolated child process.
//
// Each invocation is `<binary> <A> <B> <out> <log>`. The kernel computes the
// product and appends its own timing line to the shared log; the orchestrator
// only looks at the exit status. Invocations are strictly sequential so that
// kernels never contend for the machine while timing themselves.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/corpus"
	"github.com/AleutianAI/matbench/services/bench/kernel"
	"github.com/AleutianAI/matbench/services/bench/timing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "matbench.orchestrator"

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// Config holds orchestrator settings.
type Config struct {
	// BinDir resolves relative kernel binaries.
	BinDir string

	// OutputDir receives <kernel>_<n>.dat product files.
	OutputDir string

	// CheckMethods requires each invocation's log lines to name the invoked
	// kernel and size.
	CheckMethods bool

	// Stdout and Stderr receive kernel output.
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultConfig returns the layout of the bundled kernel build.
func DefaultConfig() Config {
	return Config{
		BinDir:    "build",
		OutputDir: "benchmark_outputs",
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}
}

// Option configures an Orchestrator.
type Option func(*Config)

// WithBinDir sets the directory relative binaries are resolved against.
func WithBinDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.BinDir = dir
		}
	}
}

// WithOutputDir sets the directory kernel products are written to.
func WithOutputDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.OutputDir = dir
		}
	}
}

// WithMethodCheck enables cross-validation of self-reported methods.
//
// Description:
//
//	When enabled, every line a kernel appends must carry its registry name
//	or label (case-insensitive) and the invoked size, and at least one line
//	must be appended. A violation aborts the session with ErrMethodMismatch.
//	Disabled, the log trusts whatever the kernel reports.
func WithMethodCheck(enabled bool) Option {
	return func(c *Config) {
		c.CheckMethods = enabled
	}
}

// WithOutput redirects kernel stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(c *Config) {
		if stdout != nil {
			c.Stdout = stdout
		}
		if stderr != nil {
			c.Stderr = stderr
		}
	}
}

// -----------------------------------------------------------------------------
// Orchestrator
// -----------------------------------------------------------------------------

// InputProvider supplies the input files for a size.
type InputProvider interface {
	Inputs(ctx context.Context, size int) (corpus.Pair, error)
}

// Invocation describes one kernel run.
type Invocation struct {
	Kernel  kernel.Descriptor
	Size    int
	Command []string

	// Output is the product file the kernel was asked to write.
	Output string
}

// Observer is told about every invocation once it has finished. err is nil
// on success.
type Observer func(inv Invocation, err error)

// Orchestrator drives kernel processes.
//
// Thread Safety: Run must not be called concurrently; the shared log has a
// single writer at a time.
type Orchestrator struct {
	cfg       Config
	pm        ProcessManager
	log       *timing.SharedLog
	logger    *slog.Logger
	observers []Observer
}

// New creates an Orchestrator writing timings to log.
func New(pm ProcessManager, log *timing.SharedLog, opts ...Option) *Orchestrator {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Orchestrator{
		cfg:    cfg,
		pm:     pm,
		log:    log,
		logger: slog.Default(),
	}
}

// SetLogger sets the logger for run progress.
func (o *Orchestrator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		o.logger = logger
	}
}

// Observe registers an Observer.
func (o *Orchestrator) Observe(fn Observer) {
	o.observers = append(o.observers, fn)
}

// OutputPath returns where kernel d writes its product for size n.
func (o *Orchestrator) OutputPath(d kernel.Descriptor, n int) string {
	return filepath.Join(o.cfg.OutputDir, fmt.Sprintf("%s_%d.dat", d.Name, n))
}

// Preflight checks that every kernel binary exists.
//
// Outputs:
//   - error: ErrMissingBinary naming each absent binary. Nothing is spawned
//     and nothing is written.
func (o *Orchestrator) Preflight(kernels []kernel.Descriptor) error {
	var missing []error
	for _, d := range kernels {
		path := kernel.BinaryPath(o.cfg.BinDir, d)
		if !kernel.ExistsOnDisk(path) {
			missing = append(missing, &bench.Error{
				Kind:    bench.ErrMissingBinary,
				Op:      "orchestrator.Preflight",
				Kernel:  d.Name,
				Path:    path,
				Message: "kernel binary not found",
			})
		}
	}
	return errors.Join(missing...)
}

// Run executes every kernel against every size.
//
// Description:
//
//	Binaries are checked first; the shared log is truncated only once every
//	binary is known to exist. Sizes run in ascending order and, within a
//	size, kernels run in the given order. The first failure aborts the run.
//	Inputs, products and log lines written before it are left in place.
//	There is no retry.
//
// Inputs:
//   - ctx: Cancelling it kills the running kernel.
//   - sizes: Sizes to run. Sorted ascending before use.
//   - kernels: Kernels in registry order.
//   - inputs: Supplies A and B for each size.
//
// Outputs:
//   - []Invocation: Completed invocations, including the failed one last
//     when err is a process failure.
//   - error: ErrMissingBinary, ErrProcessFailure, ErrMethodMismatch, or an
//     error from inputs.
func (o *Orchestrator) Run(ctx context.Context, sizes []int, kernels []kernel.Descriptor, inputs InputProvider) ([]Invocation, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrator.Orchestrator.Run",
		trace.WithAttributes(
			attribute.IntSlice("sizes", sizes),
			attribute.Int("kernels", len(kernels)),
			attribute.Bool("check_methods", o.cfg.CheckMethods),
		),
	)
	defer span.End()

	if err := o.Preflight(kernels); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing binary")
		return nil, err
	}
	if err := o.log.Truncate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "truncate log failed")
		return nil, err
	}
	if err := os.MkdirAll(o.cfg.OutputDir, 0755); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	ordered := slices.Clone(sizes)
	slices.Sort(ordered)

	invocations := make([]Invocation, 0, len(ordered)*len(kernels))
	for _, n := range ordered {
		pair, err := inputs.Inputs(ctx, n)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "inputs failed")
			return invocations, err
		}
		for _, d := range kernels {
			inv, err := o.invoke(ctx, d, pair)
			invocations = append(invocations, inv)
			for _, fn := range o.observers {
				fn(inv, err)
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "invocation failed")
				return invocations, err
			}
		}
	}

	span.SetAttributes(attribute.Int("invocations", len(invocations)))
	span.SetStatus(codes.Ok, "sweep completed")
	return invocations, nil
}

func (o *Orchestrator) invoke(ctx context.Context, d kernel.Descriptor, pair corpus.Pair) (Invocation, error) {
	cmd := Command{
		Path:   kernel.BinaryPath(o.cfg.BinDir, d),
		Args:   []string{pair.A, pair.B, o.OutputPath(d, pair.Size), o.log.Path},
		Stdout: o.cfg.Stdout,
		Stderr: o.cfg.Stderr,
	}
	inv := Invocation{Kernel: d, Size: pair.Size, Command: cmd.Argv(), Output: cmd.Args[2]}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrator.Orchestrator.invoke",
		trace.WithAttributes(
			attribute.String("kernel", d.Name),
			attribute.Int("size", pair.Size),
		),
	)
	defer span.End()

	var mark int64
	if o.cfg.CheckMethods {
		var err error
		if mark, err = o.log.Offset(); err != nil {
			return inv, err
		}
	}

	o.logger.Info("[run] invoking kernel",
		slog.String("kernel", d.Name),
		slog.Int("size", pair.Size),
	)
	if err := o.pm.Run(ctx, cmd); err != nil {
		err = &bench.Error{
			Kind:    bench.ErrProcessFailure,
			Op:      "orchestrator.Run",
			Kernel:  d.Name,
			Size:    pair.Size,
			Command: inv.Command,
			Message: "kernel exited unsuccessfully",
			Err:     err,
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "kernel failed")
		return inv, err
	}

	if o.cfg.CheckMethods {
		if err := o.checkMethod(inv, mark); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "method mismatch")
			return inv, err
		}
	}
	span.SetStatus(codes.Ok, "kernel completed")
	return inv, nil
}

func (o *Orchestrator) checkMethod(inv Invocation, mark int64) error {
	appended, err := o.log.ReadSince(mark)
	if err != nil {
		return err
	}
	mismatch := func(msg string) error {
		return &bench.Error{
			Kind:    bench.ErrMethodMismatch,
			Op:      "orchestrator.Run",
			Kernel:  inv.Kernel.Name,
			Size:    inv.Size,
			Command: inv.Command,
			Message: msg,
		}
	}
	if len(appended.Records) == 0 {
		return mismatch("kernel appended no timing line")
	}
	for _, rec := range appended.Records {
		if !strings.EqualFold(rec.Method, inv.Kernel.Name) && !strings.EqualFold(rec.Method, inv.Kernel.Label) {
			return mismatch(fmt.Sprintf("kernel reported method %q, want %q or %q",
				rec.Method, inv.Kernel.Name, inv.Kernel.Label))
		}
		if rec.Size != inv.Size {
			return mismatch(fmt.Sprintf("kernel reported size %d", rec.Size))
		}
	}
	return nil
}
