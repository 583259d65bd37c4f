// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session runs one benchmark session end to end: plan the sweep,
// prepare inputs, drive the kernels, aggregate the timing log, verify the
// products and export the reports.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/matbench/pkg/ux"
	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/build"
	"github.com/AleutianAI/matbench/services/bench/corpus"
	"github.com/AleutianAI/matbench/services/bench/history"
	"github.com/AleutianAI/matbench/services/bench/kernel"
	"github.com/AleutianAI/matbench/services/bench/orchestrator"
	"github.com/AleutianAI/matbench/services/bench/report"
	"github.com/AleutianAI/matbench/services/bench/sweep"
	"github.com/AleutianAI/matbench/services/bench/telemetry"
	"github.com/AleutianAI/matbench/services/bench/timing"
	"github.com/AleutianAI/matbench/services/bench/verify"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "matbench.session"

// ErrVerificationFailed is returned when at least one kernel product
// exceeded the tolerance. The reports are still written.
var ErrVerificationFailed = errors.New("verification failed")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config describes one session.
type Config struct {
	// Sizes overrides the power-of-two sweep when non-empty.
	Sizes   []int
	MinSize int
	MaxSize int

	// Kernels selects registry entries by name. Empty selects all.
	Kernels []string

	Seed        uint64
	RegenInputs bool

	DataDir   string
	BinDir    string
	OutputDir string

	// SourceDir is where the build command runs.
	SourceDir    string
	BuildCommand string
	SkipBuild    bool

	LogFile  string
	CSVFile  string
	PlotFile string
	Policy   report.Policy

	Verify       bool
	Tolerance    float64
	CheckMethods bool

	// MetricsFile receives a Prometheus textfile when set.
	MetricsFile string
}

// DefaultConfig returns the settings of a plain `matbench run`.
func DefaultConfig() Config {
	return Config{
		MinSize:      sweep.DefaultMinSize,
		MaxSize:      sweep.DefaultMaxSize,
		DataDir:      "benchmark_data",
		BinDir:       "build",
		OutputDir:    "benchmark_outputs",
		SourceDir:    ".",
		BuildCommand: "make",
		LogFile:      "benchmark_timings.log",
		CSVFile:      "benchmark_timings.csv",
		PlotFile:     "benchmark_timings.png",
		Policy:       report.DefaultPolicy,
		Tolerance:    verify.DefaultTolerance,
	}
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// Option configures a Runner.
type Option func(*Runner)

// WithRegistry replaces the default kernel registry.
func WithRegistry(r *kernel.Registry) Option {
	return func(rn *Runner) { rn.registry = r }
}

// WithProcessManager replaces the process manager used for the build and
// kernel invocations.
func WithProcessManager(pm orchestrator.ProcessManager) Option {
	return func(rn *Runner) { rn.pm = pm }
}

// WithPlotter replaces the chart renderer. Nil disables charts.
func WithPlotter(p report.Plotter) Option {
	return func(rn *Runner) { rn.plotter = p }
}

// WithPrinter sets where the terminal summary goes. Nil disables it.
func WithPrinter(p *ux.Printer) Option {
	return func(rn *Runner) { rn.printer = p }
}

// WithKernelOutput redirects kernel and build stdout/stderr.
func WithKernelOutput(stdout, stderr io.Writer) Option {
	return func(rn *Runner) { rn.stdout, rn.stderr = stdout, stderr }
}

// WithMetrics records session metrics into sink.
func WithMetrics(sink *telemetry.PrometheusSink) Option {
	return func(rn *Runner) { rn.metrics = sink }
}

// WithInflux exports timing points through sink.
func WithInflux(sink *telemetry.InfluxSink) Option {
	return func(rn *Runner) { rn.influx = sink }
}

// WithHistory stores every finished session in store.
func WithHistory(store *history.Store) Option {
	return func(rn *Runner) { rn.history = store }
}

// WithLogger sets the logger for the session and its stages.
func WithLogger(logger *slog.Logger) Option {
	return func(rn *Runner) {
		if logger != nil {
			rn.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(rn *Runner) { rn.now = now }
}

// Runner executes sessions.
//
// Thread Safety: Run must not be called concurrently on the same Runner or
// on Runners sharing a log file.
type Runner struct {
	cfg      Config
	registry *kernel.Registry
	pm       orchestrator.ProcessManager
	plotter  report.Plotter
	printer  *ux.Printer
	stdout   io.Writer
	stderr   io.Writer
	metrics  *telemetry.PrometheusSink
	influx   *telemetry.InfluxSink
	history  *history.Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner creates a Runner for cfg.
func NewRunner(cfg Config, opts ...Option) *Runner {
	rn := &Runner{
		cfg:      cfg,
		registry: kernel.Default(),
		pm:       orchestrator.NewDefaultProcessManager(),
		plotter:  report.NewChartRenderer(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(rn)
	}
	return rn
}

// Run executes one session.
//
// Description:
//
//	Stages run in order: plan, select, build, orchestrate, aggregate,
//	verify, export. Any stage error aborts the session with every artifact
//	written so far left in place. Whatever was gathered is still recorded
//	in metrics and history, with Status set to failed.
//
// Outputs:
//   - *history.Session: Always non-nil.
//   - error: A *bench.Error for the failing stage, or ErrVerificationFailed
//     after a complete session whose products did not all pass.
func (rn *Runner) Run(ctx context.Context) (*history.Session, error) {
	s := &history.Session{
		ID:        uuid.NewString()[:12],
		StartedAt: rn.now(),
		Seed:      rn.cfg.Seed,
		Policy:    string(rn.cfg.Policy),
		Host:      DetectHost(),
	}
	logger := rn.logger.With(slog.String("session", s.ID))

	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.Runner.Run",
		trace.WithAttributes(
			attribute.String("session.id", s.ID),
			attribute.Int64("seed", int64(rn.cfg.Seed)),
			attribute.Bool("verify", rn.cfg.Verify),
		),
	)
	defer span.End()

	err := rn.run(ctx, s, logger)
	s.FinishedAt = rn.now()
	s.Status = history.StatusSucceeded
	if err != nil {
		s.Status = history.StatusFailed
		s.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "session failed")
		if rn.metrics != nil {
			rn.metrics.RecordError(errorKind(err))
		}
		logger.Error("session failed", slog.String("error", err.Error()))
	} else {
		span.SetStatus(codes.Ok, "session completed")
		logger.Info("session completed",
			slog.Int("records", len(s.Records)),
			slog.Duration("duration", s.Duration()),
		)
	}

	rn.finish(ctx, s, logger)
	return s, err
}

func (rn *Runner) run(ctx context.Context, s *history.Session, logger *slog.Logger) error {
	cfg := rn.cfg

	sizes, err := sweep.Plan(cfg.Sizes, cfg.MinSize, cfg.MaxSize)
	if err != nil {
		return err
	}
	s.Sizes = sizes

	kernels, err := rn.registry.Select(cfg.Kernels)
	if err != nil {
		return err
	}
	for _, k := range kernels {
		s.Kernels = append(s.Kernels, k.Name)
	}
	logger.Info("session planned",
		slog.Any("sizes", []int(sizes)),
		slog.Any("kernels", s.Kernels),
	)

	if !cfg.SkipBuild {
		b := build.New(rn.pm, cfg.SourceDir)
		if cfg.BuildCommand != "" {
			b.Command = cfg.BuildCommand
		}
		b.Stdout, b.Stderr = rn.stdout, rn.stderr
		b.SetLogger(logger)
		if err := b.Build(ctx); err != nil {
			return err
		}
	}

	inputs, err := corpus.NewManager(corpus.Config{
		Dir:              cfg.DataDir,
		Seed:             cfg.Seed,
		Force:            cfg.RegenInputs,
		KeepForReference: cfg.Verify,
	})
	if err != nil {
		return err
	}
	inputs.SetLogger(logger)

	log := timing.NewSharedLog(cfg.LogFile)
	orch := orchestrator.New(rn.pm, log,
		orchestrator.WithBinDir(cfg.BinDir),
		orchestrator.WithOutputDir(cfg.OutputDir),
		orchestrator.WithMethodCheck(cfg.CheckMethods),
		orchestrator.WithOutput(rn.stdout, rn.stderr),
	)
	orch.SetLogger(logger)
	if rn.metrics != nil {
		orch.Observe(func(inv orchestrator.Invocation, err error) {
			rn.metrics.RecordInvocation(inv.Kernel.Name, err)
		})
	}

	invocations, runErr := orch.Run(ctx, sizes, kernels, &observedInputs{Manager: inputs, metrics: rn.metrics})
	if runErr != nil && len(invocations) == 0 {
		// Nothing ran, so the log may still hold a previous session.
		return runErr
	}

	// The log is read even after a failed run so completed timings are kept.
	tl, err := log.Parse()
	if err != nil {
		return errors.Join(runErr, err)
	}
	s.Records, s.Skipped = tl.Records, tl.Skipped
	s.Summaries = report.Summarize(tl.Records, cfg.Policy)
	if rn.metrics != nil {
		rn.metrics.RecordLog(tl)
	}
	if tl.Skipped > 0 {
		logger.Warn("skipped malformed timing lines", slog.Int("count", tl.Skipped))
	}
	if runErr != nil {
		return runErr
	}

	if cfg.Verify {
		results, err := rn.verify(ctx, inputs, invocations)
		s.Verification = results
		if rn.metrics != nil {
			rn.metrics.RecordVerification(results)
		}
		if err != nil {
			return err
		}
	}

	exporter := report.NewExporter(cfg.CSVFile, cfg.PlotFile, cfg.Policy)
	exporter.Plotter = rn.plotter
	exporter.SetLogger(logger)
	if _, err := exporter.Export(ctx, tl.Records); err != nil {
		return err
	}

	if rn.printer != nil {
		report.PrintSummary(rn.printer, s.Summaries, s.Verification)
	}

	if failed := verify.Failed(s.Verification); len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d products exceeded tolerance %g",
			ErrVerificationFailed, len(failed), len(s.Verification), cfg.Tolerance)
	}
	return nil
}

// verify checks every invocation's product against the reference for its
// size. Dimension and format errors abort verification.
func (rn *Runner) verify(ctx context.Context, inputs *corpus.Manager, invocations []orchestrator.Invocation) ([]verify.Result, error) {
	v := verify.NewVerifier(rn.cfg.Tolerance)
	results := make([]verify.Result, 0, len(invocations))
	for _, inv := range invocations {
		ref, err := inputs.Reference(ctx, inv.Size)
		if err != nil {
			return results, err
		}
		res, err := v.Check(ctx, inv.Kernel.Name, inv.Size, ref, inv.Output)
		if err != nil {
			return results, err
		}
		if !res.Pass {
			rn.logger.Warn("[verify] product exceeds tolerance",
				slog.String("kernel", res.Kernel),
				slog.Int("size", res.Size),
				slog.Float64("mean_error", res.MeanAbsoluteError),
			)
		}
		results = append(results, res)
	}
	return results, nil
}

// finish records the session in every configured sink. Sink failures are
// logged and never change the session outcome.
func (rn *Runner) finish(ctx context.Context, s *history.Session, logger *slog.Logger) {
	if rn.metrics != nil && rn.cfg.MetricsFile != "" {
		if err := rn.metrics.WriteTextfile(rn.cfg.MetricsFile); err != nil {
			logger.Warn("metrics textfile not written", slog.String("error", err.Error()))
		}
	}
	if rn.influx != nil {
		if err := rn.influx.WriteSession(ctx, s.ID, s.Host.Hostname, s.StartedAt, s.Records, s.Verification); err != nil {
			logger.Warn("influx export failed", slog.String("error", err.Error()))
		}
	}
	if rn.history != nil {
		if err := rn.history.Put(ctx, s); err != nil {
			logger.Warn("session not stored", slog.String("error", err.Error()))
		}
	}
}

// observedInputs counts prepared input pairs by source.
type observedInputs struct {
	*corpus.Manager
	metrics *telemetry.PrometheusSink
}

func (o *observedInputs) Inputs(ctx context.Context, size int) (corpus.Pair, error) {
	pair, err := o.Manager.Inputs(ctx, size)
	if err == nil && o.metrics != nil {
		o.metrics.RecordInputs(pair.Generated)
	}
	return pair, err
}

func errorKind(err error) string {
	if errors.Is(err, ErrVerificationFailed) {
		return "verification"
	}
	if kind := bench.KindOf(err); kind != nil {
		return kind.Error()
	}
	return "other"
}
