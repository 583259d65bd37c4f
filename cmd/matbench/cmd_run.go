// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/matbench/cmd/matbench/config"
	"github.com/AleutianAI/matbench/pkg/logging"
	"github.com/AleutianAI/matbench/pkg/ux"
	"github.com/AleutianAI/matbench/services/bench/history"
	"github.com/AleutianAI/matbench/services/bench/kernel"
	"github.com/AleutianAI/matbench/services/bench/report"
	"github.com/AleutianAI/matbench/services/bench/session"
	bstore "github.com/AleutianAI/matbench/services/bench/storage/badger"
	"github.com/AleutianAI/matbench/services/bench/sweep"
	"github.com/AleutianAI/matbench/services/bench/telemetry"
	"github.com/spf13/cobra"
)

// -----------------------------------------------------------------------------
// Environment
// -----------------------------------------------------------------------------

// env is the loaded config plus the process-wide services built from it.
// close releases them in reverse order.
type env struct {
	cfg    *config.MatbenchConfig
	logger *logging.Logger
	closer []func() error
}

func (e *env) close() {
	for i := len(e.closer) - 1; i >= 0; i-- {
		if err := e.closer[i](); err != nil {
			e.logger.Warn("shutdown step failed", "error", err)
		}
	}
	_ = e.logger.Close()
}

// setup loads the config and installs logging and tracing.
func (a *app) setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(a.global.configPath)
	if err != nil {
		return nil, err
	}
	if a.global.logLevel != "" {
		if _, err := logging.ParseLevel(a.global.logLevel); err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
		cfg.Logging.Level = a.global.logLevel
	}

	lc := cfg.Logger(a.global.quiet)
	lc.Output = a.stderr
	logger := logging.New(lc)
	slog.SetDefault(logger.Slog())

	e := &env{cfg: cfg, logger: logger}
	shutdown, err := telemetry.InitTracing(ctx, cfg.Tracing(version))
	if err != nil {
		e.close()
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	e.closer = append(e.closer, func() error { return shutdown(context.Background()) })
	return e, nil
}

// openHistory opens the session store when history is enabled. It returns
// nil without error when it is disabled.
func (e *env) openHistory() (*history.Store, error) {
	if !e.cfg.History.Enabled {
		return nil, nil
	}
	dbCfg := bstore.DefaultConfig()
	dbCfg.Path = e.cfg.History.Dir
	dbCfg.Logger = e.logger.Slog().With("component", "badger")
	db, err := bstore.OpenDB(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open history at %s: %w", e.cfg.History.Dir, err)
	}
	e.closer = append(e.closer, db.Close)
	return history.NewStore(db), nil
}

// -----------------------------------------------------------------------------
// run
// -----------------------------------------------------------------------------

// applyRunFlags overlays explicitly set flags onto the config.
func (a *app) applyRunFlags(cmd *cobra.Command, cfg *config.MatbenchConfig) error {
	f := cmd.Flags()
	changed := func(name string) bool { return f.Lookup(name) != nil && f.Changed(name) }

	if changed("min-size") {
		cfg.Sweep.MinSize = a.run.minSize
		cfg.Sweep.Sizes = nil
	}
	if changed("max-size") {
		cfg.Sweep.MaxSize = a.run.maxSize
		cfg.Sweep.Sizes = nil
	}
	if changed("sizes") {
		cfg.Sweep.Sizes = a.run.sizes
	}
	if changed("methods") {
		cfg.Kernels.Select = a.run.methods
	}
	if changed("regen-inputs") {
		cfg.Sweep.Regen = a.run.regenInputs
	}
	if changed("skip-build") {
		cfg.Paths.SkipBuild = a.run.skipBuild
	}
	if changed("seed") {
		cfg.Sweep.Seed = a.run.seed
	}
	if changed("log-file") {
		cfg.Paths.LogFile = a.run.logFile
	}
	if changed("csv-file") {
		cfg.Paths.CSVFile = a.run.csvFile
	}
	if changed("plot-file") {
		cfg.Paths.PlotFile = a.run.plotFile
	}
	if changed("metrics-file") {
		cfg.Paths.MetricsFile = a.run.metricsFile
	}
	if changed("verify") {
		cfg.Verify.Enabled = a.run.verify
	}
	if changed("tolerance") {
		cfg.Verify.Tolerance = a.run.tolerance
	}
	if changed("check-methods") {
		cfg.Verify.CheckMethods = a.run.checkMethods
	}
	if changed("policy") && a.run.policy != "" {
		if _, err := report.ParsePolicy(a.run.policy); err != nil {
			return err
		}
		cfg.Report.Policy = a.run.policy
	}
	return cfg.Validate()
}

func (a *app) runSession(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := a.setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	if err := a.applyRunFlags(cmd, e.cfg); err != nil {
		return err
	}
	registry, err := e.cfg.KernelRegistry()
	if err != nil {
		return err
	}
	// Configuration errors abort here, before history, sinks or the log are touched.
	if _, err := sweep.Plan(e.cfg.Sweep.Sizes, e.cfg.Sweep.MinSize, e.cfg.Sweep.MaxSize); err != nil {
		return err
	}
	if _, err := registry.Select(e.cfg.Kernels.Select); err != nil {
		return err
	}

	metrics, err := telemetry.NewPrometheusSink(telemetry.DefaultPrometheusConfig())
	if err != nil {
		return err
	}
	opts := []session.Option{
		session.WithRegistry(registry),
		session.WithPrinter(a.printer()),
		session.WithKernelOutput(a.stdout, a.stderr),
		session.WithMetrics(metrics),
		session.WithLogger(e.logger.Slog()),
	}

	if e.cfg.Telemetry.Influx.Enabled {
		influx, err := telemetry.NewInfluxSink(e.cfg.Influx())
		if err != nil {
			return fmt.Errorf("influx: %w", err)
		}
		e.closer = append(e.closer, func() error { influx.Close(); return nil })
		opts = append(opts, session.WithInflux(influx))
	}

	store, err := e.openHistory()
	if err != nil {
		// The benchmark itself does not depend on history.
		e.logger.Warn("history disabled for this session", "error", err)
	} else if store != nil {
		opts = append(opts, session.WithHistory(store))
	}

	s, err := session.NewRunner(e.cfg.Session(), opts...).Run(ctx)
	if s != nil {
		p := a.printer()
		switch {
		case err == nil:
			p.Success(fmt.Sprintf("session %s finished in %s", s.ID, s.Duration().Round(time.Millisecond)))
		case errors.Is(err, session.ErrVerificationFailed):
			p.Warning(fmt.Sprintf("session %s finished with verification failures", s.ID))
		default:
			p.Error(fmt.Sprintf("session %s failed", s.ID))
		}
	}
	return err
}

// -----------------------------------------------------------------------------
// plan
// -----------------------------------------------------------------------------

func (a *app) runPlan(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.global.configPath)
	if err != nil {
		return err
	}
	if err := a.applyRunFlags(cmd, cfg); err != nil {
		return err
	}
	sizes, err := sweep.Plan(cfg.Sweep.Sizes, cfg.Sweep.MinSize, cfg.Sweep.MaxSize)
	if err != nil {
		return err
	}
	parts := make([]string, len(sizes))
	for i, n := range sizes {
		parts[i] = fmt.Sprint(n)
	}
	fmt.Fprintln(a.stdout, strings.Join(parts, " "))
	return nil
}

// -----------------------------------------------------------------------------
// kernels
// -----------------------------------------------------------------------------

func (a *app) runKernels(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.global.configPath)
	if err != nil {
		return err
	}
	registry, err := cfg.KernelRegistry()
	if err != nil {
		return err
	}

	p := a.printer()
	var sb strings.Builder
	sb.WriteString(p.Render(ux.Styles.Header, fmt.Sprintf("%-12s %-12s %-8s %s", "name", "label", "built", "binary")))
	for _, d := range registry.All() {
		path := kernel.BinaryPath(cfg.Paths.BinDir, d)
		built := "no"
		if kernel.ExistsOnDisk(path) {
			built = "yes"
		}
		fmt.Fprintf(&sb, "\n%-12s %-12s %-8s %s", d.Name, d.Label, built, path)
	}
	p.Box("Kernels", sb.String())
	return nil
}
