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
	"io"
	"os"

	"github.com/AleutianAI/matbench/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Flags ---
type globalFlags struct {
	configPath string
	quiet      bool
	logLevel   string
}

// --- Run Flags ---
type runFlags struct {
	sizes        []int
	minSize      int
	maxSize      int
	methods      []string
	regenInputs  bool
	skipBuild    bool
	seed         uint64
	logFile      string
	csvFile      string
	plotFile     string
	metricsFile  string
	verify       bool
	tolerance    float64
	checkMethods bool
	policy       string
}

// app holds the state shared by one command invocation.
type app struct {
	global globalFlags
	run    runFlags
	stdout io.Writer
	stderr io.Writer

	// report
	reportLog string

	// history / compare
	historyLimit int
	baselineID   string
	currentID    string
	threshold    float64
	allowed      int

	failOnMissing bool

	// init
	force bool
}

func (a *app) printer() *ux.Printer {
	return ux.NewPrinter(a.stdout)
}

// newRootCmd builds the command tree writing to stdout and stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "matbench",
		Short: "Benchmark and verify matrix multiplication kernels",
		Long: `matbench drives a family of external matrix multiplication kernels over
a sweep of sizes, collects the timings they log, verifies their products
against an exact reference and writes CSV and chart reports.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.global.configPath, "config", "c", "", "config file (default ./matbench.yaml when present)")
	pf.BoolVarP(&a.global.quiet, "quiet", "q", false, "suppress log output on stderr")
	pf.StringVar(&a.global.logLevel, "log-level", "", "log level: debug, info, warn, error")

	// --- Run ---
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark session over the size sweep",
		Args:  cobra.NoArgs,
		RunE:  a.runSession, // Defined in cmd_run.go
	}
	f := runCmd.Flags()
	f.IntSliceVar(&a.run.sizes, "sizes", nil, "explicit matrix sizes, overriding --min-size/--max-size")
	f.IntVar(&a.run.minSize, "min-size", 32, "smallest power-of-two size")
	f.IntVar(&a.run.maxSize, "max-size", 2048, "largest power-of-two size")
	f.StringSliceVar(&a.run.methods, "methods", nil, "kernels to run (default all)")
	f.BoolVar(&a.run.regenInputs, "regen-inputs", false, "regenerate input matrices even when cached")
	f.BoolVar(&a.run.skipBuild, "skip-build", false, "do not build the kernels first")
	f.Uint64Var(&a.run.seed, "seed", 0, "seed for input generation")
	f.StringVar(&a.run.logFile, "log-file", "benchmark_timings.log", "shared timing log")
	f.StringVar(&a.run.csvFile, "csv-file", "benchmark_timings.csv", "CSV report")
	f.StringVar(&a.run.plotFile, "plot-file", "benchmark_timings.png", "chart file; the log-scale chart gets a _log suffix")
	f.StringVar(&a.run.metricsFile, "metrics-file", "", "write Prometheus textfile metrics here")
	f.BoolVar(&a.run.verify, "verify", false, "check every product against the exact reference")
	f.Float64Var(&a.run.tolerance, "tolerance", 0, "largest mean absolute error that passes")
	f.BoolVar(&a.run.checkMethods, "check-methods", false, "require each kernel to log its own name and size")
	f.StringVar(&a.run.policy, "policy", "min", "reduction of repeated timings: min, last, mean")

	// --- Plan ---
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the size sweep a run would use",
		Args:  cobra.NoArgs,
		RunE:  a.runPlan, // Defined in cmd_run.go
	}
	planCmd.Flags().IntSliceVar(&a.run.sizes, "sizes", nil, "explicit matrix sizes")
	planCmd.Flags().IntVar(&a.run.minSize, "min-size", 32, "smallest power-of-two size")
	planCmd.Flags().IntVar(&a.run.maxSize, "max-size", 2048, "largest power-of-two size")

	// --- Kernels ---
	kernelsCmd := &cobra.Command{
		Use:   "kernels",
		Short: "List registered kernels and whether their binaries are built",
		Args:  cobra.NoArgs,
		RunE:  a.runKernels, // Defined in cmd_run.go
	}

	// --- Verify ---
	verifyCmd := &cobra.Command{
		Use:   "verify <reference> <candidate>",
		Short: "Print the mean absolute error between two matrix files",
		Args:  cobra.ExactArgs(2),
		RunE:  a.runVerify, // Defined in cmd_report.go
	}

	// --- Report ---
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Rebuild the CSV and charts from an existing timing log",
		Args:  cobra.NoArgs,
		RunE:  a.runReport, // Defined in cmd_report.go
	}
	reportCmd.Flags().StringVar(&a.reportLog, "log-file", "", "timing log (default from config)")
	reportCmd.Flags().StringVar(&a.run.csvFile, "csv-file", "", "CSV report (default from config)")
	reportCmd.Flags().StringVar(&a.run.plotFile, "plot-file", "", "chart file (default from config)")
	reportCmd.Flags().StringVar(&a.run.policy, "policy", "", "reduction of repeated timings: min, last, mean")

	// --- History ---
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Browse stored sessions",
	}
	historyListCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		Args:  cobra.NoArgs,
		RunE:  a.runHistoryList, // Defined in cmd_history.go
	}
	historyListCmd.Flags().IntVarP(&a.historyLimit, "limit", "n", 20, "sessions to show (0 for all)")
	historyShowCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one stored session",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runHistoryShow, // Defined in cmd_history.go
	}
	historyCmd.AddCommand(historyListCmd, historyShowCmd)

	// --- Compare ---
	compareCmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare a session's timings against a baseline session",
		Args:  cobra.NoArgs,
		RunE:  a.runCompare, // Defined in cmd_history.go
	}
	compareCmd.Flags().StringVar(&a.baselineID, "baseline", "", "baseline session id (required)")
	compareCmd.Flags().StringVar(&a.currentID, "current", "", "candidate session id (default newest other session)")
	compareCmd.Flags().Float64Var(&a.threshold, "threshold", 10, "slowdown in percent that counts as a regression")
	compareCmd.Flags().IntVar(&a.allowed, "allowed-regressions", 0, "regressions tolerated before failing")
	compareCmd.Flags().BoolVar(&a.failOnMissing, "fail-on-missing", false, "fail when a baseline point is absent from the candidate")
	_ = compareCmd.MarkFlagRequired("baseline")

	// --- Init ---
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default matbench.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.runInit, // Defined in cmd_history.go
	}
	initCmd.Flags().BoolVar(&a.force, "force", false, "overwrite an existing file")

	rootCmd.AddCommand(runCmd, planCmd, kernelsCmd, verifyCmd, reportCmd, historyCmd, compareCmd, initCmd)
	return rootCmd
}

// execute runs the CLI and returns the process exit status.
func execute(ctx context.Context, args []string) int {
	return executeWith(ctx, args, os.Stdout, os.Stderr)
}

func executeWith(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		ux.NewPrinter(stderr).ErrorBox("matbench failed", err.Error())
		return 1
	}
	return 0
}
