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
	"fmt"
	"strconv"

	"github.com/AleutianAI/matbench/services/bench/report"
	"github.com/AleutianAI/matbench/services/bench/timing"
	"github.com/AleutianAI/matbench/services/bench/verify"
	"github.com/spf13/cobra"
)

// runVerify prints the mean absolute error between two matrix files in the
// MEAN_ERROR <value> form kernel scripts already grep for.
func (a *app) runVerify(cmd *cobra.Command, args []string) error {
	mae, err := verify.CompareFiles(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "MEAN_ERROR %s\n", strconv.FormatFloat(mae, 'g', -1, 64))
	return nil
}

// runReport re-parses an existing timing log and rewrites the CSV and charts
// without running any kernel.
func (a *app) runReport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := a.setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	logPath := e.cfg.Paths.LogFile
	if a.reportLog != "" {
		logPath = a.reportLog
	}
	csvPath := e.cfg.Paths.CSVFile
	if a.run.csvFile != "" {
		csvPath = a.run.csvFile
	}
	plotPath := e.cfg.Paths.PlotFile
	if cmd.Flags().Changed("plot-file") {
		plotPath = a.run.plotFile
	}
	policy, err := report.ParsePolicy(e.cfg.Report.Policy)
	if a.run.policy != "" {
		policy, err = report.ParsePolicy(a.run.policy)
	}
	if err != nil {
		return err
	}

	log, err := timing.Parse(logPath)
	if err != nil {
		return err
	}
	if log.Skipped > 0 {
		e.logger.Warn("skipped malformed timing lines", "path", logPath, "skipped", log.Skipped)
	}

	exporter := report.NewExporter(csvPath, plotPath, policy)
	exporter.SetLogger(e.logger.Slog())
	artifacts, err := exporter.Export(ctx, log.Records)
	if err != nil {
		return err
	}

	p := a.printer()
	report.PrintSummary(p, report.Summarize(log.Records, policy), nil)
	p.Success(fmt.Sprintf("wrote %s", artifacts.CSV))
	for _, c := range artifacts.Charts {
		p.Success(fmt.Sprintf("wrote %s", c))
	}
	return nil
}
