// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/timing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "matbench.report"

// Artifacts lists the files an export produced.
type Artifacts struct {
	CSV    string   `json:"csv"`
	Charts []string `json:"charts,omitempty"`
}

// Exporter writes the CSV table and hands summaries to a Plotter.
type Exporter struct {
	// CSVPath is the table destination. Empty skips the table.
	CSVPath string

	// PlotPath is the linear chart destination. Empty skips charts.
	PlotPath string

	// Policy reduces repeated records before plotting.
	Policy Policy

	// Plotter renders charts. Nil skips charts.
	Plotter Plotter

	logger *slog.Logger
}

// NewExporter creates an Exporter using the gonum chart renderer.
func NewExporter(csvPath, plotPath string, policy Policy) *Exporter {
	return &Exporter{
		CSVPath:  csvPath,
		PlotPath: plotPath,
		Policy:   policy,
		Plotter:  NewChartRenderer(),
		logger:   slog.Default(),
	}
}

// SetLogger sets the logger for export progress.
func (e *Exporter) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Export writes every artifact for records.
//
// Outputs:
//   - Artifacts: Files written, even on a later failure.
//   - error: ErrEmptyResult when records is empty; nothing is written then.
func (e *Exporter) Export(ctx context.Context, records []timing.Record) (Artifacts, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "report.Exporter.Export",
		trace.WithAttributes(attribute.Int("records", len(records))),
	)
	defer span.End()

	var out Artifacts
	if len(records) == 0 {
		err := &bench.Error{Kind: bench.ErrEmptyResult, Op: "report.Export",
			Message: "no valid timing records; nothing to export"}
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty result")
		return out, err
	}
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	if e.CSVPath != "" {
		if err := WriteCSVFile(e.CSVPath, ToTable(records)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "csv failed")
			return out, err
		}
		out.CSV = e.CSVPath
		logger.Info("[csv] wrote timing table", slog.String("path", e.CSVPath), slog.Int("rows", len(records)))
	}

	if e.PlotPath != "" && e.Plotter != nil {
		charts, err := e.Plotter.Render(ctx, Summarize(records, e.Policy), e.PlotPath)
		out.Charts = charts
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "plot failed")
			return out, err
		}
		for _, c := range charts {
			logger.Info("[plot] wrote chart", slog.String("path", c))
		}
	}

	span.SetStatus(codes.Ok, "exported")
	return out, nil
}
