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
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Plotter renders summaries to chart files.
type Plotter interface {
	// Render writes the charts for summaries derived from path and returns
	// the files written.
	Render(ctx context.Context, summaries []Summary, path string) ([]string, error)
}

// LogPath returns the log-scale chart path for path: "<stem>_log<ext>".
func LogPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_log" + ext
}

// ChartRenderer draws one line per method over matrix size.
//
// Description:
//
//	Two charts are written: time on a linear axis at path, and time on a
//	logarithmic axis at LogPath(path). Size is on a log2 axis in both. The
//	output format follows the file extension (png, svg, pdf, ...). Points
//	with zero seconds are left off the log chart.
type ChartRenderer struct {
	Width, Height vg.Length
	Title         string
}

// NewChartRenderer returns a renderer with the default 10x6 inch canvas.
func NewChartRenderer() *ChartRenderer {
	return &ChartRenderer{
		Width:  10 * vg.Inch,
		Height: 6 * vg.Inch,
		Title:  "Matrix multiplication time by method",
	}
}

// Render implements Plotter.
func (r *ChartRenderer) Render(ctx context.Context, summaries []Summary, path string) ([]string, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create plot directory: %w", err)
		}
	}

	var written []string
	for _, logY := range []bool{false, true} {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		out := path
		if logY {
			out = LogPath(path)
		}
		p, err := r.chart(summaries, logY)
		if err != nil {
			return written, err
		}
		if err := p.Save(r.Width, r.Height, out); err != nil {
			return written, fmt.Errorf("save chart %s: %w", out, err)
		}
		written = append(written, out)
	}
	return written, nil
}

func (r *ChartRenderer) chart(summaries []Summary, logY bool) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = r.Title
	p.X.Label.Text = "Matrix size (N)"
	p.Y.Label.Text = "Time (seconds)"
	if logY {
		p.Title.Text += " (log scale)"
		p.Y.Label.Text = "Time (seconds, log scale)"
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}
	p.X.Scale = plot.LogScale{}
	p.X.Tick.Marker = sizeTicks(summaries)
	p.Legend.Top = true
	p.Legend.Left = true
	p.Add(plotter.NewGrid())

	for i, method := range Methods(summaries) {
		var pts plotter.XYs
		for _, s := range summaries {
			if s.Method != method || (logY && s.Seconds <= 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(s.Size), Y: s.Seconds})
		}
		if len(pts) == 0 {
			continue
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, fmt.Errorf("plot %s: %w", method, err)
		}
		line.Color = plotutil.Color(i)
		points.Color = plotutil.Color(i)
		points.Shape = plotutil.Shape(i)
		p.Add(line, points)
		p.Legend.Add(method, line, points)
	}
	if logY {
		logRange(&p.Y)
	}
	logRange(&p.X)
	return p, nil
}

// logRange keeps a log axis drawable. gonum pads a collapsed range by one
// unit each way, which goes non-positive for small values, so a single
// value v is widened to [v/2, 2v] instead. An axis with no data gets [0.1, 1].
func logRange(a *plot.Axis) {
	switch {
	case math.IsInf(a.Min, 0) || math.IsInf(a.Max, 0) || a.Max <= 0:
		a.Min, a.Max = 0.1, 1
	case a.Min == a.Max:
		a.Min, a.Max = a.Min/2, a.Max*2
	case a.Min <= 0:
		a.Min = a.Max / 10
	}
}

// sizeTicks labels every planned size on the log2 axis.
func sizeTicks(summaries []Summary) plot.ConstantTicks {
	var sizes []int
	for _, s := range summaries {
		sizes = append(sizes, s.Size)
	}
	slices.Sort(sizes)
	sizes = slices.Compact(sizes)

	ticks := make(plot.ConstantTicks, len(sizes))
	for i, n := range sizes {
		ticks[i] = plot.Tick{Value: float64(n), Label: strconv.Itoa(n)}
	}
	return ticks
}
