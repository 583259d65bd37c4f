// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package regression compares the reduced timings of two stored sessions.
package regression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/matbench/services/bench/history"
	"github.com/AleutianAI/matbench/services/bench/report"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "matbench.regression"

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrGateFailed indicates the regression gate did not pass.
	ErrGateFailed = errors.New("regression gate failed")
)

// -----------------------------------------------------------------------------
// Gate Configuration
// -----------------------------------------------------------------------------

// GateConfig configures the regression gate.
type GateConfig struct {
	// Threshold is the slowdown, in percent, above which a point regresses.
	// Default: 10
	Threshold float64

	// AllowedRegressions is the maximum regressions before failing.
	// Default: 0
	AllowedRegressions int

	// FailOnMissing fails when a baseline point is absent from the candidate.
	// Default: false
	FailOnMissing bool

	// Logger for output.
	Logger *slog.Logger
}

// DefaultGateConfig returns the defaults.
func DefaultGateConfig() *GateConfig {
	return &GateConfig{
		Threshold: 10,
		Logger:    slog.Default(),
	}
}

// GateOption configures the gate.
type GateOption func(*GateConfig)

// WithThreshold sets the slowdown threshold in percent.
func WithThreshold(pct float64) GateOption {
	return func(c *GateConfig) {
		if pct >= 0 {
			c.Threshold = pct
		}
	}
}

// WithAllowedRegressions sets allowed regression count.
func WithAllowedRegressions(count int) GateOption {
	return func(c *GateConfig) {
		if count >= 0 {
			c.AllowedRegressions = count
		}
	}
}

// WithFailOnMissing fails the gate when points disappear.
func WithFailOnMissing(fail bool) GateOption {
	return func(c *GateConfig) {
		c.FailOnMissing = fail
	}
}

// WithGateLogger sets the logger.
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(c *GateConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// -----------------------------------------------------------------------------
// Decision
// -----------------------------------------------------------------------------

// Change is one (method, size) point present in both sessions.
type Change struct {
	Method    string  `json:"method"`
	Size      int     `json:"size"`
	Baseline  float64 `json:"baseline_seconds"`
	Current   float64 `json:"current_seconds"`
	ChangePct float64 `json:"change_pct"`
}

// Point names a (method, size) pair.
type Point struct {
	Method string `json:"method"`
	Size   int    `json:"size"`
}

// Decision is the gate result.
type Decision struct {
	Pass         bool          `json:"pass"`
	BaselineID   string        `json:"baseline_id"`
	CandidateID  string        `json:"candidate_id"`
	Threshold    float64       `json:"threshold_pct"`
	Regressions  []Change      `json:"regressions"`
	Improvements []Change      `json:"improvements"`
	Unchanged    int           `json:"unchanged"`
	Missing      []Point       `json:"missing,omitempty"`
	Added        []Point       `json:"added,omitempty"`
	Duration     time.Duration `json:"duration"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Report renders the decision as plain text.
func (d *Decision) Report() string {
	var b strings.Builder
	status := "PASS"
	if !d.Pass {
		status = "FAIL"
	}
	fmt.Fprintf(&b, "Regression gate: %s (baseline %s, candidate %s, threshold %.1f%%)\n",
		status, d.BaselineID, d.CandidateID, d.Threshold)
	for _, c := range d.Regressions {
		fmt.Fprintf(&b, "  slower  %-36s n=%-6d %.6fs -> %.6fs (%+.1f%%)\n", c.Method, c.Size, c.Baseline, c.Current, c.ChangePct)
	}
	for _, c := range d.Improvements {
		fmt.Fprintf(&b, "  faster  %-36s n=%-6d %.6fs -> %.6fs (%+.1f%%)\n", c.Method, c.Size, c.Baseline, c.Current, c.ChangePct)
	}
	for _, p := range d.Missing {
		fmt.Fprintf(&b, "  missing %-36s n=%d\n", p.Method, p.Size)
	}
	for _, p := range d.Added {
		fmt.Fprintf(&b, "  new     %-36s n=%d\n", p.Method, p.Size)
	}
	fmt.Fprintf(&b, "  %d unchanged\n", d.Unchanged)
	return b.String()
}

// -----------------------------------------------------------------------------
// Gate
// -----------------------------------------------------------------------------

// Gate decides whether a candidate session regressed against a baseline.
//
// Thread Safety: Safe for concurrent use; the gate holds no mutable state.
type Gate struct {
	config *GateConfig
}

// NewGate creates a gate.
func NewGate(opts ...GateOption) *Gate {
	cfg := DefaultGateConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Gate{config: cfg}
}

// Compare matches the reduced timings of both sessions by (method, size).
//
// Description:
//
//	A point regresses when the candidate is slower than the baseline by more
//	than Threshold percent, and improves when it is faster by more than the
//	same margin. Points with a zero baseline never regress.
//
// Outputs:
//   - *Decision: Always non-nil.
//   - error: ErrGateFailed wrapped with the counts when the gate fails.
func (g *Gate) Compare(ctx context.Context, baseline, candidate *history.Session) (*Decision, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "regression.Gate.Compare",
		trace.WithAttributes(
			attribute.String("baseline", baseline.ID),
			attribute.String("candidate", candidate.ID),
		),
	)
	defer span.End()

	start := time.Now()
	d := &Decision{
		BaselineID:  baseline.ID,
		CandidateID: candidate.ID,
		Threshold:   g.config.Threshold,
		Timestamp:   start,
	}

	base := index(baseline.Summaries)
	cand := index(candidate.Summaries)

	for _, p := range sortedPoints(base) {
		b := base[p]
		c, ok := cand[p]
		if !ok {
			d.Missing = append(d.Missing, p)
			continue
		}
		change := Change{Method: p.Method, Size: p.Size, Baseline: b, Current: c, ChangePct: percentChange(b, c)}
		switch {
		case change.ChangePct > g.config.Threshold:
			d.Regressions = append(d.Regressions, change)
		case change.ChangePct < -g.config.Threshold:
			d.Improvements = append(d.Improvements, change)
		default:
			d.Unchanged++
		}
	}
	for _, p := range sortedPoints(cand) {
		if _, ok := base[p]; !ok {
			d.Added = append(d.Added, p)
		}
	}

	d.Pass = len(d.Regressions) <= g.config.AllowedRegressions &&
		!(g.config.FailOnMissing && len(d.Missing) > 0)
	d.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("regressions", len(d.Regressions)),
		attribute.Int("improvements", len(d.Improvements)),
		attribute.Bool("pass", d.Pass),
	)
	g.config.Logger.Info("regression gate",
		slog.String("baseline", baseline.ID),
		slog.String("candidate", candidate.ID),
		slog.Int("regressions", len(d.Regressions)),
		slog.Int("improvements", len(d.Improvements)),
		slog.Int("missing", len(d.Missing)),
		slog.Bool("pass", d.Pass),
	)

	if !d.Pass {
		err := fmt.Errorf("%w: %d regressions, %d missing", ErrGateFailed, len(d.Regressions), len(d.Missing))
		span.RecordError(err)
		span.SetStatus(codes.Error, "gate failed")
		return d, err
	}
	span.SetStatus(codes.Ok, "")
	return d, nil
}

func index(summaries []report.Summary) map[Point]float64 {
	out := make(map[Point]float64, len(summaries))
	for _, s := range summaries {
		out[Point{Method: s.Method, Size: s.Size}] = s.Seconds
	}
	return out
}

func sortedPoints(m map[Point]float64) []Point {
	out := make([]Point, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Method != out[j].Method {
			return out[i].Method < out[j].Method
		}
		return out[i].Size < out[j].Size
	})
	return out
}

func percentChange(baseline, current float64) float64 {
	if baseline == 0 {
		return 0
	}
	return ((current - baseline) / baseline) * 100
}
