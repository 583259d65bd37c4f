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
	"cmp"
	"slices"

	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/timing"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Policy reduces repeated records for one (method, size) to a single time.
type Policy string

const (
	// PolicyMin keeps the fastest run.
	PolicyMin Policy = "min"

	// PolicyLast keeps the run logged last.
	PolicyLast Policy = "last"

	// PolicyMean averages all runs.
	PolicyMean Policy = "mean"
)

// DefaultPolicy is used when none is configured.
const DefaultPolicy = PolicyMin

// ParsePolicy validates a policy name. Empty selects DefaultPolicy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return DefaultPolicy, nil
	case PolicyMin, PolicyLast, PolicyMean:
		return p, nil
	default:
		return "", bench.Configurationf("report.ParsePolicy", "unknown reduction policy %q (want min, last or mean)", s)
	}
}

// Summary aggregates every record of one (method, size).
type Summary struct {
	Method string `json:"method"`
	Size   int    `json:"size"`
	Runs   int    `json:"runs"`

	// Seconds is the value selected by the reduction policy.
	Seconds float64 `json:"seconds"`

	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize groups records by (method, size) and reduces each group.
//
// Description:
//
//	Groups are returned sorted by (method, size). StdDev is the sample
//	standard deviation and is zero for a single run.
func Summarize(records []timing.Record, policy Policy) []Summary {
	type key struct {
		method string
		size   int
	}
	groups := make(map[key][]float64)
	var order []key
	for _, r := range records {
		k := key{r.Method, r.Size}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r.Seconds)
	}

	out := make([]Summary, 0, len(order))
	for _, k := range order {
		xs := groups[k]
		s := Summary{
			Method: k.method,
			Size:   k.size,
			Runs:   len(xs),
			Min:    floats.Min(xs),
			Max:    floats.Max(xs),
		}
		if len(xs) > 1 {
			s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
		} else {
			s.Mean = xs[0]
		}
		switch policy {
		case PolicyLast:
			s.Seconds = xs[len(xs)-1]
		case PolicyMean:
			s.Seconds = s.Mean
		default:
			s.Seconds = s.Min
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Summary) int {
		if c := cmp.Compare(a.Method, b.Method); c != 0 {
			return c
		}
		return cmp.Compare(a.Size, b.Size)
	})
	return out
}

// Methods returns the distinct methods of summaries in order of appearance.
func Methods(summaries []Summary) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range summaries {
		if !seen[s.Method] {
			seen[s.Method] = true
			out = append(out, s.Method)
		}
	}
	return out
}
