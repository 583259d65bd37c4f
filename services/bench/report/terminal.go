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
	"fmt"
	"strings"

	"github.com/AleutianAI/matbench/pkg/ux"
	"github.com/AleutianAI/matbench/services/bench/verify"
)

// PrintSummary prints the reduced timings and, when present, the
// verification verdicts.
func PrintSummary(p *ux.Printer, summaries []Summary, results []verify.Result) {
	width := len("method")
	for _, s := range summaries {
		width = max(width, len(s.Method))
	}
	for _, r := range results {
		width = max(width, len(r.Kernel))
	}

	var sb strings.Builder
	sb.WriteString(p.Render(ux.Styles.Header,
		fmt.Sprintf("%-*s %6s %14s %5s %12s", width, "method", "size", "seconds", "runs", "stddev")))
	for _, s := range summaries {
		fmt.Fprintf(&sb, "\n%-*s %6d %14.9f %5d %12.9f", width, s.Method, s.Size, s.Seconds, s.Runs, s.StdDev)
	}
	p.Box("Timings", sb.String())

	if len(results) == 0 {
		return
	}
	sb.Reset()
	sb.WriteString(p.Render(ux.Styles.Header,
		fmt.Sprintf("%-*s %6s %14s %10s", width, "kernel", "size", "mean_error", "verdict")))
	for _, r := range results {
		style, verdict := ux.Styles.Success, "pass"
		if !r.Pass {
			style, verdict = ux.Styles.Error, "FAIL"
		}
		line := fmt.Sprintf("%-*s %6d %14.6g %10s", width, r.Kernel, r.Size, r.MeanAbsoluteError, verdict)
		sb.WriteString("\n" + p.Render(style, line))
	}
	p.Box("Verification", sb.String())
}
