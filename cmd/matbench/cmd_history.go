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
	"strings"
	"time"

	"github.com/AleutianAI/matbench/cmd/matbench/config"
	"github.com/AleutianAI/matbench/pkg/ux"
	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/history"
	"github.com/AleutianAI/matbench/services/bench/regression"
	"github.com/AleutianAI/matbench/services/bench/report"
	"github.com/spf13/cobra"
)

// historyStore opens the store or explains why there is none.
func (e *env) historyStore() (*history.Store, error) {
	store, err := e.openHistory()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, bench.Configurationf("history", "history is disabled in the config")
	}
	return store, nil
}

func (a *app) runHistoryList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := a.setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	store, err := e.historyStore()
	if err != nil {
		return err
	}
	sessions, err := store.List(ctx, a.historyLimit)
	if err != nil {
		return err
	}

	p := a.printer()
	if len(sessions) == 0 {
		p.Info("no stored sessions")
		return nil
	}
	var sb strings.Builder
	sb.WriteString(p.Render(ux.Styles.Header,
		fmt.Sprintf("%-12s %-19s %-9s %8s %s", "id", "started", "status", "records", "kernels")))
	for _, s := range sessions {
		style := ux.Styles.Success
		if s.Status != history.StatusSucceeded {
			style = ux.Styles.Error
		}
		line := fmt.Sprintf("%-12s %-19s %-9s %8d %s", s.ID, s.StartedAt.Local().Format(time.DateTime),
			s.Status, len(s.Records), strings.Join(s.Kernels, ","))
		sb.WriteString("\n" + p.Render(style, line))
	}
	p.Box("Sessions", sb.String())
	return nil
}

func (a *app) runHistoryShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := a.setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	store, err := e.historyStore()
	if err != nil {
		return err
	}
	s, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}

	p := a.printer()
	var sb strings.Builder
	fmt.Fprintf(&sb, "id:       %s\n", s.ID)
	fmt.Fprintf(&sb, "status:   %s\n", s.Status)
	fmt.Fprintf(&sb, "started:  %s\n", s.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(&sb, "duration: %s\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(&sb, "host:     %s\n", s.Host)
	if len(s.Host.Features) > 0 {
		fmt.Fprintf(&sb, "features: %s\n", strings.Join(s.Host.Features, " "))
	}
	fmt.Fprintf(&sb, "seed:     %d\n", s.Seed)
	fmt.Fprintf(&sb, "sizes:    %v\n", s.Sizes)
	fmt.Fprintf(&sb, "kernels:  %s\n", strings.Join(s.Kernels, ", "))
	fmt.Fprintf(&sb, "policy:   %s", s.Policy)
	if s.Skipped > 0 {
		fmt.Fprintf(&sb, "\nskipped:  %d malformed log lines", s.Skipped)
	}
	if s.Error != "" {
		fmt.Fprintf(&sb, "\nerror:    %s", s.Error)
	}
	p.Box("Session "+s.ID, sb.String())

	if len(s.Summaries) > 0 || len(s.Verification) > 0 {
		report.PrintSummary(p, s.Summaries, s.Verification)
	}
	return nil
}

// runCompare gates a candidate session against a baseline. Without
// --current the newest other session is the candidate.
func (a *app) runCompare(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := a.setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	store, err := e.historyStore()
	if err != nil {
		return err
	}
	baseline, err := store.Get(ctx, a.baselineID)
	if err != nil {
		return err
	}
	var candidate *history.Session
	if a.currentID != "" {
		candidate, err = store.Get(ctx, a.currentID)
	} else {
		candidate, err = store.Latest(ctx, baseline.ID)
	}
	if err != nil {
		return err
	}

	gate := regression.NewGate(
		regression.WithThreshold(a.threshold),
		regression.WithAllowedRegressions(a.allowed),
		regression.WithFailOnMissing(a.failOnMissing),
		regression.WithGateLogger(e.logger.Slog()),
	)
	decision, err := gate.Compare(ctx, baseline, candidate)
	fmt.Fprint(a.stdout, decision.Report())
	return err
}

// runInit writes the default config file.
func (a *app) runInit(_ *cobra.Command, args []string) error {
	path := config.DefaultFile
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.WriteDefault(path, a.force); err != nil {
		return err
	}
	a.printer().Success(fmt.Sprintf("wrote %s", path))
	return nil
}
