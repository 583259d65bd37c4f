// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/matbench/pkg/ux"
	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/history"
	"github.com/AleutianAI/matbench/services/bench/kernel"
	"github.com/AleutianAI/matbench/services/bench/orchestrator"
	bstore "github.com/AleutianAI/matbench/services/bench/storage/badger"
	"github.com/AleutianAI/matbench/services/bench/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Kernels
// -----------------------------------------------------------------------------

// multiplyKernel computes the exact product with awk and logs one line.
const multiplyKernel = `#!/bin/sh
awk '
FNR == 1 { f++; k = 0 }
{
	for (i = 1; i <= NF; i++) {
		if (k == 0) { n = $i } else if (f == 1) { a[k-1] = $i } else { b[k-1] = $i }
		k++
	}
}
END {
	printf "%d\n", n > out
	for (i = 0; i < n; i++) {
		for (j = 0; j < n; j++) {
			s = 0
			for (p = 0; p < n; p++) s += a[i*n+p] * b[p*n+j]
			printf "%s%d", ((i || j) ? " " : ""), s > out
		}
	}
	printf "\n" > out
}' out="$3" "$1" "$2"
n=$(head -n 1 "$1")
printf '%s,%s,0.%s\n' METHOD "$n" "$n" >> "$4"
`

// copyKernel writes A as its product, which is wrong for any random input.
const copyKernel = `#!/bin/sh
cp "$1" "$3"
n=$(head -n 1 "$1")
printf 'METHOD,%s,0.5\n' "$n" >> "$4"
`

type fixture struct {
	root    string
	binDir  string
	cfg     Config
	kernels []kernel.Descriptor
	out     bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{root: root, binDir: filepath.Join(root, "build")}
	require.NoError(t, os.MkdirAll(f.binDir, 0755))

	cfg := DefaultConfig()
	cfg.Sizes = []int{4, 8}
	cfg.Seed = 7
	cfg.SkipBuild = true
	cfg.DataDir = filepath.Join(root, "data")
	cfg.BinDir = f.binDir
	cfg.OutputDir = filepath.Join(root, "out")
	cfg.LogFile = filepath.Join(root, "timings.log")
	cfg.CSVFile = filepath.Join(root, "timings.csv")
	cfg.PlotFile = filepath.Join(root, "timings.png")
	f.cfg = cfg
	return f
}

func (f *fixture) addKernel(t *testing.T, name, label, script string) {
	t.Helper()
	body := bytes.ReplaceAll([]byte(script), []byte("METHOD"), []byte(label))
	require.NoError(t, os.WriteFile(filepath.Join(f.binDir, name), body, 0755))
	f.kernels = append(f.kernels, kernel.Descriptor{Name: name, Label: label, Binary: name})
}

func (f *fixture) runner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	reg, err := kernel.NewRegistry(f.kernels...)
	require.NoError(t, err)
	base := []Option{
		WithRegistry(reg),
		WithPlotter(nil),
		WithPrinter(ux.NewPrinter(&f.out)),
		WithKernelOutput(io.Discard, io.Discard),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return NewRunner(f.cfg, append(base, opts...)...)
}

func openHistory(t *testing.T) *history.Store {
	t.Helper()
	db, err := bstore.OpenDB(bstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return history.NewStore(db)
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestRun_VerifiedSession(t *testing.T) {
	f := newFixture(t)
	f.addKernel(t, "naive", "NAIVE", multiplyKernel)
	f.addKernel(t, "tiled", "TILED", multiplyKernel)
	f.cfg.Verify = true
	f.cfg.MetricsFile = filepath.Join(f.root, "metrics.prom")

	sink, err := telemetry.NewPrometheusSink(telemetry.DefaultPrometheusConfig())
	require.NoError(t, err)
	store := openHistory(t)

	s, err := f.runner(t, WithMetrics(sink), WithHistory(store)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, history.StatusSucceeded, s.Status)
	assert.Len(t, s.ID, 12)
	assert.Equal(t, []int{4, 8}, s.Sizes)
	assert.Equal(t, []string{"naive", "tiled"}, s.Kernels)
	assert.Len(t, s.Records, 4)
	assert.Len(t, s.Summaries, 4)
	require.Len(t, s.Verification, 4)
	for _, r := range s.Verification {
		assert.True(t, r.Pass, "%s at %d", r.Kernel, r.Size)
		assert.Zero(t, r.MeanAbsoluteError)
	}

	csv, err := os.ReadFile(f.cfg.CSVFile)
	require.NoError(t, err)
	assert.Contains(t, string(csv), "NAIVE,4,0.400000000")
	assert.Contains(t, string(csv), "TILED,8,0.800000000")

	assert.FileExists(t, filepath.Join(f.cfg.DataDir, "C_4.dat"))
	assert.FileExists(t, filepath.Join(f.cfg.OutputDir, "tiled_8.dat"))
	assert.FileExists(t, f.cfg.MetricsFile)
	assert.Contains(t, f.out.String(), "Verification")

	metrics, err := os.ReadFile(f.cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `matbench_session_kernel_invocations_total{kernel="naive",status="ok"} 2`)
	assert.Contains(t, string(metrics), `matbench_session_corpus_inputs_total{source="generated"} 2`)

	stored, err := store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Records, 4)
	assert.Equal(t, history.StatusSucceeded, stored.Status)
}

func TestRun_VerificationFailureStillExports(t *testing.T) {
	f := newFixture(t)
	f.addKernel(t, "broken", "BROKEN", copyKernel)
	f.cfg.Verify = true

	s, err := f.runner(t).Run(context.Background())
	require.ErrorIs(t, err, ErrVerificationFailed)

	assert.Equal(t, history.StatusFailed, s.Status)
	require.Len(t, s.Verification, 2)
	assert.False(t, s.Verification[0].Pass)
	assert.Greater(t, s.Verification[0].MeanAbsoluteError, 0.0)
	assert.FileExists(t, f.cfg.CSVFile)
}

func TestRun_MissingBinaryLeavesLogUntouched(t *testing.T) {
	f := newFixture(t)
	f.kernels = []kernel.Descriptor{{Name: "ghost", Label: "GHOST", Binary: "ghost"}}
	require.NoError(t, os.WriteFile(f.cfg.LogFile, []byte("OLD,4,1.0\n"), 0644))
	store := openHistory(t)

	s, err := f.runner(t, WithHistory(store)).Run(context.Background())
	require.ErrorIs(t, err, bench.ErrMissingBinary)

	data, readErr := os.ReadFile(f.cfg.LogFile)
	require.NoError(t, readErr)
	assert.Equal(t, "OLD,4,1.0\n", string(data))
	assert.NoDirExists(t, f.cfg.OutputDir)
	assert.NoFileExists(t, f.cfg.CSVFile)

	stored, getErr := store.Get(context.Background(), s.ID)
	require.NoError(t, getErr)
	assert.Equal(t, history.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "ghost")
}

func TestRun_ProcessFailureKeepsEarlierTimings(t *testing.T) {
	f := newFixture(t)
	f.addKernel(t, "flaky", "FLAKY", `#!/bin/sh
n=$(head -n 1 "$1")
if [ "$n" = "8" ]; then exit 3; fi
cp "$1" "$3"
printf 'FLAKY,%s,0.25\n' "$n" >> "$4"
`)

	s, err := f.runner(t).Run(context.Background())
	require.ErrorIs(t, err, bench.ErrProcessFailure)
	assert.Contains(t, err.Error(), "size=8")

	require.Len(t, s.Records, 1)
	assert.Equal(t, 4, s.Records[0].Size)
	assert.FileExists(t, filepath.Join(f.cfg.OutputDir, "flaky_4.dat"))
	assert.NoFileExists(t, f.cfg.CSVFile)
}

func TestRun_EmptyResult(t *testing.T) {
	f := newFixture(t)
	f.addKernel(t, "silent", "SILENT", `#!/bin/sh
cp "$1" "$3"
echo "not,a,timing" >> "$4"
`)

	s, err := f.runner(t).Run(context.Background())
	require.ErrorIs(t, err, bench.ErrEmptyResult)
	assert.Equal(t, 2, s.Skipped)
	assert.NoFileExists(t, f.cfg.CSVFile)
}

func TestRun_EmptySweep(t *testing.T) {
	f := newFixture(t)
	f.addKernel(t, "naive", "NAIVE", multiplyKernel)
	f.cfg.Sizes = nil
	f.cfg.MinSize, f.cfg.MaxSize = 100, 100

	_, err := f.runner(t).Run(context.Background())
	require.ErrorIs(t, err, bench.ErrConfiguration)
	assert.NoDirExists(t, f.cfg.DataDir)
}

func TestRun_UnknownKernel(t *testing.T) {
	f := newFixture(t)
	f.addKernel(t, "naive", "NAIVE", multiplyKernel)
	f.cfg.Kernels = []string{"strassen"}

	_, err := f.runner(t).Run(context.Background())
	require.ErrorIs(t, err, bench.ErrConfiguration)
	assert.ErrorIs(t, err, bench.ErrNotFound)
}

func TestRun_BuildFailureStopsSession(t *testing.T) {
	f := newFixture(t)
	f.addKernel(t, "naive", "NAIVE", multiplyKernel)
	f.cfg.SkipBuild = false
	f.cfg.SourceDir = f.root

	mock := &orchestrator.MockProcessManager{
		RunFunc: func(ctx context.Context, cmd orchestrator.Command) error {
			return errors.New("exit status 2")
		},
	}
	_, err := f.runner(t, WithProcessManager(mock)).Run(context.Background())
	require.ErrorIs(t, err, bench.ErrProcessFailure)

	calls := mock.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "make", calls[0].Path)
	assert.Equal(t, f.root, calls[0].Dir)
	assert.NoFileExists(t, f.cfg.LogFile)
}

func TestRun_SameSeedSameInputs(t *testing.T) {
	f := newFixture(t)
	f.addKernel(t, "naive", "NAIVE", multiplyKernel)
	f.cfg.Sizes = []int{4}

	_, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(f.cfg.DataDir, "A_4.dat"))
	require.NoError(t, err)

	f.cfg.DataDir = filepath.Join(f.root, "data2")
	_, err = f.runner(t).Run(context.Background())
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(f.cfg.DataDir, "A_4.dat"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRun_Clock(t *testing.T) {
	f := newFixture(t)
	f.addKernel(t, "naive", "NAIVE", multiplyKernel)
	f.cfg.Sizes = []int{4}

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	s, err := f.runner(t, WithClock(clock)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Second, s.Duration())
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "verification", errorKind(ErrVerificationFailed))
	assert.Equal(t, bench.ErrFormat.Error(), errorKind(&bench.Error{Kind: bench.ErrFormat}))
	assert.Equal(t, "other", errorKind(errors.New("x")))
}

func TestDetectHost(t *testing.T) {
	h := DetectHost()
	assert.NotEmpty(t, h.OS)
	assert.NotEmpty(t, h.Arch)
	assert.Positive(t, h.CPUs)
}
