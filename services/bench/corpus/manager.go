// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package corpus produces, caches, and re-derives the input matrices and
// reference products a benchmark session runs against.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/matrix"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "matbench.corpus"

// -----------------------------------------------------------------------------
// File naming
// -----------------------------------------------------------------------------

// InputAPath returns the cached path of the left operand for size n.
func InputAPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("A_%d.dat", n))
}

// InputBPath returns the cached path of the right operand for size n.
func InputBPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("B_%d.dat", n))
}

// ReferencePath returns the cached path of the exact product for size n.
func ReferencePath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("C_%d.dat", n))
}

// -----------------------------------------------------------------------------
// Manager
// -----------------------------------------------------------------------------

// Config configures a corpus Manager.
type Config struct {
	// Dir is the cache directory holding A_<n>.dat, B_<n>.dat and C_<n>.dat.
	Dir string

	// Seed seeds the session's generator.
	Seed uint64

	// Force regenerates inputs even when cached files exist.
	Force bool

	// KeepForReference retains freshly generated matrices in memory until
	// Reference is called for their size. Enable it when the session verifies.
	KeepForReference bool
}

// Pair names the files prepared for one size.
type Pair struct {
	Size int
	A    string
	B    string

	// Generated reports whether the inputs were drawn in this session.
	Generated bool
}

type prepared struct {
	pair Pair
	a, b *matrix.Matrix
	ref  string
}

// Manager supplies inputs and reference products by size.
//
// Description:
//
//	Manager owns the session's Generator. Cached inputs are reused without
//	advancing the generator, so the values a freshly generated size receives
//	depend on how many sizes this Manager generated before it. Two sessions
//	with the same seed and sweep over an empty cache write identical files;
//	a session that finds some sizes cached does not reproduce a full run's
//	files for the sizes it generates. Each size is prepared at most once per
//	Manager.
//
// Thread Safety: Safe for concurrent use; calls are serialized internally.
type Manager struct {
	cfg      Config
	gen      *Generator
	manifest *Manifest
	logger   *slog.Logger

	mu    sync.Mutex
	sizes map[int]*prepared
}

// NewManager creates a Manager, loading the corpus manifest if present.
//
// Outputs:
//   - *Manager: Ready to supply inputs.
//   - error: Non-nil when the cache directory cannot be created or the
//     manifest is unreadable.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, bench.Configurationf("corpus.NewManager", "data directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	manifest, err := loadManifest(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		gen:      NewGenerator(cfg.Seed),
		manifest: manifest,
		logger:   slog.Default(),
		sizes:    make(map[int]*prepared),
	}, nil
}

// SetLogger sets the logger for corpus events.
func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Generator exposes the session's generator.
func (m *Manager) Generator() *Generator {
	return m.gen
}

// Inputs returns the input files for size, generating them when needed.
//
// Description:
//
//	When both A_<n>.dat and B_<n>.dat exist and Force is false they are
//	reused untouched. Otherwise A then B are drawn from the generator and
//	written atomically; a reference product left over from earlier inputs is
//	removed so it can never be compared against the new pair.
//
// Inputs:
//   - ctx: Carries the trace span.
//   - size: Matrix dimension. Must be positive.
//
// Outputs:
//   - Pair: Paths of the prepared inputs.
//   - error: ErrConfiguration for a non-positive size, or an I/O error.
func (m *Manager) Inputs(ctx context.Context, size int) (Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.inputsLocked(ctx, size)
	if err != nil {
		return Pair{}, err
	}
	return p.pair, nil
}

func (m *Manager) inputsLocked(ctx context.Context, size int) (*prepared, error) {
	if p, ok := m.sizes[size]; ok {
		return p, nil
	}
	if size <= 0 {
		return nil, bench.Configurationf("corpus.Inputs", "matrix size must be positive, got %d", size)
	}

	p := &prepared{pair: Pair{
		Size: size,
		A:    InputAPath(m.cfg.Dir, size),
		B:    InputBPath(m.cfg.Dir, size),
	}}

	if !m.cfg.Force && fileExists(p.pair.A) && fileExists(p.pair.B) {
		if entry, ok := m.manifest.Entries[size]; ok && entry.Seed != m.cfg.Seed {
			m.logger.Warn("reusing inputs generated with a different seed",
				slog.Int("size", size),
				slog.Uint64("cached_seed", entry.Seed),
				slog.Uint64("seed", m.cfg.Seed),
			)
		}
		m.logger.Debug("reusing cached inputs", slog.Int("size", size))
		m.sizes[size] = p
		return p, nil
	}

	if err := m.generate(ctx, p); err != nil {
		return nil, err
	}
	m.sizes[size] = p
	return p, nil
}

func (m *Manager) generate(ctx context.Context, p *prepared) error {
	size := p.pair.Size
	_, span := otel.Tracer(tracerName).Start(ctx, "corpus.Manager.generate",
		trace.WithAttributes(
			attribute.Int("size", size),
			attribute.Int64("seed", int64(m.cfg.Seed)),
		),
	)
	defer span.End()

	m.logger.Info("[data] generating inputs", slog.Int("size", size))

	a := matrix.New(size)
	m.gen.Fill(a)
	b := matrix.New(size)
	m.gen.Fill(b)

	for _, w := range []struct {
		path string
		m    *matrix.Matrix
	}{{p.pair.A, a}, {p.pair.B, b}} {
		if err := matrix.WriteFile(w.path, w.m); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "write input failed")
			return err
		}
	}

	stale := ReferencePath(m.cfg.Dir, size)
	if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
		span.RecordError(err)
		return fmt.Errorf("remove stale reference %s: %w", stale, err)
	}

	p.pair.Generated = true
	if m.cfg.KeepForReference {
		p.a, p.b = a, b
	}

	m.manifest.Entries[size] = ManifestEntry{Seed: m.cfg.Seed, GeneratedAt: time.Now().UTC()}
	if err := m.manifest.save(m.cfg.Dir); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetStatus(codes.Ok, "inputs generated")
	return nil
}

// Reference returns the path of the exact product for size.
//
// Description:
//
//	Inputs are prepared first if needed. A product computed earlier from the
//	same inputs is reused. When the inputs were generated in this session the
//	product comes from the retained matrices; otherwise both operands are
//	decoded from disk and the product re-derived exactly.
//
// Outputs:
//   - string: Path of C_<n>.dat.
//   - error: A FormatError from a corrupt cached input, or an I/O error.
func (m *Manager) Reference(ctx context.Context, size int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.inputsLocked(ctx, size)
	if err != nil {
		return "", err
	}
	if p.ref != "" {
		return p.ref, nil
	}

	path := ReferencePath(m.cfg.Dir, size)
	if !p.pair.Generated && fileExists(path) {
		p.ref = path
		return path, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "corpus.Manager.Reference",
		trace.WithAttributes(
			attribute.Int("size", size),
			attribute.Bool("in_memory", p.a != nil),
		),
	)
	defer span.End()

	a, b := p.a, p.b
	if a == nil || b == nil {
		if a, err = matrix.ReadFile(p.pair.A); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode A failed")
			return "", err
		}
		if b, err = matrix.ReadFile(p.pair.B); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode B failed")
			return "", err
		}
	}

	m.logger.Info("[data] computing reference product", slog.Int("size", size))
	c, err := Multiply(ctx, a, b)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "multiply failed")
		return "", err
	}
	if err := matrix.WriteFile(path, c); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write reference failed")
		return "", err
	}

	p.a, p.b = nil, nil
	p.ref = path
	if entry, ok := m.manifest.Entries[size]; ok {
		entry.Reference = true
		m.manifest.Entries[size] = entry
		if err := m.manifest.save(m.cfg.Dir); err != nil {
			return "", err
		}
	}
	span.SetStatus(codes.Ok, "reference ready")
	return path, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
