// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires tracing and metric sinks for benchmark sessions.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("unknown exporter")
)

// Exporter names accepted by TracingConfig.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracingConfig controls span export.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string

	// Exporter is none, stdout or otlp.
	Exporter string

	// OTLPEndpoint is host:port of an OTLP gRPC collector.
	OTLPEndpoint string
	OTLPInsecure bool

	// StdoutPath receives spans for the stdout exporter. Empty means stderr,
	// which keeps span JSON out of the command's own output.
	StdoutPath string
}

// DefaultTracingConfig returns a config with tracing disabled.
//
// Environment variables override defaults:
//   - OTEL_TRACES_EXPORTER: exporter name
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:    "matbench",
		ServiceVersion: "1.0.0",
		Exporter:       getEnvOr("OTEL_TRACES_EXPORTER", ExporterNone),
		OTLPEndpoint:   getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

// InitTracing installs the global TracerProvider.
//
// Description:
//
//	With the none exporter nothing is installed and spans stay no-ops.
//
// Outputs:
//   - shutdown: Flushes and closes exporters. Always non-nil on success.
//   - error: ErrNilContext, ErrUnknownExporter, or an exporter failure.
//
// Example:
//
//	shutdown, err := telemetry.InitTracing(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("init tracing: %w", err)
//	}
//	defer shutdown(context.Background())
//
// Thread Safety: Call once at startup.
func InitTracing(ctx context.Context, cfg TracingConfig) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	noop := func(context.Context) error { return nil }

	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		return noop, nil
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	var (
		exporter trace.SpanExporter
		closer   io.Closer
	)
	switch cfg.Exporter {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)

	case ExporterStdout:
		var w io.Writer = os.Stderr
		if cfg.StdoutPath != "" {
			f, ferr := os.OpenFile(cfg.StdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if ferr != nil {
				return nil, fmt.Errorf("open span file: %w", ferr)
			}
			w, closer = f, f
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if closer != nil {
			err = errors.Join(err, closer.Close())
		}
		return err
	}, nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
