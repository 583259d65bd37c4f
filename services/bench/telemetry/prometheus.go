// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/AleutianAI/matbench/services/bench/timing"
	"github.com/AleutianAI/matbench/services/bench/verify"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrInvalidConfig indicates an invalid sink configuration.
	ErrInvalidConfig = errors.New("invalid prometheus configuration")

	// ErrRegistrationFailed indicates a collector could not be registered.
	ErrRegistrationFailed = errors.New("metric registration failed")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// PrometheusConfig configures the Prometheus sink.
type PrometheusConfig struct {
	// Namespace prefixes all metric names.
	Namespace string

	// Subsystem follows the namespace in metric names.
	Subsystem string

	// Registry collects the sink's metrics. Nil creates a private registry,
	// so textfile exports contain only session metrics.
	Registry *prometheus.Registry

	// SecondsBuckets are the histogram buckets for kernel-reported times.
	SecondsBuckets []float64
}

// DefaultPrometheusConfig returns buckets spanning microsecond kernels to
// multi-minute naive runs.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace:      "matbench",
		Subsystem:      "session",
		SecondsBuckets: prometheus.ExponentialBuckets(0.00001, 4, 14),
	}
}

// Validate checks required fields.
func (c *PrometheusConfig) Validate() error {
	if c.Namespace == "" {
		return errors.New("namespace is required")
	}
	if c.Subsystem == "" {
		return errors.New("subsystem is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sink
// -----------------------------------------------------------------------------

// PrometheusSink records session metrics.
//
// Thread Safety: Safe for concurrent use.
type PrometheusSink struct {
	registry *prometheus.Registry

	invocations    *prometheus.CounterVec
	kernelSeconds  *prometheus.HistogramVec
	kernelLatest   *prometheus.GaugeVec
	meanError      *prometheus.GaugeVec
	verifyFailures *prometheus.CounterVec
	inputs         *prometheus.CounterVec
	skippedLines   prometheus.Gauge
	errorsTotal    *prometheus.CounterVec

	mu sync.Mutex
}

// NewPrometheusSink creates the sink and registers its collectors.
//
// Outputs:
//   - *PrometheusSink: The sink.
//   - error: ErrInvalidConfig or ErrRegistrationFailed.
func NewPrometheusSink(config *PrometheusConfig) (*PrometheusSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	cfg := *config
	if cfg.SecondsBuckets == nil {
		cfg.SecondsBuckets = DefaultPrometheusConfig().SecondsBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &PrometheusSink{registry: registry}

	s.invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "kernel_invocations_total",
			Help:      "Kernel process invocations by outcome",
		},
		[]string{"kernel", "status"},
	)
	s.kernelSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "kernel_reported_seconds",
			Help:      "Multiplication time reported by kernels",
			Buckets:   cfg.SecondsBuckets,
		},
		[]string{"method"},
	)
	s.kernelLatest = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "kernel_last_seconds",
			Help:      "Last reported time per method and size",
		},
		[]string{"method", "size"},
	)
	s.meanError = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "verify_mean_absolute_error",
			Help:      "Mean absolute error of kernel output against the reference",
		},
		[]string{"kernel", "size"},
	)
	s.verifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "verify_failures_total",
			Help:      "Verifications above tolerance",
		},
		[]string{"kernel"},
	)
	s.inputs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "corpus_inputs_total",
			Help:      "Input pairs prepared, by source",
		},
		[]string{"source"},
	)
	s.skippedLines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "log_skipped_lines",
			Help:      "Malformed timing log lines skipped in the last parse",
		},
	)
	s.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "errors_total",
			Help:      "Session errors by kind",
		},
		[]string{"kind"},
	)

	for _, c := range []prometheus.Collector{
		s.invocations, s.kernelSeconds, s.kernelLatest, s.meanError,
		s.verifyFailures, s.inputs, s.skippedLines, s.errorsTotal,
	} {
		if err := registry.Register(c); err != nil {
			return nil, errors.Join(ErrRegistrationFailed, err)
		}
	}
	return s, nil
}

// Registry returns the registry the sink's collectors live in.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// RecordInvocation counts one kernel run.
func (s *PrometheusSink) RecordInvocation(kernelName string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	s.invocations.WithLabelValues(kernelName, status).Inc()
}

// RecordInputs counts one prepared input pair.
func (s *PrometheusSink) RecordInputs(generated bool) {
	source := "cache"
	if generated {
		source = "generated"
	}
	s.inputs.WithLabelValues(source).Inc()
}

// RecordLog records every parsed timing and the skipped line count.
func (s *PrometheusSink) RecordLog(log timing.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range log.Records {
		s.kernelSeconds.WithLabelValues(r.Method).Observe(r.Seconds)
		s.kernelLatest.WithLabelValues(r.Method, strconv.Itoa(r.Size)).Set(r.Seconds)
	}
	s.skippedLines.Set(float64(log.Skipped))
}

// RecordVerification records verification results.
func (s *PrometheusSink) RecordVerification(results []verify.Result) {
	for _, r := range results {
		s.meanError.WithLabelValues(r.Kernel, strconv.Itoa(r.Size)).Set(r.MeanAbsoluteError)
		if !r.Pass {
			s.verifyFailures.WithLabelValues(r.Kernel).Inc()
		}
	}
}

// RecordError counts a session error of the given kind.
func (s *PrometheusSink) RecordError(kind string) {
	s.errorsTotal.WithLabelValues(kind).Inc()
}

// WriteTextfile writes all metrics in the node_exporter textfile format.
func (s *PrometheusSink) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, s.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
