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
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/matbench/services/bench/timing"
	"github.com/AleutianAI/matbench/services/bench/verify"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxConfig locates the bucket timing points are written to.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// Validate checks required fields.
func (c InfluxConfig) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("influx url is required"))
	}
	if c.Org == "" {
		errs = append(errs, errors.New("influx org is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("influx bucket is required"))
	}
	return errors.Join(errs...)
}

// PointWriter is the subset of the InfluxDB blocking write API the sink uses.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink exports a session's timings and verdicts as points.
type InfluxSink struct {
	writer      PointWriter
	measurement string
	closeFn     func()
}

// NewInfluxSink connects to InfluxDB.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurementOr(cfg.Measurement),
		closeFn:     client.Close,
	}, nil
}

// NewInfluxSinkWithWriter creates a sink over an existing writer.
func NewInfluxSinkWithWriter(w PointWriter, measurement string) *InfluxSink {
	return &InfluxSink{writer: w, measurement: measurementOr(measurement)}
}

func measurementOr(m string) string {
	if m == "" {
		return "matbench"
	}
	return m
}

// WriteSession writes one point per timing record and per verification
// result.
//
// Description:
//
//	Timing points carry tags session, host, method and size and the field
//	seconds. Repeated (method, size) records are kept apart by offsetting
//	their timestamps by their position in the log, so none overwrite
//	another. Verification points use the measurement suffix "_verify".
func (s *InfluxSink) WriteSession(ctx context.Context, sessionID, host string, at time.Time, records []timing.Record, results []verify.Result) error {
	points := make([]*write.Point, 0, len(records)+len(results))
	for i, r := range records {
		points = append(points, influxdb2.NewPoint(
			s.measurement,
			map[string]string{
				"session": sessionID,
				"host":    host,
				"method":  r.Method,
				"size":    strconv.Itoa(r.Size),
			},
			map[string]interface{}{"seconds": r.Seconds},
			at.Add(time.Duration(i)*time.Microsecond),
		))
	}
	for _, r := range results {
		points = append(points, influxdb2.NewPoint(
			s.measurement+"_verify",
			map[string]string{
				"session": sessionID,
				"host":    host,
				"kernel":  r.Kernel,
				"size":    strconv.Itoa(r.Size),
			},
			map[string]interface{}{
				"mean_absolute_error": r.MeanAbsoluteError,
				"pass":                r.Pass,
			},
			at,
		))
	}
	if len(points) == 0 {
		return nil
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write influx points: %w", err)
	}
	return nil
}

// Close releases the client, if the sink owns one.
func (s *InfluxSink) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}
