// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/matbench/pkg/logging"
	"github.com/AleutianAI/matbench/pkg/validation"
	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/kernel"
	"github.com/AleutianAI/matbench/services/bench/report"
	"github.com/AleutianAI/matbench/services/bench/session"
	"github.com/AleutianAI/matbench/services/bench/sweep"
	"github.com/AleutianAI/matbench/services/bench/telemetry"
	"github.com/AleutianAI/matbench/services/bench/verify"
	"github.com/go-playground/validator/v10"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "matbench.yaml"

type MatbenchConfig struct {
	// Sweep: which matrix sizes to run
	Sweep SweepConfig `yaml:"sweep"`

	// Kernels: which kernels to run, and optionally a custom registry
	Kernels KernelsConfig `yaml:"kernels"`

	// Paths: every file and directory the session reads or writes
	Paths PathsConfig `yaml:"paths"`

	Verify VerifyConfig `yaml:"verify"`

	Report ReportConfig `yaml:"report"`

	Telemetry TelemetryConfig `yaml:"telemetry"`

	// History: badger store of past sessions for `history` and `compare`
	History HistoryConfig `yaml:"history"`

	Logging LoggingConfig `yaml:"logging"`
}

type SweepConfig struct {
	Sizes   []int  `yaml:"sizes,omitempty" validate:"dive,gt=0"` // overrides min/max when set
	MinSize int    `yaml:"min_size" validate:"gt=0"`
	MaxSize int    `yaml:"max_size" validate:"gt=0"`
	Seed    uint64 `yaml:"seed"`
	Regen   bool   `yaml:"regen_inputs"`
}

type KernelsConfig struct {
	// Select names kernels to run; empty runs all
	Select []string `yaml:"select,omitempty"`

	// Registry replaces the built-in six kernels when non-empty
	Registry []kernel.Descriptor `yaml:"registry,omitempty" validate:"dive"`
}

type PathsConfig struct {
	DataDir      string `yaml:"data_dir" validate:"required"`
	BinDir       string `yaml:"bin_dir" validate:"required"`
	OutputDir    string `yaml:"output_dir" validate:"required"`
	SourceDir    string `yaml:"source_dir"`
	BuildCommand string `yaml:"build_command"`
	SkipBuild    bool   `yaml:"skip_build"`
	LogFile      string `yaml:"log_file" validate:"required"`
	CSVFile      string `yaml:"csv_file" validate:"required"`
	PlotFile     string `yaml:"plot_file"` // empty disables charts
	MetricsFile  string `yaml:"metrics_file,omitempty"`
}

type VerifyConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Tolerance    float64 `yaml:"tolerance" validate:"gte=0"`
	CheckMethods bool    `yaml:"check_methods"`
}

type ReportConfig struct {
	Policy string `yaml:"policy" validate:"oneof=min last mean"`
}

type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Influx  InfluxConfig  `yaml:"influx"`
}

type TracingConfig struct {
	Exporter     string `yaml:"exporter,omitempty" validate:"omitempty,oneof=none stdout otlp"` // empty defers to OTEL_TRACES_EXPORTER
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"required_if=Exporter otlp"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutPath   string `yaml:"stdout_path,omitempty"`
}

type InfluxConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url,omitempty" validate:"required_if=Enabled true"`
	Token       string `yaml:"token,omitempty"`
	Org         string `yaml:"org,omitempty" validate:"required_if=Enabled true"`
	Bucket      string `yaml:"bucket,omitempty" validate:"required_if=Enabled true"`
	Measurement string `yaml:"measurement,omitempty"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

func DefaultConfig() MatbenchConfig {
	def := session.DefaultConfig()
	return MatbenchConfig{
		Sweep: SweepConfig{
			MinSize: sweep.DefaultMinSize,
			MaxSize: sweep.DefaultMaxSize,
		},
		Paths: PathsConfig{
			DataDir:      def.DataDir,
			BinDir:       def.BinDir,
			OutputDir:    def.OutputDir,
			SourceDir:    def.SourceDir,
			BuildCommand: def.BuildCommand,
			LogFile:      def.LogFile,
			CSVFile:      def.CSVFile,
			PlotFile:     def.PlotFile,
		},
		Verify: VerifyConfig{Tolerance: verify.DefaultTolerance},
		Report: ReportConfig{Policy: string(report.DefaultPolicy)},
		Telemetry: TelemetryConfig{
			Influx: InfluxConfig{Measurement: "matbench_timing"},
		},
		History: HistoryConfig{Enabled: true, Dir: ".matbench/history"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags, then the rules that span fields.
//
// Outputs:
//   - error: ErrConfiguration listing every violation, or nil.
func (c *MatbenchConfig) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return bench.Configurationf("config.Validate", "%v", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if len(c.Sweep.Sizes) == 0 && c.Sweep.MinSize > c.Sweep.MaxSize {
		problems = append(problems, fmt.Sprintf("sweep.min_size (%d) exceeds sweep.max_size (%d)",
			c.Sweep.MinSize, c.Sweep.MaxSize))
	}
	if err := validation.ValidateKernelNames(c.Kernels.Select); err != nil {
		problems = append(problems, "kernels.select: "+err.Error())
	}
	if len(c.Kernels.Registry) > 0 {
		if _, err := c.KernelRegistry(); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return bench.Configurationf("config.Validate", "%s", strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "MatbenchConfig.")
	if fe.Param() != "" {
		return fmt.Sprintf("%s fails %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s fails %s (got %v)", field, fe.Tag(), fe.Value())
}

// -----------------------------------------------------------------------------
// Conversions
// -----------------------------------------------------------------------------

// KernelRegistry returns the configured registry, or the built-in one.
func (c *MatbenchConfig) KernelRegistry() (*kernel.Registry, error) {
	if len(c.Kernels.Registry) == 0 {
		return kernel.Default(), nil
	}
	return kernel.NewRegistry(c.Kernels.Registry...)
}

// Session converts the file settings to a session config.
func (c *MatbenchConfig) Session() session.Config {
	return session.Config{
		Sizes:        c.Sweep.Sizes,
		MinSize:      c.Sweep.MinSize,
		MaxSize:      c.Sweep.MaxSize,
		Kernels:      c.Kernels.Select,
		Seed:         c.Sweep.Seed,
		RegenInputs:  c.Sweep.Regen,
		DataDir:      c.Paths.DataDir,
		BinDir:       c.Paths.BinDir,
		OutputDir:    c.Paths.OutputDir,
		SourceDir:    c.Paths.SourceDir,
		BuildCommand: c.Paths.BuildCommand,
		SkipBuild:    c.Paths.SkipBuild,
		LogFile:      c.Paths.LogFile,
		CSVFile:      c.Paths.CSVFile,
		PlotFile:     c.Paths.PlotFile,
		Policy:       report.Policy(c.Report.Policy),
		Verify:       c.Verify.Enabled,
		Tolerance:    c.Verify.Tolerance,
		CheckMethods: c.Verify.CheckMethods,
		MetricsFile:  c.Paths.MetricsFile,
	}
}

// Tracing returns the tracing settings, starting from the environment
// defaults.
func (c *MatbenchConfig) Tracing(version string) telemetry.TracingConfig {
	tc := telemetry.DefaultTracingConfig()
	tc.ServiceVersion = version
	if c.Telemetry.Tracing.Exporter != "" {
		tc.Exporter = c.Telemetry.Tracing.Exporter
	}
	if c.Telemetry.Tracing.OTLPEndpoint != "" {
		tc.OTLPEndpoint = c.Telemetry.Tracing.OTLPEndpoint
	}
	tc.OTLPInsecure = c.Telemetry.Tracing.OTLPInsecure
	tc.StdoutPath = c.Telemetry.Tracing.StdoutPath
	return tc
}

// Influx returns the InfluxDB settings.
func (c *MatbenchConfig) Influx() telemetry.InfluxConfig {
	return telemetry.InfluxConfig{
		URL:         c.Telemetry.Influx.URL,
		Token:       c.Telemetry.Influx.Token,
		Org:         c.Telemetry.Influx.Org,
		Bucket:      c.Telemetry.Influx.Bucket,
		Measurement: c.Telemetry.Influx.Measurement,
	}
}

// Logger returns the logging settings. Quiet without a log directory keeps
// errors on the console, since the logger never drops output entirely.
func (c *MatbenchConfig) Logger(quiet bool) logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	if quiet && c.Logging.Dir == "" {
		level = logging.LevelError
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: "matbench",
		JSON:    c.Logging.JSON,
		Quiet:   quiet,
	}
}
