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
	"fmt"

	"github.com/AleutianAI/replicability/services/replicability/batch"
	"github.com/AleutianAI/replicability/services/replicability/datatypes"
	"github.com/AleutianAI/replicability/services/replicability/telemetry"
)

// AnalysisFile is the root of an analysis YAML file.
type AnalysisFile struct {
	// Parallelism caps concurrent jobs. Zero uses GOMAXPROCS.
	Parallelism int `yaml:"parallelism" validate:"gte=0"`

	Telemetry TelemetryConfig `yaml:"telemetry"`

	Experiments []ExperimentConfig `yaml:"experiments" validate:"dive"`

	// Jobs are standalone KPI or variability computations over given samples.
	Jobs []JobConfig `yaml:"jobs" validate:"dive"`
}

// TelemetryConfig overrides telemetry.DefaultConfig. Empty fields keep the
// default.
type TelemetryConfig struct {
	Environment    string `yaml:"environment"`
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"omitempty,hostname_port"`
}

// Apply merges the overrides into cfg.
func (t TelemetryConfig) Apply(cfg telemetry.Config) telemetry.Config {
	if t.Environment != "" {
		cfg.Environment = t.Environment
	}
	if t.TraceExporter != "" {
		cfg.TraceExporter = t.TraceExporter
	}
	if t.MetricExporter != "" {
		cfg.MetricExporter = t.MetricExporter
	}
	if t.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = t.OTLPEndpoint
	}
	return cfg
}

// BoundsConfig is the declared range of a quantity.
type BoundsConfig struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high" validate:"gtfield=Low"`
}

// SpecConfig is the YAML form of datatypes.EstimatorSpec.
type SpecConfig struct {
	Percentile  float64      `yaml:"percentile" validate:"gt=0,lt=100"`
	Confidence  float64      `yaml:"confidence" validate:"gt=0,lt=100"`
	Bounds      BoundsConfig `yaml:"bounds"`
	Direction   string       `yaml:"direction" validate:"omitempty,oneof=auto lower upper"`
	OutOfBounds string       `yaml:"out_of_bounds" validate:"omitempty,oneof=reject widen"`
}

// Spec converts to a validated EstimatorSpec.
func (s SpecConfig) Spec() (datatypes.EstimatorSpec, error) {
	dir, err := datatypes.ParseDirection(s.Direction)
	if err != nil {
		return datatypes.EstimatorSpec{}, err
	}
	policy, err := datatypes.ParseOutOfBoundsPolicy(s.OutOfBounds)
	if err != nil {
		return datatypes.EstimatorSpec{}, err
	}
	return datatypes.NewEstimatorSpec(
		s.Percentile,
		s.Confidence,
		datatypes.Bounds{Low: s.Bounds.Low, High: s.Bounds.High},
		datatypes.WithDirection(dir),
		datatypes.WithOutOfBounds(policy),
	)
}

// MeasureConfig is the YAML form of datatypes.MeasureSpec.
type MeasureConfig struct {
	Kind       string  `yaml:"kind" validate:"required,oneof=percentile mean min max minimum maximum"`
	Percentile float64 `yaml:"percentile" validate:"gte=0,lt=100"`
	Unit       string  `yaml:"unit"`
}

// Measure converts to a validated MeasureSpec.
func (m MeasureConfig) Measure() (datatypes.MeasureSpec, error) {
	return datatypes.ParseMeasure(m.Kind, m.Percentile, m.Unit)
}

// SeriesConfig is one series: the samples of each run, in run order.
type SeriesConfig struct {
	Label string      `yaml:"label"`
	Runs  [][]float64 `yaml:"runs" validate:"required,min=1,dive,required,min=1"`
}

// ExperimentConfig is the YAML form of batch.Experiment.
type ExperimentConfig struct {
	Name        string         `yaml:"name" validate:"required"`
	Measure     MeasureConfig  `yaml:"measure"`
	KPI         SpecConfig     `yaml:"kpi"`
	Variability SpecConfig     `yaml:"variability"`
	Artifacts   []string       `yaml:"artifacts"`
	Series      []SeriesConfig `yaml:"series" validate:"required,min=1,dive"`
}

// Experiment converts to a batch.Experiment.
func (e ExperimentConfig) Experiment() (batch.Experiment, error) {
	measure, err := e.Measure.Measure()
	if err != nil {
		return batch.Experiment{}, fmt.Errorf("experiment %s: measure: %w", e.Name, err)
	}
	kpiSpec, err := e.KPI.Spec()
	if err != nil {
		return batch.Experiment{}, fmt.Errorf("experiment %s: kpi: %w", e.Name, err)
	}
	varSpec, err := e.Variability.Spec()
	if err != nil {
		return batch.Experiment{}, fmt.Errorf("experiment %s: variability: %w", e.Name, err)
	}
	artifacts, err := datatypes.ParseArtifactSet(e.Artifacts)
	if err != nil {
		return batch.Experiment{}, fmt.Errorf("experiment %s: %w", e.Name, err)
	}

	exp := batch.Experiment{
		Name:        e.Name,
		Measure:     measure,
		KPI:         kpiSpec,
		Variability: varSpec,
		Artifacts:   artifacts,
		Series:      make([]batch.Series, len(e.Series)),
	}
	for i, s := range e.Series {
		exp.Series[i] = batch.Series{Label: s.Label, Runs: s.Runs}
	}
	return exp, nil
}

// JobConfig is the YAML form of batch.Job.
type JobConfig struct {
	Label     string     `yaml:"label" validate:"required"`
	Kind      string     `yaml:"kind" validate:"required,oneof=kpi variability"`
	Samples   []float64  `yaml:"samples" validate:"required,min=1"`
	Spec      SpecConfig `yaml:"spec"`
	Artifacts []string   `yaml:"artifacts"`
}

// Job converts to a batch.Job.
func (j JobConfig) Job() (batch.Job, error) {
	spec, err := j.Spec.Spec()
	if err != nil {
		return batch.Job{}, fmt.Errorf("job %s: %w", j.Label, err)
	}
	artifacts, err := datatypes.ParseArtifactSet(j.Artifacts)
	if err != nil {
		return batch.Job{}, fmt.Errorf("job %s: %w", j.Label, err)
	}
	kind := batch.KindKPI
	if j.Kind == "variability" {
		kind = batch.KindVariability
	}
	return batch.Job{
		Label:     j.Label,
		Kind:      kind,
		Samples:   j.Samples,
		Spec:      spec,
		Artifacts: artifacts,
	}, nil
}
