// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kpi turns a series of run metrics into a key performance
// indicator: a one-sided confidence bound on a percentile of the metric,
// reported together with the series' independence verdict.
package kpi

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/AleutianAI/replicability/services/replicability/bound"
	"github.com/AleutianAI/replicability/services/replicability/datatypes"
	"github.com/AleutianAI/replicability/services/replicability/independence"
)

// KPI is the result of one series evaluation.
type KPI struct {
	// Independent is the independence verdict on the series.
	Independent bool `json:"independent"`

	// Value is the bound, Undefined when N < MinSampleSize. It is returned
	// even when Independent is false.
	Value datatypes.Value `json:"value"`

	// N is the series length.
	N int `json:"n"`

	// MinSampleSize is the shortest series that yields a defined Value.
	MinSampleSize int `json:"min_sample_size"`

	// Rank is the 1-indexed ascending rank of Value, zero when undefined.
	Rank int `json:"rank"`

	// Direction is the resolved bound direction.
	Direction datatypes.Direction `json:"direction"`

	// Bounds are the effective bounds after the out-of-bounds policy.
	Bounds datatypes.Bounds `json:"bounds"`

	// Spec is the definition the KPI was computed with.
	Spec datatypes.EstimatorSpec `json:"spec"`

	// IndependenceReason explains the independence verdict.
	IndependenceReason string `json:"independence_reason"`

	// Artifacts holds the requested plotting inputs, nil if none.
	Artifacts *datatypes.Artifacts `json:"artifacts,omitempty"`
}

// Trusted reports whether the KPI is defined and the series passed the
// independence test.
func (k KPI) Trusted() bool {
	return k.Independent && k.Value.IsDefined()
}

// Option configures a Computer.
type Option func(*Computer)

// WithTester replaces the default independence tester.
func WithTester(t *independence.Tester) Option {
	return func(c *Computer) {
		if t != nil {
			c.tester = t
		}
	}
}

// WithLogger sets the logger. Without it the computer logs to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Computer) {
		if l != nil {
			c.logger = l
		}
	}
}

// Computer evaluates KPIs.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Computer struct {
	tester *independence.Tester
	logger *slog.Logger
}

// NewComputer creates a KPI computer.
func NewComputer(opts ...Option) *Computer {
	c := &Computer{tester: independence.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compute evaluates a KPI without artifacts.
func (c *Computer) Compute(series []float64, spec datatypes.EstimatorSpec) (KPI, error) {
	return c.ComputeWithArtifacts(series, spec, datatypes.ArtifactNone)
}

// ComputeWithArtifacts evaluates a KPI over a series of metric values.
//
// Description:
//
//	Applies the spec's out-of-bounds policy, runs the independence test on
//	the series in its original order, then bounds spec.Percentile at
//	spec.Confidence in the resolved direction. Both results are returned as
//	computed: a failed independence test does not suppress the bound, and a
//	series too short for the requested pair yields an Undefined value with a
//	nil error.
//
// Inputs:
//   - series: Metric values in run order.
//   - spec: KPI definition. Validated before any computation.
//   - artifacts: Plotting inputs to include in the result.
//
// Outputs:
//   - KPI: The indicator.
//   - error: Wraps ErrInvalidParameter, ErrOutOfBounds or ErrNonFiniteSample.
//
// Thread Safety: Safe for concurrent use.
func (c *Computer) ComputeWithArtifacts(series []float64, spec datatypes.EstimatorSpec, artifacts datatypes.ArtifactSet) (KPI, error) {
	if err := spec.Validate(); err != nil {
		return KPI{}, fmt.Errorf("kpi spec: %w", err)
	}
	eff, err := spec.EffectiveBounds(series)
	if err != nil {
		return KPI{}, fmt.Errorf("kpi series: %w", err)
	}

	ind, err := c.tester.Test(series, eff)
	if err != nil {
		return KPI{}, fmt.Errorf("kpi independence: %w", err)
	}

	dir := spec.ResolvedDirection()
	minN, err := bound.MinSampleSize(spec.Percentile, spec.Confidence, dir)
	if err != nil {
		return KPI{}, fmt.Errorf("kpi sample size: %w", err)
	}

	sorted := slices.Clone(series)
	slices.Sort(sorted)
	est := bound.FromSorted(sorted, spec.Percentile, spec.Confidence, dir)

	k := KPI{
		Independent:        ind.Independent,
		Value:              est.Value,
		N:                  len(series),
		MinSampleSize:      minN,
		Rank:               est.Rank,
		Direction:          dir,
		Bounds:             eff,
		Spec:               spec,
		IndependenceReason: ind.Reason,
		Artifacts:          buildArtifacts(artifacts, series, ind, est),
	}

	if !k.Value.IsDefined() {
		c.log().Debug("kpi undefined: series too short",
			slog.Int("n", k.N),
			slog.Int("min_sample_size", minN),
			slog.Float64("percentile", spec.Percentile),
			slog.Float64("confidence", spec.Confidence),
		)
	}
	if !k.Independent {
		c.log().Debug("kpi series failed independence test",
			slog.Int("n", k.N),
			slog.String("reason", ind.Reason),
		)
	}
	return k, nil
}

func (c *Computer) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// defaultComputer backs the package-level Compute.
var defaultComputer = NewComputer()

// Compute evaluates a KPI with the default computer.
func Compute(series []float64, spec datatypes.EstimatorSpec) (KPI, error) {
	return defaultComputer.Compute(series, spec)
}

func buildArtifacts(set datatypes.ArtifactSet, series []float64, ind independence.Result, est bound.Estimate) *datatypes.Artifacts {
	if set == datatypes.ArtifactNone {
		return nil
	}
	a := &datatypes.Artifacts{}
	if set.Has(datatypes.ArtifactSeries) {
		a.Series = slices.Clone(series)
	}
	if set.Has(datatypes.ArtifactAutocorrelation) {
		a.Correlogram = ind.Correlogram
	}
	if set.Has(datatypes.ArtifactBounds) {
		a.Bounds = []datatypes.BoundMarker{est.Marker("kpi")}
	}
	return a
}
