// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package variability scores how much a KPI moves across a sequel of
// repeated series.
//
// The spread is two independently valid one-sided bounds, an upper bound
// on the high percentile and a lower bound on the low percentile, each
// obtained from package bound. No two-sided formula is involved, so the
// difference of the two halves is conservative.
package variability

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/AleutianAI/replicability/services/replicability/bound"
	"github.com/AleutianAI/replicability/services/replicability/datatypes"
	"github.com/AleutianAI/replicability/services/replicability/independence"
)

// MinConfidence is the exclusive lower limit on the confidence of a
// variability score. At or below it the two halves may share a rank and
// need not bracket the distribution.
const MinConfidence = 50.0

// Score is the variability of one sequel.
type Score struct {
	// Independent is the independence verdict on the sequel.
	Independent bool `json:"independent"`

	// Upper bounds the high percentile from above.
	Upper datatypes.Value `json:"upper"`

	// Lower bounds the low percentile from below.
	Lower datatypes.Value `json:"lower"`

	// Absolute is Upper - Lower. Undefined unless both halves are.
	Absolute datatypes.Value `json:"absolute"`

	// Relative is Absolute over the range of Bounds.
	Relative datatypes.Value `json:"relative"`

	// N is the sequel length.
	N int `json:"n"`

	// MinSampleSize is the shortest sequel that yields a defined score.
	MinSampleSize int `json:"min_sample_size"`

	UpperRank int `json:"upper_rank"`
	LowerRank int `json:"lower_rank"`

	// Bounds are the effective bounds after the out-of-bounds policy.
	Bounds datatypes.Bounds `json:"bounds"`

	Spec datatypes.EstimatorSpec `json:"spec"`

	IndependenceReason string `json:"independence_reason"`

	Artifacts *datatypes.Artifacts `json:"artifacts,omitempty"`
}

// RelativePercent returns Relative scaled to percent.
func (s Score) RelativePercent() datatypes.Value {
	v, ok := s.Relative.Float64()
	if !ok {
		return datatypes.Undefined()
	}
	return datatypes.Defined(v * 100)
}

// Trusted reports whether the score is defined and the sequel passed the
// independence test.
func (s Score) Trusted() bool {
	return s.Independent && s.Absolute.IsDefined()
}

// Percentiles returns the low and high percentiles a spec is scored at.
// The spec percentile is folded so that 25 and 75 describe the same spread.
func Percentiles(spec datatypes.EstimatorSpec) (low, high float64) {
	low = spec.Percentile
	if low > 50 {
		low = 100 - low
	}
	return low, 100 - low
}

// MinSampleSize returns the shortest sequel for which both halves are
// defined.
func MinSampleSize(spec datatypes.EstimatorSpec) (int, error) {
	if err := validate(spec); err != nil {
		return 0, err
	}
	low, high := Percentiles(spec)
	up, err := bound.MinSampleSize(high, spec.Confidence, datatypes.DirectionUpper)
	if err != nil {
		return 0, err
	}
	lo, err := bound.MinSampleSize(low, spec.Confidence, datatypes.DirectionLower)
	if err != nil {
		return 0, err
	}
	return max(up, lo), nil
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

// Computer evaluates variability scores.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Computer struct {
	tester *independence.Tester
	logger *slog.Logger
}

// NewComputer creates a variability computer.
func NewComputer(opts ...Option) *Computer {
	c := &Computer{tester: independence.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compute scores a sequel without artifacts. Unlike a KPI, a score
// requires spec.Confidence in (MinConfidence, 100).
func (c *Computer) Compute(sequel []float64, spec datatypes.EstimatorSpec) (Score, error) {
	return c.ComputeWithArtifacts(sequel, spec, datatypes.ArtifactNone)
}

// ComputeWithArtifacts scores the spread of a sequel of KPI values.
//
// Description:
//
//	Applies the out-of-bounds policy and runs the independence test on the
//	sequel in its original order. With low, high = Percentiles(spec), Upper
//	is the upper bound of the high percentile and Lower the lower bound of
//	the low percentile, both at spec.Confidence. Absolute and Relative are
//	defined only when both halves are. Relative divides by the effective
//	bounds range.
//
// Inputs:
//   - sequel: KPI values in series order.
//   - spec: Score definition. Confidence must lie in (MinConfidence, 100);
//     lower values return ErrInvalidConfidence.
//   - artifacts: Plotting inputs to include in the result.
//
// Outputs:
//   - Score: The variability score.
//   - error: Wraps ErrInvalidParameter, ErrOutOfBounds or
//     ErrNonFiniteSample. ErrBoundOrder signals an estimator defect.
//
// Thread Safety: Safe for concurrent use.
func (c *Computer) ComputeWithArtifacts(sequel []float64, spec datatypes.EstimatorSpec, artifacts datatypes.ArtifactSet) (Score, error) {
	minN, err := MinSampleSize(spec)
	if err != nil {
		return Score{}, fmt.Errorf("variability spec: %w", err)
	}
	eff, err := spec.EffectiveBounds(sequel)
	if err != nil {
		return Score{}, fmt.Errorf("variability sequel: %w", err)
	}

	ind, err := c.tester.Test(sequel, eff)
	if err != nil {
		return Score{}, fmt.Errorf("variability independence: %w", err)
	}

	low, high := Percentiles(spec)
	sorted := slices.Clone(sequel)
	slices.Sort(sorted)
	up := bound.FromSorted(sorted, high, spec.Confidence, datatypes.DirectionUpper)
	lo := bound.FromSorted(sorted, low, spec.Confidence, datatypes.DirectionLower)

	s := Score{
		Independent:        ind.Independent,
		Upper:              up.Value,
		Lower:              lo.Value,
		N:                  len(sequel),
		MinSampleSize:      minN,
		UpperRank:          up.Rank,
		LowerRank:          lo.Rank,
		Bounds:             eff,
		Spec:               spec,
		IndependenceReason: ind.Reason,
		Absolute:           datatypes.Undefined(),
		Relative:           datatypes.Undefined(),
	}

	if s.Upper.IsDefined() && s.Lower.IsDefined() {
		abs := s.Upper.Sub(s.Lower)
		if a, _ := abs.Float64(); a < 0 {
			return Score{}, fmt.Errorf("%w: upper %s rank %d, lower %s rank %d",
				datatypes.ErrBoundOrder, s.Upper, up.Rank, s.Lower, lo.Rank)
		}
		s.Absolute = abs
		s.Relative = abs.Div(eff.Range())
	} else {
		c.log().Debug("variability undefined: sequel too short",
			slog.Int("n", s.N),
			slog.Int("min_sample_size", minN),
			slog.Float64("percentile", spec.Percentile),
			slog.Float64("confidence", spec.Confidence),
		)
	}
	if !s.Independent {
		c.log().Debug("variability sequel failed independence test",
			slog.Int("n", s.N),
			slog.String("reason", ind.Reason),
		)
	}

	if artifacts != datatypes.ArtifactNone {
		a := &datatypes.Artifacts{}
		if artifacts.Has(datatypes.ArtifactSeries) {
			a.Series = slices.Clone(sequel)
		}
		if artifacts.Has(datatypes.ArtifactAutocorrelation) {
			a.Correlogram = ind.Correlogram
		}
		if artifacts.Has(datatypes.ArtifactBounds) {
			a.Bounds = []datatypes.BoundMarker{up.Marker("upper"), lo.Marker("lower")}
		}
		s.Artifacts = a
	}
	return s, nil
}

func (c *Computer) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

var defaultComputer = NewComputer()

// Compute scores a sequel with the default computer. Confidence must exceed
// MinConfidence.
func Compute(sequel []float64, spec datatypes.EstimatorSpec) (Score, error) {
	return defaultComputer.Compute(sequel, spec)
}

func validate(spec datatypes.EstimatorSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if spec.Confidence <= MinConfidence {
		return fmt.Errorf("%w: variability needs more than %g, got %g",
			datatypes.ErrInvalidConfidence, MinConfidence, spec.Confidence)
	}
	return nil
}
