// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Bound Direction
// -----------------------------------------------------------------------------

// Direction selects which side of a percentile a one-sided bound covers.
type Direction int

const (
	// DirectionAuto resolves to DirectionLower below the median and to
	// DirectionUpper at or above it.
	DirectionAuto Direction = iota

	// DirectionLower bounds the percentile from below.
	DirectionLower

	// DirectionUpper bounds the percentile from above.
	DirectionUpper
)

// String returns the string representation.
func (d Direction) String() string {
	switch d {
	case DirectionAuto:
		return "auto"
	case DirectionLower:
		return "lower"
	case DirectionUpper:
		return "upper"
	default:
		return fmt.Sprintf("direction(%d)", d)
	}
}

// Resolve returns the concrete direction for the given percentile.
func (d Direction) Resolve(percentile float64) Direction {
	if d != DirectionAuto {
		return d
	}
	if percentile < 50 {
		return DirectionLower
	}
	return DirectionUpper
}

// Validate rejects unknown directions.
func (d Direction) Validate() error {
	switch d {
	case DirectionAuto, DirectionLower, DirectionUpper:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrInvalidDirection, d)
	}
}

// ParseDirection parses "auto", "lower" or "upper". Empty means auto.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DirectionAuto, nil
	case "lower":
		return DirectionLower, nil
	case "upper":
		return DirectionUpper, nil
	default:
		return DirectionAuto, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// MarshalText encodes the direction by name.
func (d Direction) MarshalText() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return []byte(d.String()), nil
}

// UnmarshalText decodes a name accepted by ParseDirection.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// -----------------------------------------------------------------------------
// Out-of-bounds Policy
// -----------------------------------------------------------------------------

// OutOfBoundsPolicy decides what happens to observations outside the
// declared bounds.
type OutOfBoundsPolicy int

const (
	// PolicyReject treats the whole sample as malformed input.
	PolicyReject OutOfBoundsPolicy = iota

	// PolicyWiden extends the effective bounds to the observed extremes.
	PolicyWiden
)

// String returns the string representation.
func (p OutOfBoundsPolicy) String() string {
	switch p {
	case PolicyReject:
		return "reject"
	case PolicyWiden:
		return "widen"
	default:
		return fmt.Sprintf("policy(%d)", p)
	}
}

// ParseOutOfBoundsPolicy parses "reject" or "widen". Empty means reject.
func ParseOutOfBoundsPolicy(s string) (OutOfBoundsPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return PolicyReject, nil
	case "widen":
		return PolicyWiden, nil
	default:
		return PolicyReject, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// MarshalText encodes the policy by name.
func (p OutOfBoundsPolicy) MarshalText() ([]byte, error) {
	switch p {
	case PolicyReject, PolicyWiden:
		return []byte(p.String()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidPolicy, p)
	}
}

// UnmarshalText decodes a name accepted by ParseOutOfBoundsPolicy.
func (p *OutOfBoundsPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseOutOfBoundsPolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// -----------------------------------------------------------------------------
// Estimator Specification
// -----------------------------------------------------------------------------

// EstimatorSpec is the shared definition of a KPI or a variability score.
//
// Description:
//
//	Percentile and Confidence are expressed in percent and must lie strictly
//	inside (0,100). Bounds is the declared range of the estimated quantity.
//	Direction and OutOfBounds default to DirectionAuto and PolicyReject.
//
// Thread Safety: Immutable value; safe for concurrent use.
type EstimatorSpec struct {
	Percentile  float64           `json:"percentile"`
	Confidence  float64           `json:"confidence"`
	Bounds      Bounds            `json:"bounds"`
	Direction   Direction         `json:"direction"`
	OutOfBounds OutOfBoundsPolicy `json:"out_of_bounds"`
}

// SpecOption customizes an EstimatorSpec at construction.
type SpecOption func(*EstimatorSpec)

// WithDirection overrides the resolved bound direction.
func WithDirection(d Direction) SpecOption {
	return func(s *EstimatorSpec) { s.Direction = d }
}

// WithOutOfBounds sets the out-of-bounds policy.
func WithOutOfBounds(p OutOfBoundsPolicy) SpecOption {
	return func(s *EstimatorSpec) { s.OutOfBounds = p }
}

// NewEstimatorSpec builds a validated EstimatorSpec.
//
// Inputs:
//   - percentile: Target percentile in (0,100).
//   - confidence: Confidence level in (0,100).
//   - bounds: Declared range. Must satisfy Low < High.
//   - opts: Optional direction and out-of-bounds policy.
//
// Outputs:
//   - EstimatorSpec: The validated spec.
//   - error: Wraps ErrInvalidParameter when any field is rejected.
func NewEstimatorSpec(percentile, confidence float64, bounds Bounds, opts ...SpecOption) (EstimatorSpec, error) {
	s := EstimatorSpec{
		Percentile: percentile,
		Confidence: confidence,
		Bounds:     bounds,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if err := s.Validate(); err != nil {
		return EstimatorSpec{}, err
	}
	return s, nil
}

// Validate checks every field.
func (s EstimatorSpec) Validate() error {
	if err := ValidatePercentile(s.Percentile); err != nil {
		return err
	}
	if err := ValidateConfidence(s.Confidence); err != nil {
		return err
	}
	if err := s.Bounds.Validate(); err != nil {
		return err
	}
	if err := s.Direction.Validate(); err != nil {
		return err
	}
	switch s.OutOfBounds {
	case PolicyReject, PolicyWiden:
	default:
		return fmt.Errorf("%w: %d", ErrInvalidPolicy, s.OutOfBounds)
	}
	return nil
}

// ResolvedDirection returns the concrete bound direction.
func (s EstimatorSpec) ResolvedDirection() Direction {
	return s.Direction.Resolve(s.Percentile)
}

// EffectiveBounds applies the out-of-bounds policy to a sample.
//
// Description:
//
//	Under PolicyReject the declared bounds are returned unchanged unless an
//	observation falls outside them, in which case ErrOutOfBounds names the
//	first offending index. Under PolicyWiden the bounds are extended to the
//	observed extremes. Non-finite observations are always rejected.
//
// Outputs:
//   - Bounds: Bounds to use for normalization and relative scores.
//   - error: ErrNonFiniteSample or ErrOutOfBounds.
func (s EstimatorSpec) EffectiveBounds(sample []float64) (Bounds, error) {
	if err := CheckFinite(sample); err != nil {
		return Bounds{}, err
	}
	eff := s.Bounds
	for i, x := range sample {
		if s.Bounds.Contains(x) {
			continue
		}
		if s.OutOfBounds == PolicyReject {
			return Bounds{}, fmt.Errorf("%w: index %d value %g not in %s", ErrOutOfBounds, i, x, s.Bounds)
		}
		if x < eff.Low {
			eff.Low = x
		}
		if x > eff.High {
			eff.High = x
		}
	}
	return eff, nil
}

// ValidatePercentile requires 0 < p < 100.
func ValidatePercentile(p float64) error {
	if !isFinite(p) || p <= 0 || p >= 100 {
		return fmt.Errorf("%w: got %g", ErrInvalidPercentile, p)
	}
	return nil
}

// ValidateConfidence requires 0 < c < 100.
func ValidateConfidence(c float64) error {
	if !isFinite(c) || c <= 0 || c >= 100 {
		return fmt.Errorf("%w: got %g", ErrInvalidConfidence, c)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Measure Specification
// -----------------------------------------------------------------------------

// MeasureKind selects how a run's samples collapse to one metric.
type MeasureKind int

const (
	// MeasurePercentile takes a direct empirical percentile.
	MeasurePercentile MeasureKind = iota
	// MeasureMean takes the arithmetic mean.
	MeasureMean
	// MeasureMin takes the minimum.
	MeasureMin
	// MeasureMax takes the maximum.
	MeasureMax
)

// String returns the string representation.
func (k MeasureKind) String() string {
	switch k {
	case MeasurePercentile:
		return "percentile"
	case MeasureMean:
		return "mean"
	case MeasureMin:
		return "min"
	case MeasureMax:
		return "max"
	default:
		return fmt.Sprintf("measure(%d)", k)
	}
}

// MarshalText encodes the kind by name.
func (k MeasureKind) MarshalText() ([]byte, error) {
	switch k {
	case MeasurePercentile, MeasureMean, MeasureMin, MeasureMax:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidMeasure, k)
	}
}

// UnmarshalText decodes a kind name, as accepted by ParseMeasure.
func (k *MeasureKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "percentile":
		*k = MeasurePercentile
	case "mean":
		*k = MeasureMean
	case "min", "minimum":
		*k = MeasureMin
	case "max", "maximum":
		*k = MeasureMax
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMeasure, text)
	}
	return nil
}

// MeasureSpec defines the metric of a run. Unit is display-only.
type MeasureSpec struct {
	Kind       MeasureKind `json:"kind"`
	Percentile float64     `json:"percentile,omitempty"`
	Unit       string      `json:"unit,omitempty"`
}

// NewPercentileMeasure returns a validated percentile measure.
func NewPercentileMeasure(percentile float64, unit string) (MeasureSpec, error) {
	m := MeasureSpec{Kind: MeasurePercentile, Percentile: percentile, Unit: unit}
	if err := m.Validate(); err != nil {
		return MeasureSpec{}, err
	}
	return m, nil
}

// MeanMeasure returns the arithmetic-mean measure.
func MeanMeasure(unit string) MeasureSpec {
	return MeasureSpec{Kind: MeasureMean, Unit: unit}
}

// MinMeasure returns the minimum measure.
func MinMeasure(unit string) MeasureSpec {
	return MeasureSpec{Kind: MeasureMin, Unit: unit}
}

// MaxMeasure returns the maximum measure.
func MaxMeasure(unit string) MeasureSpec {
	return MeasureSpec{Kind: MeasureMax, Unit: unit}
}

// ParseMeasure builds a MeasureSpec from its name. The percentile is only
// read for the "percentile" kind.
func ParseMeasure(name string, percentile float64, unit string) (MeasureSpec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "percentile":
		return NewPercentileMeasure(percentile, unit)
	case "mean":
		return MeanMeasure(unit), nil
	case "min", "minimum":
		return MinMeasure(unit), nil
	case "max", "maximum":
		return MaxMeasure(unit), nil
	default:
		return MeasureSpec{}, fmt.Errorf("%w: %q", ErrInvalidMeasure, name)
	}
}

// Validate checks the kind and, for percentiles, the percentile.
func (m MeasureSpec) Validate() error {
	switch m.Kind {
	case MeasurePercentile:
		return ValidatePercentile(m.Percentile)
	case MeasureMean, MeasureMin, MeasureMax:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrInvalidMeasure, m.Kind)
	}
}

// String renders the measure, e.g. "p95 [ms]" or "mean".
func (m MeasureSpec) String() string {
	name := m.Kind.String()
	if m.Kind == MeasurePercentile {
		name = fmt.Sprintf("p%g", m.Percentile)
	}
	if m.Unit == "" {
		return name
	}
	return fmt.Sprintf("%s [%s]", name, m.Unit)
}
