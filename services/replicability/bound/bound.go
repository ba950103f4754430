// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bound

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/replicability/services/replicability/datatypes"
)

// cdfTolerance absorbs rounding in the regularized incomplete beta so that a
// tail probability exactly equal to the confidence level qualifies.
const cdfTolerance = 1e-12

// Estimate is a one-sided bound together with how it was obtained.
type Estimate struct {
	// Value is the order statistic, or Undefined when n is too small.
	Value datatypes.Value `json:"value"`

	// Rank is the 1-indexed position in the ascending sort. Zero when undefined.
	Rank int `json:"rank"`

	// N is the sample size.
	N int `json:"n"`

	// Percentile and Confidence are the requested pair, in percent.
	Percentile float64 `json:"percentile"`
	Confidence float64 `json:"confidence"`

	// Direction is the resolved direction, never DirectionAuto.
	Direction datatypes.Direction `json:"direction"`
}

// Marker converts the estimate into a plotting overlay marker.
func (e Estimate) Marker(label string) datatypes.BoundMarker {
	return datatypes.BoundMarker{
		Label:      label,
		Percentile: e.Percentile,
		Direction:  e.Direction,
		Rank:       e.Rank,
		Value:      e.Value,
	}
}

// Rank returns the 1-indexed ascending rank of the order statistic that
// bounds the given percentile at the given confidence.
//
// Description:
//
//	For DirectionUpper it is the smallest k with BinomCDF(k-1; n, p) >= c.
//	For DirectionLower the upper procedure runs on the complementary
//	percentile and the rank is counted from the top. DirectionAuto resolves
//	by percentile (see datatypes.Direction.Resolve).
//
// Inputs:
//   - n: Sample size.
//   - percentile: Target percentile in (0,100).
//   - confidence: Confidence level in (0,100).
//   - dir: Bound direction.
//
// Outputs:
//   - int: Rank in [1, n]; zero when ok is false.
//   - bool: False when no rank reaches the confidence level.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func Rank(n int, percentile, confidence float64, dir datatypes.Direction) (int, bool) {
	p := percentile / 100
	c := confidence / 100

	switch dir.Resolve(percentile) {
	case datatypes.DirectionLower:
		j, ok := upperRank(n, 1-p, c)
		if !ok {
			return 0, false
		}
		return n - j + 1, true
	default:
		return upperRank(n, p, c)
	}
}

// upperRank is the smallest k in [1, n] with BinomCDF(k-1; n, p) >= c.
func upperRank(n int, p, c float64) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	b := distuv.Binomial{N: float64(n), P: p}
	// The largest attainable tail is at k = n; bail out early if even that
	// falls short.
	if b.CDF(float64(n-1))+cdfTolerance < c {
		return 0, false
	}
	for k := 1; k <= n; k++ {
		if b.CDF(float64(k-1))+cdfTolerance >= c {
			return k, true
		}
	}
	return 0, false
}

// Compute bounds a percentile of an unsorted sample.
//
// Description:
//
//	Sorts a copy of the sample and returns the order statistic chosen by
//	Rank. The input is not modified. A sample too small for the requested
//	pair yields an Estimate whose Value is Undefined and a nil error.
//
// Inputs:
//   - sample: Observations in any order. Must be finite.
//   - percentile: Target percentile in (0,100).
//   - confidence: Confidence level in (0,100).
//   - dir: Bound direction.
//
// Outputs:
//   - Estimate: The bound and its rank.
//   - error: Wraps datatypes.ErrInvalidParameter or ErrNonFiniteSample.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func Compute(sample []float64, percentile, confidence float64, dir datatypes.Direction) (Estimate, error) {
	if err := validate(percentile, confidence, dir); err != nil {
		return Estimate{}, err
	}
	if err := datatypes.CheckFinite(sample); err != nil {
		return Estimate{}, err
	}
	sorted := slices.Clone(sample)
	slices.Sort(sorted)
	return FromSorted(sorted, percentile, confidence, dir), nil
}

// Bound is Compute reduced to its value.
func Bound(sample []float64, percentile, confidence float64, dir datatypes.Direction) (datatypes.Value, error) {
	est, err := Compute(sample, percentile, confidence, dir)
	if err != nil {
		return datatypes.Undefined(), err
	}
	return est.Value, nil
}

// FromSorted is Compute for a sample already sorted ascending and already
// validated. Callers bounding the same sample twice use it to sort once.
func FromSorted(sorted []float64, percentile, confidence float64, dir datatypes.Direction) Estimate {
	est := Estimate{
		Value:      datatypes.Undefined(),
		N:          len(sorted),
		Percentile: percentile,
		Confidence: confidence,
		Direction:  dir.Resolve(percentile),
	}
	k, ok := Rank(len(sorted), percentile, confidence, dir)
	if !ok {
		return est
	}
	est.Rank = k
	est.Value = datatypes.Defined(sorted[k-1])
	return est
}

func validate(percentile, confidence float64, dir datatypes.Direction) error {
	if err := datatypes.ValidatePercentile(percentile); err != nil {
		return err
	}
	if err := datatypes.ValidateConfidence(confidence); err != nil {
		return err
	}
	if err := dir.Validate(); err != nil {
		return fmt.Errorf("bound direction: %w", err)
	}
	return nil
}
