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
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/replicability/services/replicability/datatypes"
)

// ErrInvalidRobustness is returned for a negative robustness.
var ErrInvalidRobustness = fmt.Errorf("%w: robustness must be >= 0", datatypes.ErrInvalidParameter)

// -----------------------------------------------------------------------------
// Minimal Sample Size
// -----------------------------------------------------------------------------

// MinSampleSize returns the smallest sample size for which Rank succeeds.
//
// Description:
//
//	A bound exists iff the extreme order statistic already reaches the
//	confidence level, i.e. 1 - q^n >= c with q = p for an upper bound and
//	q = 1 - p for a lower bound. The closed form ceil(log(1-c)/log(q)) seeds
//	the answer, which is then checked against the exact binomial tail used by
//	Rank so the two never disagree.
//
//	The result is non-decreasing in confidence. Under DirectionAuto it is
//	symmetric in percentile around 50, where it is smallest.
//
// Inputs:
//   - percentile: Target percentile in (0,100).
//   - confidence: Confidence level in (0,100).
//   - dir: Bound direction.
//
// Outputs:
//   - int: Minimal n, at least 1.
//   - error: Wraps datatypes.ErrInvalidParameter.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func MinSampleSize(percentile, confidence float64, dir datatypes.Direction) (int, error) {
	return MinSampleSizeRobust(percentile, confidence, dir, 0)
}

// MinSampleSizeRobust is MinSampleSize with at least robustness samples left
// strictly beyond the bound.
//
// Description:
//
//	With robustness r the bound rank must leave r observations on the far
//	side, so up to r outliers can be discarded without invalidating the
//	bound. The condition BinomCDF(n-r-1; n, q) >= c is monotone in n, which
//	makes a forward scan from the r = 0 answer exact.
//
// Inputs:
//   - percentile, confidence, dir: As for MinSampleSize.
//   - robustness: Number of samples to keep beyond the bound. Must be >= 0.
//
// Outputs:
//   - int: Minimal n.
//   - error: Wraps datatypes.ErrInvalidParameter.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func MinSampleSizeRobust(percentile, confidence float64, dir datatypes.Direction, robustness int) (int, error) {
	if err := validate(percentile, confidence, dir); err != nil {
		return 0, err
	}
	if robustness < 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidRobustness, robustness)
	}

	q := percentile / 100
	if dir.Resolve(percentile) == datatypes.DirectionLower {
		q = 1 - q
	}
	c := confidence / 100

	n := seed(q, c)
	for n > 1 && sufficient(n-1, q, c, 0) {
		n--
	}
	for !sufficient(n, q, c, 0) {
		n++
	}
	if n <= robustness {
		n = robustness + 1
	}
	for !sufficient(n, q, c, robustness) {
		n++
	}
	return n, nil
}

// seed is the closed-form estimate of the minimal size at zero robustness.
func seed(q, c float64) int {
	n := math.Ceil(math.Log(1-c) / math.Log(q))
	if n < 1 || math.IsNaN(n) {
		return 1
	}
	return int(n)
}

// sufficient reports whether the rank search on n samples succeeds while
// leaving r samples beyond the bound.
func sufficient(n int, q, c float64, r int) bool {
	top := n - r - 1
	if top < 0 {
		return false
	}
	b := distuv.Binomial{N: float64(n), P: q}
	return b.CDF(float64(top))+cdfTolerance >= c
}

// -----------------------------------------------------------------------------
// Sizing Table
// -----------------------------------------------------------------------------

// SizingRow is one cell of an experiment sizing table.
type SizingRow struct {
	Percentile float64             `json:"percentile"`
	Confidence float64             `json:"confidence"`
	Robustness int                 `json:"robustness"`
	Direction  datatypes.Direction `json:"direction"`
	MinSize    int                 `json:"min_size"`
}

// SizingTable returns minimal sample sizes for every percentile/confidence
// pair, using DirectionAuto.
//
// Inputs:
//   - percentiles: Target percentiles in (0,100). Must not be empty.
//   - confidences: Confidence levels in (0,100). Must not be empty.
//   - robustness: Samples to keep beyond each bound.
//
// Outputs:
//   - []SizingRow: One row per pair, percentiles outermost.
//   - error: Joined errors for every rejected pair.
func SizingTable(percentiles, confidences []float64, robustness int) ([]SizingRow, error) {
	if len(percentiles) == 0 || len(confidences) == 0 {
		return nil, fmt.Errorf("%w: sizing table needs percentiles and confidences", datatypes.ErrInvalidParameter)
	}

	rows := make([]SizingRow, 0, len(percentiles)*len(confidences))
	var errs []error
	for _, p := range percentiles {
		for _, c := range confidences {
			n, err := MinSampleSizeRobust(p, c, datatypes.DirectionAuto, robustness)
			if err != nil {
				errs = append(errs, fmt.Errorf("p=%g c=%g: %w", p, c, err))
				continue
			}
			rows = append(rows, SizingRow{
				Percentile: p,
				Confidence: c,
				Robustness: robustness,
				Direction:  datatypes.DirectionAuto.Resolve(p),
				MinSize:    n,
			})
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rows, nil
}
