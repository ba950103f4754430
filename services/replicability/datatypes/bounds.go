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
	"math"
)

// Bounds is the declared extremal range of a measured quantity.
type Bounds struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// NewBounds validates and returns a Bounds.
func NewBounds(low, high float64) (Bounds, error) {
	b := Bounds{Low: low, High: high}
	if err := b.Validate(); err != nil {
		return Bounds{}, err
	}
	return b, nil
}

// Validate requires finite values with Low < High.
func (b Bounds) Validate() error {
	if !isFinite(b.Low) || !isFinite(b.High) || b.Low >= b.High {
		return fmt.Errorf("%w: got [%g, %g]", ErrInvalidBounds, b.Low, b.High)
	}
	return nil
}

// Range returns High - Low.
func (b Bounds) Range() float64 {
	return b.High - b.Low
}

// Contains reports whether x lies in the closed interval.
func (b Bounds) Contains(x float64) bool {
	return x >= b.Low && x <= b.High
}

// Normalize maps x onto [0,1] relative to the bounds.
func (b Bounds) Normalize(x float64) float64 {
	return (x - b.Low) / b.Range()
}

// String implements fmt.Stringer.
func (b Bounds) String() string {
	return fmt.Sprintf("[%g, %g]", b.Low, b.High)
}

// CheckFinite returns ErrNonFiniteSample naming the first NaN or ±Inf.
func CheckFinite(sample []float64) error {
	for i, x := range sample {
		if !isFinite(x) {
			return fmt.Errorf("%w: index %d is %g", ErrNonFiniteSample, i, x)
		}
	}
	return nil
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
