// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metric reduces the samples of a single run to one scalar metric.
package metric

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/replicability/services/replicability/datatypes"
)

// ErrConvergence wraps failures of the convergence collaborator.
var ErrConvergence = errors.New("convergence test failed to run")

// ConvergenceTester decides whether a run's metric approximates its
// long-run value. Implementations live outside this module.
type ConvergenceTester interface {
	Converged(ctx context.Context, sample []float64) (bool, error)
}

// ConvergenceFunc adapts a function to ConvergenceTester.
type ConvergenceFunc func(ctx context.Context, sample []float64) (bool, error)

// Converged implements ConvergenceTester.
func (f ConvergenceFunc) Converged(ctx context.Context, sample []float64) (bool, error) {
	return f(ctx, sample)
}

// Metric is the scalar produced from one run.
type Metric struct {
	// Value is the measured scalar.
	Value float64 `json:"value"`

	// Converged is the convergence verdict, true when no test was requested.
	Converged bool `json:"converged"`

	// Measure is how Value was obtained.
	Measure datatypes.MeasureSpec `json:"measure"`

	// N is the number of run samples.
	N int `json:"n"`
}

// Option configures Compute.
type Option func(*options)

type options struct {
	convergence ConvergenceTester
}

// WithConvergence requests a convergence check from the given collaborator.
func WithConvergence(tester ConvergenceTester) Option {
	return func(o *options) { o.convergence = tester }
}

// Compute reduces a run to its metric.
//
// Description:
//
//	Percentiles are the empirical percentile of the run, an actual sample
//	element with no interpolation and no confidence bound. Mean, min and max
//	are the arithmetic definitions. When a convergence tester is supplied it
//	receives the samples in their original order and its verdict is reported
//	verbatim; otherwise Converged is true.
//
// Inputs:
//   - ctx: Passed to the convergence tester. Must not be nil.
//   - sample: The run's samples in time order. Must be non-empty and finite.
//   - measure: How to reduce the sample.
//   - opts: Optional convergence tester.
//
// Outputs:
//   - Metric: The run metric.
//   - error: ErrEmptySample, ErrNonFiniteSample, ErrInvalidMeasure or
//     ErrConvergence.
//
// Thread Safety: Safe for concurrent use if the convergence tester is.
func Compute(ctx context.Context, sample []float64, measure datatypes.MeasureSpec, opts ...Option) (Metric, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := measure.Validate(); err != nil {
		return Metric{}, err
	}
	if len(sample) == 0 {
		return Metric{}, datatypes.ErrEmptySample
	}
	if err := datatypes.CheckFinite(sample); err != nil {
		return Metric{}, err
	}

	m := Metric{
		Value:     reduce(sample, measure),
		Converged: true,
		Measure:   measure,
		N:         len(sample),
	}

	if o.convergence != nil {
		ok, err := o.convergence.Converged(ctx, slices.Clone(sample))
		if err != nil {
			return Metric{}, fmt.Errorf("%w: %w", ErrConvergence, err)
		}
		m.Converged = ok
	}
	return m, nil
}

func reduce(sample []float64, measure datatypes.MeasureSpec) float64 {
	switch measure.Kind {
	case datatypes.MeasureMean:
		return stat.Mean(sample, nil)
	case datatypes.MeasureMin:
		return floats.Min(sample)
	case datatypes.MeasureMax:
		return floats.Max(sample)
	default:
		sorted := slices.Clone(sample)
		slices.Sort(sorted)
		return stat.Quantile(measure.Percentile/100, stat.Empirical, sorted, nil)
	}
}
