// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metric

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/replicability/services/replicability/datatypes"
)

var run = []float64{12, 3, 7, 9, 1, 5, 11, 2, 8, 4}

func TestCompute_Measures(t *testing.T) {
	ctx := context.Background()
	p50, err := datatypes.NewPercentileMeasure(50, "ms")
	require.NoError(t, err)
	p90, err := datatypes.NewPercentileMeasure(90, "ms")
	require.NoError(t, err)

	tests := []struct {
		name    string
		measure datatypes.MeasureSpec
		want    float64
	}{
		{"mean", datatypes.MeanMeasure("ms"), 6.2},
		{"min", datatypes.MinMeasure("ms"), 1},
		{"max", datatypes.MaxMeasure("ms"), 12},
		{"median is a sample element", p50, 5},
		{"p90 is a sample element", p90, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Compute(ctx, run, tt.measure)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, m.Value, 1e-9)
			assert.True(t, m.Converged, "no convergence test requested")
			assert.Equal(t, len(run), m.N)
		})
	}
}

func TestCompute_DoesNotReorderInput(t *testing.T) {
	sample := []float64{3, 1, 2}
	p, err := datatypes.NewPercentileMeasure(50, "")
	require.NoError(t, err)
	_, err = Compute(context.Background(), sample, p)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1, 2}, sample)
}

func TestCompute_Convergence(t *testing.T) {
	ctx := context.Background()

	t.Run("verdict passed through", func(t *testing.T) {
		var seen []float64
		tester := ConvergenceFunc(func(_ context.Context, s []float64) (bool, error) {
			seen = s
			return false, nil
		})
		m, err := Compute(ctx, run, datatypes.MeanMeasure(""), WithConvergence(tester))
		require.NoError(t, err)
		assert.False(t, m.Converged)
		assert.Equal(t, run, seen, "tester receives the samples in time order")
	})

	t.Run("collaborator error wrapped", func(t *testing.T) {
		boom := errors.New("boom")
		tester := ConvergenceFunc(func(context.Context, []float64) (bool, error) {
			return false, boom
		})
		_, err := Compute(ctx, run, datatypes.MeanMeasure(""), WithConvergence(tester))
		assert.ErrorIs(t, err, ErrConvergence)
		assert.ErrorIs(t, err, boom)
	})
}

func TestCompute_Rejects(t *testing.T) {
	ctx := context.Background()

	_, err := Compute(ctx, nil, datatypes.MeanMeasure(""))
	assert.ErrorIs(t, err, datatypes.ErrEmptySample)

	_, err = Compute(ctx, []float64{1, math.Inf(1)}, datatypes.MeanMeasure(""))
	assert.ErrorIs(t, err, datatypes.ErrNonFiniteSample)

	_, err = Compute(ctx, run, datatypes.MeasureSpec{Kind: datatypes.MeasurePercentile, Percentile: 0})
	assert.ErrorIs(t, err, datatypes.ErrInvalidPercentile)

	_, err = Compute(ctx, run, datatypes.MeasureSpec{Kind: datatypes.MeasureKind(99)})
	assert.ErrorIs(t, err, datatypes.ErrInvalidMeasure)
}
