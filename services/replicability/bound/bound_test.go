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
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/replicability/services/replicability/datatypes"
)

var (
	testPercentiles = []float64{1, 5, 10, 25, 40, 50, 60, 75, 90, 95, 99}
	testConfidences = []float64{50, 60, 75, 80, 90, 95, 99, 99.9}
)

// -----------------------------------------------------------------------------
// Rank Tests
// -----------------------------------------------------------------------------

func TestRank_KnownValues(t *testing.T) {
	tests := []struct {
		name       string
		n          int
		percentile float64
		confidence float64
		dir        datatypes.Direction
		wantRank   int
		wantOK     bool
	}{
		{"p25 c75 lower is the minimum", 5, 25, 75, datatypes.DirectionAuto, 1, true},
		{"p75 c75 upper is the maximum", 5, 75, 75, datatypes.DirectionAuto, 5, true},
		{"p25 c75 upper is the median", 5, 25, 75, datatypes.DirectionUpper, 3, true},
		{"p75 c75 lower is the median", 5, 75, 75, datatypes.DirectionLower, 3, true},
		{"p50 c95 needs five samples", 4, 50, 95, datatypes.DirectionAuto, 0, false},
		{"p50 c95 five samples gives the maximum", 5, 50, 95, datatypes.DirectionAuto, 5, true},
		{"single sample p25 c75", 1, 25, 75, datatypes.DirectionAuto, 0, false},
		{"empty sample", 0, 50, 50, datatypes.DirectionAuto, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, ok := Rank(tt.n, tt.percentile, tt.confidence, tt.dir)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantRank, k)
		})
	}
}

func TestRank_MirrorSymmetry(t *testing.T) {
	// The lower bound of P on n samples sits as far from the bottom as the
	// upper bound of 100-P sits from the top.
	for n := 1; n <= 40; n++ {
		for _, p := range testPercentiles {
			for _, c := range testConfidences {
				lo, okLo := Rank(n, p, c, datatypes.DirectionLower)
				up, okUp := Rank(n, 100-p, c, datatypes.DirectionUpper)
				require.Equal(t, okUp, okLo, "n=%d p=%g c=%g", n, p, c)
				if okLo {
					assert.Equal(t, n-up+1, lo, "n=%d p=%g c=%g", n, p, c)
				}
			}
		}
	}
}

func TestRank_AgreesWithMinSampleSize(t *testing.T) {
	for _, p := range testPercentiles {
		for _, c := range testConfidences {
			for _, dir := range []datatypes.Direction{datatypes.DirectionAuto, datatypes.DirectionLower, datatypes.DirectionUpper} {
				minN, err := MinSampleSize(p, c, dir)
				require.NoError(t, err)
				for n := 1; n <= 80; n++ {
					_, ok := Rank(n, p, c, dir)
					assert.Equal(t, n >= minN, ok, "p=%g c=%g dir=%s n=%d min=%d", p, c, dir, n, minN)
				}
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Compute Tests
// -----------------------------------------------------------------------------

func TestCompute_Scenario(t *testing.T) {
	series := []float64{105.07, 105.04, 104.68, 104.92, 105.08}
	original := slices.Clone(series)

	est, err := Compute(series, 25, 75, datatypes.DirectionAuto)
	require.NoError(t, err)

	v, ok := est.Value.Float64()
	require.True(t, ok)
	assert.Equal(t, 104.68, v)
	assert.Equal(t, 1, est.Rank)
	assert.Equal(t, 5, est.N)
	assert.Equal(t, datatypes.DirectionLower, est.Direction)
	assert.Equal(t, original, series, "input must not be reordered")
}

func TestCompute_UndefinedIsNotAnError(t *testing.T) {
	est, err := Compute([]float64{3.2}, 25, 75, datatypes.DirectionAuto)
	require.NoError(t, err)
	assert.False(t, est.Value.IsDefined())
	assert.Zero(t, est.Rank)
}

func TestCompute_ValueIsAnElement(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 50; trial++ {
		sample := make([]float64, 5+rng.IntN(60))
		for i := range sample {
			sample[i] = rng.NormFloat64()
		}
		for _, p := range testPercentiles {
			est, err := Compute(sample, p, 90, datatypes.DirectionAuto)
			require.NoError(t, err)
			if v, ok := est.Value.Float64(); ok {
				assert.Contains(t, sample, v)
			}
		}
	}
}

func TestCompute_RejectsParameters(t *testing.T) {
	_, err := Compute([]float64{1, 2, 3}, 0, 75, datatypes.DirectionAuto)
	assert.ErrorIs(t, err, datatypes.ErrInvalidPercentile)

	_, err = Compute([]float64{1, 2, 3}, 50, 100, datatypes.DirectionAuto)
	assert.ErrorIs(t, err, datatypes.ErrInvalidConfidence)

	_, err = Compute([]float64{1, 2, 3}, 50, 75, datatypes.Direction(42))
	assert.ErrorIs(t, err, datatypes.ErrInvalidDirection)

	_, err = Compute([]float64{1, math.NaN()}, 50, 75, datatypes.DirectionAuto)
	assert.ErrorIs(t, err, datatypes.ErrNonFiniteSample)
}

func TestCompute_Coverage(t *testing.T) {
	// Upper bound of the 90th percentile of U(0,1) at 90% confidence must
	// cover 0.9 in at least ~90% of trials.
	const (
		trials = 2000
		n      = 30
	)
	rng := rand.New(rand.NewPCG(1, 2))
	covered := 0
	sample := make([]float64, n)
	for trial := 0; trial < trials; trial++ {
		for i := range sample {
			sample[i] = rng.Float64()
		}
		v, err := Bound(sample, 90, 90, datatypes.DirectionUpper)
		require.NoError(t, err)
		if v.Or(math.Inf(-1)) >= 0.9 {
			covered++
		}
	}
	assert.GreaterOrEqual(t, float64(covered)/trials, 0.88)
}

func TestCompute_Idempotent(t *testing.T) {
	sample := []float64{4, 8, 15, 16, 23, 42, 7, 9}
	a, err := Compute(sample, 75, 60, datatypes.DirectionAuto)
	require.NoError(t, err)
	b, err := Compute(sample, 75, 60, datatypes.DirectionAuto)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// -----------------------------------------------------------------------------
// Sample Size Tests
// -----------------------------------------------------------------------------

func TestMinSampleSize_KnownValues(t *testing.T) {
	tests := []struct {
		percentile float64
		confidence float64
		want       int
	}{
		{25, 75, 5},
		{75, 75, 5},
		{50, 95, 5},
		{50, 50, 1},
		{90, 90, 22},
		{95, 95, 59},
		{99, 95, 299},
	}
	for _, tt := range tests {
		got, err := MinSampleSize(tt.percentile, tt.confidence, datatypes.DirectionAuto)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "p=%g c=%g", tt.percentile, tt.confidence)
	}
}

func TestMinSampleSize_MonotoneInConfidence(t *testing.T) {
	for _, p := range testPercentiles {
		prev := 0
		for _, c := range testConfidences {
			n, err := MinSampleSize(p, c, datatypes.DirectionAuto)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, n, prev, "p=%g c=%g", p, c)
			prev = n
		}
	}
}

func TestMinSampleSize_SymmetricAndBoundedBelow(t *testing.T) {
	for _, c := range testConfidences {
		median, err := MinSampleSize(50, c, datatypes.DirectionAuto)
		require.NoError(t, err)
		for _, p := range testPercentiles {
			if p == 50 {
				continue
			}
			n, err := MinSampleSize(p, c, datatypes.DirectionAuto)
			require.NoError(t, err)
			mirror, err := MinSampleSize(100-p, c, datatypes.DirectionAuto)
			require.NoError(t, err)
			assert.Equal(t, n, mirror, "p=%g c=%g", p, c)
			assert.GreaterOrEqual(t, n, median, "p=%g c=%g", p, c)
		}
	}
}

func TestMinSampleSizeRobust(t *testing.T) {
	n, err := MinSampleSizeRobust(50, 95, datatypes.DirectionAuto, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = MinSampleSizeRobust(50, 95, datatypes.DirectionAuto, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	// The bound rank must leave exactly the requested room.
	for r := 0; r <= 4; r++ {
		n, err := MinSampleSizeRobust(90, 90, datatypes.DirectionUpper, r)
		require.NoError(t, err)
		k, ok := Rank(n, 90, 90, datatypes.DirectionUpper)
		require.True(t, ok)
		assert.GreaterOrEqual(t, n-k, r)
	}

	_, err = MinSampleSizeRobust(50, 95, datatypes.DirectionAuto, -1)
	assert.ErrorIs(t, err, ErrInvalidRobustness)
}

func TestSizingTable(t *testing.T) {
	rows, err := SizingTable([]float64{25, 50}, []float64{75, 95}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, SizingRow{Percentile: 25, Confidence: 75, Direction: datatypes.DirectionLower, MinSize: 5}, rows[0])
	assert.Equal(t, datatypes.DirectionUpper, rows[2].Direction)

	_, err = SizingTable([]float64{25, 150}, []float64{75}, 0)
	assert.ErrorIs(t, err, datatypes.ErrInvalidPercentile)

	_, err = SizingTable(nil, []float64{75}, 0)
	assert.ErrorIs(t, err, datatypes.ErrInvalidParameter)
}
