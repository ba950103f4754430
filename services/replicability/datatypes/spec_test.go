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
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEstimatorSpec_Valid(t *testing.T) {
	spec, err := NewEstimatorSpec(25, 75, Bounds{Low: 0, High: 120})
	require.NoError(t, err)
	assert.Equal(t, DirectionAuto, spec.Direction)
	assert.Equal(t, PolicyReject, spec.OutOfBounds)
	assert.Equal(t, DirectionLower, spec.ResolvedDirection())
}

func TestNewEstimatorSpec_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		percentile float64
		confidence float64
		bounds     Bounds
		want       error
	}{
		{"percentile zero", 0, 75, Bounds{0, 1}, ErrInvalidPercentile},
		{"percentile hundred", 100, 75, Bounds{0, 1}, ErrInvalidPercentile},
		{"percentile NaN", math.NaN(), 75, Bounds{0, 1}, ErrInvalidPercentile},
		{"confidence zero", 50, 0, Bounds{0, 1}, ErrInvalidConfidence},
		{"confidence hundred", 50, 100, Bounds{0, 1}, ErrInvalidConfidence},
		{"bounds equal", 50, 75, Bounds{1, 1}, ErrInvalidBounds},
		{"bounds inverted", 50, 75, Bounds{2, 1}, ErrInvalidBounds},
		{"bounds infinite", 50, 75, Bounds{0, math.Inf(1)}, ErrInvalidBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEstimatorSpec(tt.percentile, tt.confidence, tt.bounds)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestNewEstimatorSpec_UnknownDirection(t *testing.T) {
	_, err := NewEstimatorSpec(50, 75, Bounds{0, 1}, WithDirection(Direction(9)))
	assert.ErrorIs(t, err, ErrInvalidDirection)
}

func TestDirection_Resolve(t *testing.T) {
	assert.Equal(t, DirectionLower, DirectionAuto.Resolve(25))
	assert.Equal(t, DirectionUpper, DirectionAuto.Resolve(50))
	assert.Equal(t, DirectionUpper, DirectionAuto.Resolve(95))
	assert.Equal(t, DirectionLower, DirectionLower.Resolve(95))
	assert.Equal(t, DirectionUpper, DirectionUpper.Resolve(5))
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, DirectionAuto, d)

	d, err = ParseDirection(" Upper ")
	require.NoError(t, err)
	assert.Equal(t, DirectionUpper, d)

	_, err = ParseDirection("sideways")
	assert.ErrorIs(t, err, ErrInvalidDirection)
}

func TestEffectiveBounds(t *testing.T) {
	t.Run("reject keeps declared bounds", func(t *testing.T) {
		spec, err := NewEstimatorSpec(50, 75, Bounds{0, 10})
		require.NoError(t, err)
		eff, err := spec.EffectiveBounds([]float64{0, 5, 10})
		require.NoError(t, err)
		assert.Equal(t, Bounds{0, 10}, eff)
	})

	t.Run("reject fails on outlier", func(t *testing.T) {
		spec, err := NewEstimatorSpec(50, 75, Bounds{0, 10})
		require.NoError(t, err)
		_, err = spec.EffectiveBounds([]float64{1, 11})
		assert.ErrorIs(t, err, ErrOutOfBounds)
	})

	t.Run("widen extends both sides", func(t *testing.T) {
		spec, err := NewEstimatorSpec(50, 75, Bounds{0, 10}, WithOutOfBounds(PolicyWiden))
		require.NoError(t, err)
		eff, err := spec.EffectiveBounds([]float64{-2, 4, 13})
		require.NoError(t, err)
		assert.Equal(t, Bounds{-2, 13}, eff)
	})

	t.Run("non-finite always rejected", func(t *testing.T) {
		spec, err := NewEstimatorSpec(50, 75, Bounds{0, 10}, WithOutOfBounds(PolicyWiden))
		require.NoError(t, err)
		_, err = spec.EffectiveBounds([]float64{1, math.NaN()})
		assert.ErrorIs(t, err, ErrNonFiniteSample)
	})
}

func TestParseMeasure(t *testing.T) {
	m, err := ParseMeasure("percentile", 95, "ms")
	require.NoError(t, err)
	assert.Equal(t, MeasurePercentile, m.Kind)
	assert.Equal(t, "p95 [ms]", m.String())

	m, err = ParseMeasure("Mean", 0, "")
	require.NoError(t, err)
	assert.Equal(t, "mean", m.String())

	_, err = ParseMeasure("percentile", 120, "ms")
	assert.ErrorIs(t, err, ErrInvalidPercentile)

	_, err = ParseMeasure("median", 0, "")
	assert.ErrorIs(t, err, ErrInvalidMeasure)
}

func TestValue(t *testing.T) {
	var zero Value
	assert.False(t, zero.IsDefined(), "zero value must be undefined")
	assert.Equal(t, "undefined", zero.String())
	assert.Equal(t, -1.0, zero.Or(-1))

	v := Defined(0)
	f, ok := v.Float64()
	assert.True(t, ok)
	assert.Equal(t, 0.0, f)

	assert.False(t, Defined(3).Sub(Undefined()).IsDefined())
	assert.Equal(t, Defined(2), Defined(3).Sub(Defined(1)))
	assert.False(t, Undefined().Div(2).IsDefined())
}

func TestValue_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		A Value `json:"a"`
		B Value `json:"b"`
	}{A: Defined(1.5), B: Undefined()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1.5,"b":null}`, string(data))

	var out struct {
		A Value `json:"a"`
		B Value `json:"b"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, Defined(1.5), out.A)
	assert.False(t, out.B.IsDefined())
}

func TestEstimatorSpec_JSON(t *testing.T) {
	spec, err := NewEstimatorSpec(25, 75, Bounds{Low: 0, High: 120},
		WithDirection(DirectionUpper), WithOutOfBounds(PolicyWiden))
	require.NoError(t, err)

	data, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"percentile":25,"confidence":75,"bounds":{"low":0,"high":120},"direction":"upper","out_of_bounds":"widen"}`, string(data))

	var out EstimatorSpec
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, spec, out)

	assert.Error(t, json.Unmarshal([]byte(`{"direction":"sideways"}`), &out))

	m, err := json.Marshal(MaxMeasure("ms"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"max","unit":"ms"}`, string(m))
}

func TestArtifactSet(t *testing.T) {
	set := ArtifactSeries | ArtifactBounds
	assert.True(t, set.Has(ArtifactSeries))
	assert.False(t, set.Has(ArtifactAutocorrelation))
	assert.Equal(t, "series|bounds", set.String())
	assert.Equal(t, "none", ArtifactNone.String())
	assert.True(t, ArtifactAll.Has(ArtifactAutocorrelation))
}

func TestParseArtifactSet(t *testing.T) {
	set, err := ParseArtifactSet([]string{"series", " ACF "})
	require.NoError(t, err)
	assert.Equal(t, ArtifactSeries|ArtifactAutocorrelation, set)

	set, err = ParseArtifactSet(nil)
	require.NoError(t, err)
	assert.Equal(t, ArtifactNone, set)

	set, err = ParseArtifactSet([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, ArtifactAll, set)

	_, err = ParseArtifactSet([]string{"histogram"})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestCheckFinite(t *testing.T) {
	assert.NoError(t, CheckFinite([]float64{1, 2}))
	err := CheckFinite([]float64{1, math.Inf(-1)})
	assert.True(t, errors.Is(err, ErrNonFiniteSample))
}
