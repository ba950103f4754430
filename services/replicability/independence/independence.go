// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package independence screens a time-ordered sample for serial correlation.
//
// The percentile bounds of package bound are only valid for iid samples.
// Independence cannot be proven from data, so this package provides an
// empirical proxy: the sample autocorrelation at lags 1..L is compared with
// the ±z/√n band expected from white noise. The sample passes when more than
// a fixed fraction of the lags lie inside the band and no more lags fall
// outside it than white noise itself would produce at the configured
// acceptance level.
//
// The test is a screening heuristic. A failure flags a series whose bounds
// should not be trusted; a pass is not a proof.
package independence

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/replicability/services/replicability/datatypes"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("invalid independence test configuration")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config tunes the independence test.
type Config struct {
	// BandConfidence is the coverage of the white-noise band, in (0,1).
	BandConfidence float64 `json:"band_confidence" yaml:"band_confidence"`

	// AcceptanceConfidence is the quantile of the white-noise exceedance
	// count used as the acceptance limit, in (0,1).
	AcceptanceConfidence float64 `json:"acceptance_confidence" yaml:"acceptance_confidence"`

	// MinInsideFraction is the share of tested lags that must lie strictly
	// inside the band, in (0,1). With 0.75, up to four lags allow no
	// exceedance at all.
	MinInsideFraction float64 `json:"min_inside_fraction" yaml:"min_inside_fraction"`

	// LagFraction sets the number of tested lags to n*LagFraction, in (0,1].
	LagFraction float64 `json:"lag_fraction" yaml:"lag_fraction"`

	// MinLags is the least number of lags tested when the sample allows it.
	MinLags int `json:"min_lags" yaml:"min_lags"`

	// MinSamples is the shortest sample the test will judge. Shorter
	// samples fail. Must be at least 3.
	MinSamples int `json:"min_samples" yaml:"min_samples"`
}

// DefaultConfig returns a 95% band, a 95% acceptance quantile, a 75% in-band
// share and lags up to a quarter of the sample size.
func DefaultConfig() Config {
	return Config{
		BandConfidence:       0.95,
		AcceptanceConfidence: 0.95,
		MinInsideFraction:    0.75,
		LagFraction:          0.25,
		MinLags:              2,
		MinSamples:           3,
	}
}

// Validate checks every field.
func (c Config) Validate() error {
	switch {
	case !(c.BandConfidence > 0 && c.BandConfidence < 1):
		return fmt.Errorf("%w: band confidence %g not in (0,1)", ErrInvalidConfig, c.BandConfidence)
	case !(c.AcceptanceConfidence > 0 && c.AcceptanceConfidence < 1):
		return fmt.Errorf("%w: acceptance confidence %g not in (0,1)", ErrInvalidConfig, c.AcceptanceConfidence)
	case !(c.MinInsideFraction > 0 && c.MinInsideFraction < 1):
		return fmt.Errorf("%w: min inside fraction %g not in (0,1)", ErrInvalidConfig, c.MinInsideFraction)
	case !(c.LagFraction > 0 && c.LagFraction <= 1):
		return fmt.Errorf("%w: lag fraction %g not in (0,1]", ErrInvalidConfig, c.LagFraction)
	case c.MinLags < 1:
		return fmt.Errorf("%w: min lags %d < 1", ErrInvalidConfig, c.MinLags)
	case c.MinSamples < 3:
		return fmt.Errorf("%w: min samples %d < 3", ErrInvalidConfig, c.MinSamples)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Tester
// -----------------------------------------------------------------------------

// Result is the outcome of one independence test.
type Result struct {
	// Independent is true when the sample passed.
	Independent bool `json:"independent"`

	// Correlogram holds the tested lags and band. Nil when the sample was
	// too short or constant.
	Correlogram *datatypes.Correlogram `json:"correlogram,omitempty"`

	// Reason explains the outcome in one line.
	Reason string `json:"reason"`
}

// Tester runs the autocorrelation screening test.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Tester struct {
	config Config
	z      float64
}

// NewTester creates a tester with the given configuration.
//
// Outputs:
//   - *Tester: Never nil on success.
//   - error: ErrInvalidConfig if the configuration is rejected.
func NewTester(config Config) (*Tester, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Tester{
		config: config,
		z:      distuv.UnitNormal.Quantile((1 + config.BandConfidence) / 2),
	}, nil
}

// defaultTester cannot fail: DefaultConfig always validates.
var defaultTester, _ = NewTester(DefaultConfig())

// Default returns the tester built from DefaultConfig.
func Default() *Tester {
	return defaultTester
}

// Config returns the tester's configuration.
func (t *Tester) Config() Config {
	return t.config
}

// Test screens a time-ordered sample for autocorrelation.
//
// Description:
//
//	The sample is normalized against bounds, its autocorrelation computed at
//	lags 1..L with L = clamp(n*LagFraction, MinLags, n-2), and each lag
//	compared against the ±z/√n band. The test passes when more than
//	MinInsideFraction of the L lags lie inside the band and the number outside
//	does not exceed the AcceptanceConfidence quantile of
//	Binomial(L, 1-BandConfidence), the exceedance count of white noise. For
//	short samples the in-band share dominates: with L <= 4 a single
//	exceedance fails the sample.
//
//	Samples shorter than MinSamples fail: independence is never assumed. A
//	constant sample passes, as it carries no detectable serial dependence.
//
// Inputs:
//   - sample: Observations in time order. Must be finite.
//   - bounds: Declared range of the quantity. Must be valid.
//
// Outputs:
//   - Result: Pass/fail with the correlogram.
//   - error: ErrInvalidBounds or ErrNonFiniteSample.
//
// Thread Safety: Safe for concurrent use.
func (t *Tester) Test(sample []float64, bounds datatypes.Bounds) (Result, error) {
	if err := bounds.Validate(); err != nil {
		return Result{}, err
	}
	if err := datatypes.CheckFinite(sample); err != nil {
		return Result{}, err
	}

	n := len(sample)
	if n < t.config.MinSamples {
		return Result{
			Independent: false,
			Reason:      fmt.Sprintf("%d samples, at least %d required", n, t.config.MinSamples),
		}, nil
	}

	normalized := make([]float64, n)
	for i, x := range sample {
		normalized[i] = bounds.Normalize(x)
	}

	lags := t.Lags(n)
	acf := Autocorrelation(normalized, lags)
	if acf == nil {
		return Result{Independent: true, Reason: "constant sample"}, nil
	}

	band := t.z / math.Sqrt(float64(n))
	allowed := allowedExceedances(lags, 1-t.config.BandConfidence, t.config.AcceptanceConfidence, t.config.MinInsideFraction)

	cg := &datatypes.Correlogram{
		Lags:    make([]int, lags),
		Values:  acf,
		Band:    band,
		Allowed: allowed,
	}
	for i, r := range acf {
		cg.Lags[i] = i + 1
		if math.Abs(r) > band {
			cg.Outside++
		}
	}

	res := Result{
		Independent: cg.Outside <= allowed,
		Correlogram: cg,
	}
	if res.Independent {
		res.Reason = fmt.Sprintf("%d of %d lags outside ±%.3f, at most %d allowed", cg.Outside, lags, band, allowed)
	} else {
		res.Reason = fmt.Sprintf("%d of %d lags outside ±%.3f, more than %d allowed", cg.Outside, lags, band, allowed)
	}
	return res, nil
}

// Lags returns how many lags are tested for a sample of size n. Zero means
// the sample is too short.
func (t *Tester) Lags(n int) int {
	if n < t.config.MinSamples {
		return 0
	}
	lags := int(float64(n) * t.config.LagFraction)
	if lags < t.config.MinLags {
		lags = t.config.MinLags
	}
	if lags > n-2 {
		lags = n - 2
	}
	return lags
}

// IsIndependent runs the default tester and returns only the verdict.
func IsIndependent(sample []float64, bounds datatypes.Bounds) (bool, error) {
	res, err := defaultTester.Test(sample, bounds)
	if err != nil {
		return false, err
	}
	return res.Independent, nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// Autocorrelation returns the sample autocorrelation at lags 1..maxLag.
//
// Description:
//
//	Uses the biased estimator r_k = Σ d_t d_{t+k} / Σ d_t², d = x - mean,
//	which keeps every r_k within [-1,1]. Returns nil for a constant sample or
//	one with fewer than two observations. maxLag is clipped to len(x)-1.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func Autocorrelation(x []float64, maxLag int) []float64 {
	n := len(x)
	if n < 2 || maxLag < 1 || isConstant(x) {
		return nil
	}
	if maxLag > n-1 {
		maxLag = n - 1
	}

	dev := slices.Clone(x)
	floats.AddConst(-stat.Mean(x, nil), dev)
	c0 := floats.Dot(dev, dev)
	if c0 == 0 {
		return nil
	}

	acf := make([]float64, maxLag)
	for k := 1; k <= maxLag; k++ {
		acf[k-1] = floats.Dot(dev[:n-k], dev[k:]) / c0
	}
	return acf
}

// allowedExceedances is the smallest m with BinomCDF(m; lags, alpha) >= level,
// capped so that more than inside*lags lags remain in the band.
func allowedExceedances(lags int, alpha, level, inside float64) int {
	b := distuv.Binomial{N: float64(lags), P: alpha}
	allowed := lags
	for m := 0; m < lags; m++ {
		if b.CDF(float64(m)) >= level {
			allowed = m
			break
		}
	}
	for allowed > 0 && float64(lags-allowed) <= inside*float64(lags) {
		allowed--
	}
	return allowed
}

func isConstant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}
