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
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidParameter is the umbrella for every rejected specification
	// field. Parameter errors abort the single call that received them.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidPercentile is returned when a percentile is outside (0,100).
	ErrInvalidPercentile = fmt.Errorf("%w: percentile must be in (0,100)", ErrInvalidParameter)

	// ErrInvalidConfidence is returned when a confidence level is outside (0,100).
	ErrInvalidConfidence = fmt.Errorf("%w: confidence must be in (0,100)", ErrInvalidParameter)

	// ErrInvalidBounds is returned when bounds are not finite or low >= high.
	ErrInvalidBounds = fmt.Errorf("%w: bounds require finite low < high", ErrInvalidParameter)

	// ErrInvalidMeasure is returned for an unknown or malformed measure.
	ErrInvalidMeasure = fmt.Errorf("%w: unknown measure", ErrInvalidParameter)

	// ErrInvalidDirection is returned for an unknown bound direction.
	ErrInvalidDirection = fmt.Errorf("%w: unknown bound direction", ErrInvalidParameter)

	// ErrInvalidPolicy is returned for an unknown out-of-bounds policy.
	ErrInvalidPolicy = fmt.Errorf("%w: unknown out-of-bounds policy", ErrInvalidParameter)

	// ErrOutOfBounds is returned when an observation lies outside the declared
	// bounds and the spec uses PolicyReject.
	ErrOutOfBounds = errors.New("observation outside declared bounds")

	// ErrNonFiniteSample is returned when a sample contains NaN or ±Inf.
	ErrNonFiniteSample = errors.New("sample contains non-finite value")

	// ErrEmptySample is returned when a run has no samples at all.
	ErrEmptySample = errors.New("sample is empty")

	// ErrBoundOrder signals that an upper bound fell below its paired lower
	// bound. This is an estimator defect, never a data condition.
	ErrBoundOrder = errors.New("upper bound below lower bound")
)
