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

// ArtifactSet is the set of diagnostic artifacts a caller asks for.
type ArtifactSet uint8

const (
	// ArtifactSeries requests a copy of the input series.
	ArtifactSeries ArtifactSet = 1 << iota

	// ArtifactAutocorrelation requests the correlogram and its band.
	ArtifactAutocorrelation

	// ArtifactBounds requests the computed bounds as overlay markers.
	ArtifactBounds

	// ArtifactNone requests nothing.
	ArtifactNone ArtifactSet = 0

	// ArtifactAll requests every artifact.
	ArtifactAll = ArtifactSeries | ArtifactAutocorrelation | ArtifactBounds
)

// Has reports whether every artifact in other is requested.
func (s ArtifactSet) Has(other ArtifactSet) bool {
	return s&other == other
}

// String lists the requested artifacts, e.g. "series|bounds".
func (s ArtifactSet) String() string {
	if s == ArtifactNone {
		return "none"
	}
	var parts []string
	if s.Has(ArtifactSeries) {
		parts = append(parts, "series")
	}
	if s.Has(ArtifactAutocorrelation) {
		parts = append(parts, "autocorrelation")
	}
	if s.Has(ArtifactBounds) {
		parts = append(parts, "bounds")
	}
	return strings.Join(parts, "|")
}

// ParseArtifactSet parses artifact names such as "series", "autocorrelation",
// "bounds", "all" or "none". An empty list is ArtifactNone.
func ParseArtifactSet(names []string) (ArtifactSet, error) {
	set := ArtifactNone
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "series":
			set |= ArtifactSeries
		case "autocorrelation", "acf", "correlogram":
			set |= ArtifactAutocorrelation
		case "bounds":
			set |= ArtifactBounds
		case "all":
			set |= ArtifactAll
		case "none", "":
		default:
			return ArtifactNone, fmt.Errorf("%w: unknown artifact %q", ErrInvalidParameter, name)
		}
	}
	return set, nil
}

// Correlogram is the autocorrelation-versus-lag curve of a sample together
// with its white-noise significance band.
type Correlogram struct {
	// Lags are the tested lags, starting at 1.
	Lags []int `json:"lags"`

	// Values holds the autocorrelation at each lag.
	Values []float64 `json:"values"`

	// Band is the half-width of the ±z/√n band.
	Band float64 `json:"band"`

	// Outside counts lags whose |autocorrelation| exceeds Band.
	Outside int `json:"outside"`

	// Allowed is the largest Outside count still accepted as independent.
	Allowed int `json:"allowed"`
}

// BoundMarker is one computed bound, ready to overlay on the series.
type BoundMarker struct {
	Label      string    `json:"label"`
	Percentile float64   `json:"percentile"`
	Direction  Direction `json:"direction"`
	Rank       int       `json:"rank"`
	Value      Value     `json:"value"`
}

// Artifacts is the bundle of optional plotting inputs. Fields the caller did
// not request are nil.
type Artifacts struct {
	Series      []float64     `json:"series,omitempty"`
	Correlogram *Correlogram  `json:"correlogram,omitempty"`
	Bounds      []BoundMarker `json:"bounds,omitempty"`
}
