// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bound computes nonparametric one-sided confidence bounds on
// percentiles from finite samples.
//
// # Method
//
// For n iid draws, the number of draws falling below the true P-th
// percentile is Binomial(n, P/100). The k-th smallest draw X(k) is therefore
// an upper bound of that percentile with probability
//
//	Pr[X(k) >= x_P] = BinomCDF(k-1; n, P/100)
//
// and the bound is the smallest k reaching the requested confidence. A lower
// bound mirrors the procedure with the complementary percentile and counts
// ranks from the top. No distributional assumption is made; the only
// precondition is that the sample is iid, which package independence screens
// for.
//
//	 sorted sample   x(1) <= x(2) <= ... <= x(k) <= ... <= x(n)
//	                                          ▲
//	                       smallest k with BinomCDF(k-1; n, p) >= c
//
// When no rank qualifies the sample is too small for the requested pair and
// the bound is datatypes.Undefined. MinSampleSize reports the smallest n for
// which a rank exists, which is what experiment design needs.
//
// # Thread Safety
//
// Every function is stateless and safe for concurrent use.
package bound
