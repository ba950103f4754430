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
	"strconv"
)

// Value is a bound or score that may be undefined.
//
// Description:
//
//	A Value is Undefined when the sample was too small to support the
//	requested percentile/confidence pair. Undefined is a normal outcome,
//	distinct from every real number including zero, so it cannot leak into
//	arithmetic unnoticed. The zero Value is Undefined.
//
// Thread Safety: Immutable; safe for concurrent use.
type Value struct {
	v  float64
	ok bool
}

// Defined wraps a real number.
func Defined(v float64) Value {
	return Value{v: v, ok: true}
}

// Undefined returns the "no valid bound" value.
func Undefined() Value {
	return Value{}
}

// IsDefined reports whether the value carries a number.
func (v Value) IsDefined() bool {
	return v.ok
}

// Float64 returns the number and whether it is defined.
func (v Value) Float64() (float64, bool) {
	return v.v, v.ok
}

// Or returns the number, or fallback when undefined.
func (v Value) Or(fallback float64) float64 {
	if !v.ok {
		return fallback
	}
	return v.v
}

// Sub returns v - other, Undefined unless both are defined.
func (v Value) Sub(other Value) Value {
	if !v.ok || !other.ok {
		return Undefined()
	}
	return Defined(v.v - other.v)
}

// Div returns v / d, Undefined when v is undefined.
func (v Value) Div(d float64) Value {
	if !v.ok {
		return Undefined()
	}
	return Defined(v.v / d)
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if !v.ok {
		return "undefined"
	}
	return strconv.FormatFloat(v.v, 'g', -1, 64)
}

// MarshalJSON encodes Undefined as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// UnmarshalJSON decodes null as Undefined.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Undefined()
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Defined(f)
	return nil
}
