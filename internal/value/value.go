// Package value defines the tagged scalar type shared by every layer of the
// engine: columns store it, predicates compare it, accumulators fold it, and
// query results are built out of rows of it.
package value

import (
	"fmt"
	"math"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is a tagged scalar: exactly one of the typed fields is meaningful,
// selected by Kind. It is intentionally a value type (no pointers) so it can
// be copied freely between columns, masks, and accumulators.
type Value struct {
	kind Kind
	b    bool
	i    int64 // also backs Timestamp (milliseconds since epoch)
	f    float64
	s    string
}

// Null is the canonical null value.
var Null = Value{kind: KindNull}

func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }
func Int64(i int64) Value     { return Value{kind: KindInt64, i: i} }
func Float64(f float64) Value { return Value{kind: KindFloat64, f: f} }
func String(s string) Value   { return Value{kind: KindString, s: s} }
func Timestamp(ms int64) Value { return Value{kind: KindTimestamp, i: ms} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the bool payload; only meaningful when Kind() == KindBool.
func (v Value) AsBool() bool { return v.b }

// AsInt64 returns the int64 payload; meaningful for KindInt64 and KindTimestamp.
func (v Value) AsInt64() int64 { return v.i }

// AsFloat64 returns the float64 payload; only meaningful when Kind() == KindFloat64.
func (v Value) AsFloat64() float64 { return v.f }

// AsString returns the string payload; only meaningful when Kind() == KindString.
func (v Value) AsString() string { return v.s }

// Numeric reports whether v can participate in numeric coercion (Int64,
// Float64, or Timestamp) and returns its float64 representation.
func (v Value) Numeric() (f float64, ok bool) {
	switch v.kind {
	case KindInt64, KindTimestamp:
		return float64(v.i), true
	case KindFloat64:
		return v.f, true
	default:
		return 0, false
	}
}

// String renders a human-readable representation; used by logging and the
// demo CLI formatter, never by comparisons.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindTimestamp:
		return fmt.Sprintf("%d", v.i)
	default:
		return "?"
	}
}

// variantRank gives the stable per-variant ordering used when two values of
// different, non-coercible kinds must still be totally ordered.
func variantRank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt64, KindFloat64, KindTimestamp:
		return 2
	case KindString:
		return 3
	default:
		return 4
	}
}

// numericPair reports whether both values can be compared as numbers
// (Int64/Float64/Timestamp are mutually comparable).
func numericPair(a, b Value) (af, bf float64, ok bool) {
	af, aok := a.Numeric()
	bf, bok := b.Numeric()
	if aok && bok {
		return af, bf, true
	}
	return 0, 0, false
}

// Compare returns -1, 0, or 1 establishing a total order over all Values.
// Null sorts smallest. Int64/Float64/Timestamp compare numerically against
// each other. f64 is compared by bit pattern when both sides are Float64,
// for determinism across NaN-bearing data.
func Compare(a, b Value) int {
	if a.kind == KindNull && b.kind == KindNull {
		return 0
	}
	if a.kind == KindNull {
		return -1
	}
	if b.kind == KindNull {
		return 1
	}
	if a.kind == KindBool && b.kind == KindBool {
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	}
	if a.kind == KindString && b.kind == KindString {
		return strings.Compare(a.s, b.s)
	}
	if af, bf, ok := numericPair(a, b); ok {
		if a.kind == KindFloat64 && b.kind == KindFloat64 {
			abits, bbits := math.Float64bits(a.f), math.Float64bits(b.f)
			switch {
			case abits == bbits:
				return 0
			case abits < bbits:
				return -1
			default:
				return 1
			}
		}
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	// Mixed, non-coercible kinds: fall back to the stable variant rank.
	ra, rb := variantRank(a.kind), variantRank(b.kind)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

// Equal reports whether a and b are equal under Compare's total order.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

// Less reports whether a sorts strictly before b.
func Less(a, b Value) bool { return Compare(a, b) < 0 }

// Hash returns a hash consistent with Equal: equal values hash equally.
// Used by group-by key maps and accumulator buckets.
func Hash(v Value) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211

	h := uint64(offset64)
	mix := func(b byte) {
		h ^= uint64(b)
		h *= prime64
	}
	switch v.kind {
	case KindNull:
		mix(0)
	case KindBool:
		mix(1)
		if v.b {
			mix(1)
		} else {
			mix(0)
		}
	case KindString:
		mix(2)
		for i := 0; i < len(v.s); i++ {
			mix(v.s[i])
		}
	default:
		// Int64, Float64, Timestamp: hash on the numeric bit pattern so that
		// values equal under Compare (e.g. Int64(3) vs Timestamp(3)) collide.
		mix(3)
		var bits uint64
		if f, ok := v.Numeric(); ok {
			bits = math.Float64bits(f)
		}
		for i := 0; i < 8; i++ {
			mix(byte(bits >> (8 * i)))
		}
	}
	return h
}
