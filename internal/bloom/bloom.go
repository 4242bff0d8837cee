// Package bloom implements the per-shard equality-probe filter used for
// shard pruning on low-cardinality columns. It wraps github.com/willf/bloom
// for fast negative lookups against a sealed shard's column values.
package bloom

import (
	"math"

	"github.com/willf/bloom"

	"streamshard/internal/value"
)

// Filter is a per-column equality-probe bloom filter. One Filter exists per
// indexed column per shard.
type Filter struct {
	column string
	bf     *bloom.BloomFilter
}

// New creates a Filter sized for expectedCardinality items at the given
// target false-positive rate.
func New(column string, expectedCardinality uint, falsePositiveRate float64) *Filter {
	if expectedCardinality == 0 {
		expectedCardinality = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	return &Filter{
		column: column,
		bf:     bloom.NewWithEstimates(expectedCardinality, falsePositiveRate),
	}
}

// Column returns the column this filter was built over.
func (f *Filter) Column() string { return f.column }

// Add records v as present in the filter.
func (f *Filter) Add(v value.Value) {
	f.bf.Add(keyBytes(v))
}

// MayContain reports whether v could be present. False means definitely
// absent; true means "maybe" (subject to the configured false-positive
// rate).
func (f *Filter) MayContain(v value.Value) bool {
	return f.bf.Test(keyBytes(v))
}

// Merge OR-combines two equal-sized filters over the same column. Used
// when re-aggregating partial shard statistics; panics on column or size
// mismatch since that indicates a programming error, not bad input data.
func (f *Filter) Merge(other *Filter) {
	if f.column != other.column {
		panic("bloom: cannot merge filters for different columns")
	}
	if err := f.bf.Merge(other.bf); err != nil {
		panic("bloom: " + err.Error())
	}
}

// EstimateK returns the number of hash functions in use, exposed for
// observability/compression_stats-style reporting.
func (f *Filter) EstimateK() uint {
	return f.bf.K()
}

// keyBytes renders a Value into the byte key the underlying filter hashes.
// Numeric kinds are normalized to their float64 bit pattern so that, e.g.,
// Int64(3) and Timestamp(3) probe the same slot — matching Value's total
// order, where those are equal.
func keyBytes(v value.Value) []byte {
	switch v.Kind() {
	case value.KindString:
		return []byte(v.AsString())
	case value.KindBool:
		if v.AsBool() {
			return []byte{1}
		}
		return []byte{0}
	case value.KindNull:
		return []byte{0xff}
	default:
		f, _ := v.Numeric()
		bits := math.Float64bits(f)
		buf := make([]byte, 8)
		for i := 0; i < 8; i++ {
			buf[i] = byte(bits >> (8 * i))
		}
		return buf
	}
}
