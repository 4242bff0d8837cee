// Package bitmask implements the per-row predicate bitmap ("row mask") used
// by the executor to track which rows in a shard survive a conjunction of
// filters. It wraps a dense bitset.BitSet rather than rolling a byte-slice
// by hand.
package bitmask

import "github.com/bits-and-blooms/bitset"

// Mask is a fixed-length row mask: bit i set means row i survives.
type Mask struct {
	bits *bitset.BitSet
	n    uint
}

// AllTrue returns a mask of length n with every bit set.
func AllTrue(n uint) *Mask {
	b := bitset.New(n)
	for i := uint(0); i < n; i++ {
		b.Set(i)
	}
	return &Mask{bits: b, n: n}
}

// AllFalse returns a mask of length n with every bit clear.
func AllFalse(n uint) *Mask {
	return &Mask{bits: bitset.New(n), n: n}
}

// Len returns the mask's fixed length.
func (m *Mask) Len() uint { return m.n }

// Get reports whether bit i is set.
func (m *Mask) Get(i uint) bool { return m.bits.Test(i) }

// Set sets bit i.
func (m *Mask) Set(i uint) { m.bits.Set(i) }

// Clear clears bit i.
func (m *Mask) Clear(i uint) { m.bits.Clear(i) }

// Count returns the number of set bits (popcount).
func (m *Mask) Count() uint { return m.bits.Count() }

// And returns a new mask that is the bitwise AND of m and other. Both must
// share the same length.
func (m *Mask) And(other *Mask) *Mask {
	return &Mask{bits: m.bits.Intersection(other.bits), n: m.n}
}

// Or returns a new mask that is the bitwise OR of m and other.
func (m *Mask) Or(other *Mask) *Mask {
	return &Mask{bits: m.bits.Union(other.bits), n: m.n}
}

// Not returns the complement of m within its declared length.
func (m *Mask) Not() *Mask {
	b := bitset.New(m.n)
	for i := uint(0); i < m.n; i++ {
		if !m.bits.Test(i) {
			b.Set(i)
		}
	}
	return &Mask{bits: b, n: m.n}
}

// Indices returns the ascending list of set bit positions.
func (m *Mask) Indices() []uint {
	result := make([]uint, 0, m.Count())
	for i, ok := m.bits.NextSet(0); ok; i, ok = m.bits.NextSet(i + 1) {
		result = append(result, i)
	}
	return result
}

// And combines masks with a logical AND over n rows, starting from an
// all-true mask, so no inputs yield an all-true mask.
// Used to build the conjunction of all filter masks for a shard.
func And(n uint, masks ...*Mask) *Mask {
	result := AllTrue(n)
	for _, m := range masks {
		result = result.And(m)
	}
	return result
}
