// Package column implements the typed, nullable, optionally compressed
// columnar storage backing every shard. A Column is a closed variant:
// operations dispatch on Kind rather than through an open interface
// hierarchy, mirroring how value.Value dispatches on its own Kind.
package column

import (
	"errors"
	"sync"

	"streamshard/internal/compress"
	"streamshard/internal/dict"
	"streamshard/internal/value"
)

// ErrImmutableColumn is returned by Push when the column has been sealed
// into its compressed form.
var ErrImmutableColumn = errors.New("column: push to a compressed (immutable) column")

// Kind identifies which representation backs a Column.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindTimestamp
	KindCompressed
)

// Column is a single typed, nullable vector of values for one field across
// every row in a shard. Uncompressed columns are append-only (push grows
// length by one); compressed columns are read-only.
type Column struct {
	kind Kind

	nullCount int // only meaningful when kind == KindNull

	boolVals  []bool
	boolValid []bool

	i64Vals  []int64
	i64Valid []bool

	f64Vals  []float64
	f64Valid []bool

	strIDs   []uint32
	strValid []bool
	dict     *dict.Dictionary

	tsVals  []int64
	tsValid []bool

	compressed *compressedState
}

// compressedState holds a sealed column's compressed payload plus a lazily
// populated whole-block decode cache. BitPack/Delta/RLE decode a single
// index directly; LZ4 requires whole-block decompression, so its decoded
// vector is cached the first time any index is requested.
type compressedState struct {
	underlying Kind // the logical kind before compression
	payload    compress.Payload
	frozenDict *dict.Frozen // only set when underlying == KindString

	mu       sync.Mutex
	decoded  bool
	i64Vals  []int64
	i64Valid []bool
	idVals   []uint32
	idValid  []bool
}

// New creates an empty, uncompressed column of the given kind.
func New(kind Kind) *Column {
	return &Column{kind: kind}
}

// NewString creates an empty string column backed by the given shared
// dictionary.
func NewString(d *dict.Dictionary) *Column {
	return &Column{kind: KindString, dict: d}
}

func (c *Column) Kind() Kind { return c.kind }

// Len returns the column's row count.
func (c *Column) Len() int {
	switch c.kind {
	case KindNull:
		return c.nullCount
	case KindBool:
		return len(c.boolValid)
	case KindInt64:
		return len(c.i64Valid)
	case KindFloat64:
		return len(c.f64Valid)
	case KindString:
		return len(c.strValid)
	case KindTimestamp:
		return len(c.tsValid)
	case KindCompressed:
		return c.compressed.payload.Length
	default:
		return 0
	}
}

func (c *Column) IsEmpty() bool { return c.Len() == 0 }

// Push appends v to the column, applying the numeric/temporal coercions:
// Int64 widens into a Float64 column; Int64 and Timestamp convert into
// each other transparently; any other type mismatch stores a null in that
// row rather than failing the push. Push on a sealed/compressed column
// returns ErrImmutableColumn instead of mutating anything.
func (c *Column) Push(v value.Value) error {
	if c.kind == KindCompressed {
		return ErrImmutableColumn
	}
	if v.IsNull() {
		c.pushNull()
		return nil
	}
	switch c.kind {
	case KindNull:
		// A column that has only ever seen nulls adopts the type of the
		// first non-null push, back-filling prior nulls as null history.
		return c.adoptKind(v)
	case KindBool:
		if v.Kind() == value.KindBool {
			c.boolVals = append(c.boolVals, v.AsBool())
			c.boolValid = append(c.boolValid, true)
		} else {
			c.pushNull()
		}
	case KindInt64:
		switch v.Kind() {
		case value.KindInt64:
			c.i64Vals = append(c.i64Vals, v.AsInt64())
			c.i64Valid = append(c.i64Valid, true)
		case value.KindTimestamp:
			c.i64Vals = append(c.i64Vals, v.AsInt64())
			c.i64Valid = append(c.i64Valid, true)
		default:
			c.pushNull()
		}
	case KindFloat64:
		switch v.Kind() {
		case value.KindFloat64:
			c.f64Vals = append(c.f64Vals, v.AsFloat64())
			c.f64Valid = append(c.f64Valid, true)
		case value.KindInt64:
			c.f64Vals = append(c.f64Vals, float64(v.AsInt64()))
			c.f64Valid = append(c.f64Valid, true)
		default:
			c.pushNull()
		}
	case KindString:
		if v.Kind() == value.KindString {
			id := c.dict.GetOrInsert(v.AsString())
			c.strIDs = append(c.strIDs, id)
			c.strValid = append(c.strValid, true)
		} else {
			c.pushNull()
		}
	case KindTimestamp:
		switch v.Kind() {
		case value.KindTimestamp:
			c.tsVals = append(c.tsVals, v.AsInt64())
			c.tsValid = append(c.tsValid, true)
		case value.KindInt64:
			c.tsVals = append(c.tsVals, v.AsInt64())
			c.tsValid = append(c.tsValid, true)
		default:
			c.pushNull()
		}
	}
	return nil
}

func (c *Column) pushNull() {
	switch c.kind {
	case KindNull:
		c.nullCount++
	case KindBool:
		c.boolVals = append(c.boolVals, false)
		c.boolValid = append(c.boolValid, false)
	case KindInt64:
		c.i64Vals = append(c.i64Vals, 0)
		c.i64Valid = append(c.i64Valid, false)
	case KindFloat64:
		c.f64Vals = append(c.f64Vals, 0)
		c.f64Valid = append(c.f64Valid, false)
	case KindString:
		c.strIDs = append(c.strIDs, 0)
		c.strValid = append(c.strValid, false)
	case KindTimestamp:
		c.tsVals = append(c.tsVals, 0)
		c.tsValid = append(c.tsValid, false)
	}
}

// adoptKind converts a null-only column into the kind of v, back-filling
// nullCount nulls before pushing v itself.
func (c *Column) adoptKind(v value.Value) error {
	n := c.nullCount
	switch v.Kind() {
	case value.KindBool:
		c.kind = KindBool
		c.boolVals = make([]bool, n, n+1)
		c.boolValid = make([]bool, n, n+1)
	case value.KindInt64:
		c.kind = KindInt64
		c.i64Vals = make([]int64, n, n+1)
		c.i64Valid = make([]bool, n, n+1)
	case value.KindFloat64:
		c.kind = KindFloat64
		c.f64Vals = make([]float64, n, n+1)
		c.f64Valid = make([]bool, n, n+1)
	case value.KindString:
		c.kind = KindString
		c.strIDs = make([]uint32, n, n+1)
		c.strValid = make([]bool, n, n+1)
	case value.KindTimestamp:
		c.kind = KindTimestamp
		c.tsVals = make([]int64, n, n+1)
		c.tsValid = make([]bool, n, n+1)
	}
	c.nullCount = 0
	return c.Push(v)
}

// Get returns the value at index, or Null if index is out of range — get
// never fails.
func (c *Column) Get(index int) value.Value {
	if index < 0 || index >= c.Len() {
		return value.Null
	}
	switch c.kind {
	case KindNull:
		return value.Null
	case KindBool:
		if !c.boolValid[index] {
			return value.Null
		}
		return value.Bool(c.boolVals[index])
	case KindInt64:
		if !c.i64Valid[index] {
			return value.Null
		}
		return value.Int64(c.i64Vals[index])
	case KindFloat64:
		if !c.f64Valid[index] {
			return value.Null
		}
		return value.Float64(c.f64Vals[index])
	case KindString:
		if !c.strValid[index] {
			return value.Null
		}
		return value.String(c.dict.String(c.strIDs[index]))
	case KindTimestamp:
		if !c.tsValid[index] {
			return value.Null
		}
		return value.Timestamp(c.tsVals[index])
	case KindCompressed:
		return c.compressed.get(index)
	default:
		return value.Null
	}
}

// Iterate calls fn for every row in order, in index order, stopping early
// if fn returns false.
func (c *Column) Iterate(fn func(index int, v value.Value) bool) {
	n := c.Len()
	for i := 0; i < n; i++ {
		if !fn(i, c.Get(i)) {
			return
		}
	}
}

// MemoryUsage estimates the column's resident byte footprint: vector
// capacity plus payload bytes for compressed columns. The shared
// dictionary's bytes are accounted separately by the owner (shard/table),
// never duplicated per column, since many columns can share one
// dictionary.
func (c *Column) MemoryUsage() int64 {
	const boolSize, i64Size, f64Size, idSize = 1, 8, 8, 4
	switch c.kind {
	case KindNull:
		return 0
	case KindBool:
		return int64(cap(c.boolVals))*boolSize + int64(cap(c.boolValid))*boolSize
	case KindInt64:
		return int64(cap(c.i64Vals))*i64Size + int64(cap(c.i64Valid))*boolSize
	case KindFloat64:
		return int64(cap(c.f64Vals))*f64Size + int64(cap(c.f64Valid))*boolSize
	case KindString:
		return int64(cap(c.strIDs))*idSize + int64(cap(c.strValid))*boolSize
	case KindTimestamp:
		return int64(cap(c.tsVals))*i64Size + int64(cap(c.tsValid))*boolSize
	case KindCompressed:
		return int64(len(c.compressed.payload.Bytes))
	default:
		return 0
	}
}

// DataType reports the column's logical type for schema purposes.
func (c *Column) DataType() value.DataType {
	k := c.kind
	if k == KindCompressed {
		k = c.compressed.underlying
	}
	switch k {
	case KindBool:
		return value.TypeBool
	case KindInt64:
		return value.TypeInt64
	case KindFloat64:
		return value.TypeFloat64
	case KindString:
		return value.TypeString
	case KindTimestamp:
		return value.TypeTimestamp
	default:
		return value.TypeNull
	}
}
