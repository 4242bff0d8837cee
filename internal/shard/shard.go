// Package shard implements the time-bounded columnar slab that rows land
// in: a half-open [start, end) interval of wall-clock milliseconds, one
// column per observed field, and a one-way Open -> Sealed lifecycle that
// triggers per-column compression.
package shard

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"streamshard/internal/bloom"
	"streamshard/internal/column"
	"streamshard/internal/dict"
	"streamshard/internal/value"
)

var (
	ErrShardSealed        = errors.New("shard: sealed, insert rejected")
	ErrMissingTimestamp   = errors.New("shard: row has no numeric timestamp")
	ErrTimestampOutOfRange = errors.New("shard: timestamp outside shard range")
)

const sealCompressionThreshold = 100

// Row is a single event: a field name maps to a scalar Value. "timestamp"
// is mandatory and must coerce to a numeric millisecond value.
type Row map[string]value.Value

const TimestampField = "timestamp"

// Shard is shared-owned by its table via reference counting: readers can
// hold a shard across a sweep without blocking it, and the last release
// triggers no special action here (the owning table decides when to drop
// a shard from its index).
type Shard struct {
	ID    string // opaque identifier for logging/observability, not part of the sort key
	Start int64
	End   int64

	mu      sync.RWMutex
	columns map[string]*column.Column
	schema  map[string]value.DataType
	order   []string // field order of column creation
	rowCount int

	sealed atomic.Bool
	dict   *dict.Dictionary
	blooms map[string]*bloom.Filter

	refCount atomic.Int32
}

// New creates an empty, open shard covering [start, end).
func New(start, end int64) *Shard {
	return &Shard{
		ID:      uuid.NewString(),
		Start:   start,
		End:     end,
		columns: make(map[string]*column.Column),
		schema:  make(map[string]value.DataType),
		dict:    dict.New(),
		blooms:  make(map[string]*bloom.Filter),
	}
}

// Acquire/Release implement the shared-ownership reference count a table
// uses so queries can hold a shard while expiry sweeps run concurrently.
func (s *Shard) Acquire() { s.refCount.Add(1) }
func (s *Shard) Release() { s.refCount.Add(-1) }
func (s *Shard) RefCount() int32 { return s.refCount.Load() }

func (s *Shard) IsSealed() bool { return s.sealed.Load() }
func (s *Shard) RowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rowCount
}

// Schema returns a copy of the shard's merged per-column data types.
func (s *Shard) Schema() map[string]value.DataType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]value.DataType, len(s.schema))
	for k, v := range s.schema {
		out[k] = v
	}
	return out
}

// ColumnOrder returns field names in the order their columns were
// created. Fields first seen in the same row follow map iteration order,
// so their relative order is not defined. The executor's `SELECT *`
// expansion does not use this; it sorts column names.
func (s *Shard) ColumnOrder() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func extractTimestamp(row Row) (int64, bool) {
	v, ok := row[TimestampField]
	if !ok || v.IsNull() {
		return 0, false
	}
	switch v.Kind() {
	case value.KindTimestamp, value.KindInt64:
		return v.AsInt64(), true
	case value.KindFloat64:
		return int64(v.AsFloat64()), true
	default:
		return 0, false
	}
}

// InsertRow appends one row to the shard. Every existing column not
// mentioned in row receives a Null push; every field in row either pushes
// to its existing column or creates a new one, back-filling Nulls for the
// rows that came before it. The schema's merged DataType is updated for
// every field present. After a successful return, every column has
// length == RowCount().
func (s *Shard) InsertRow(row Row) error {
	if s.IsSealed() {
		return ErrShardSealed
	}
	ts, ok := extractTimestamp(row)
	if !ok {
		return ErrMissingTimestamp
	}
	if ts < s.Start || ts >= s.End {
		return ErrTimestampOutOfRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed.Load() {
		return ErrShardSealed
	}

	for name, v := range row {
		col, exists := s.columns[name]
		if !exists {
			col = s.newColumnFor(name, v)
			for i := 0; i < s.rowCount; i++ {
				if err := col.Push(value.Null); err != nil {
					return fmt.Errorf("shard: backfilling column %q: %w", name, err)
				}
			}
			s.columns[name] = col
			s.order = append(s.order, name)
		}
		if err := col.Push(v); err != nil {
			return fmt.Errorf("shard: pushing column %q: %w", name, err)
		}
		s.schema[name] = value.MergeType(s.schema[name], value.TypeOf(v))
	}

	for name, col := range s.columns {
		if _, touched := row[name]; !touched {
			if err := col.Push(value.Null); err != nil {
				return fmt.Errorf("shard: padding column %q: %w", name, err)
			}
		}
	}

	s.rowCount++
	return nil
}

func (s *Shard) newColumnFor(name string, v value.Value) *column.Column {
	switch value.TypeOf(v) {
	case value.TypeBool:
		return column.New(column.KindBool)
	case value.TypeInt64:
		return column.New(column.KindInt64)
	case value.TypeFloat64:
		return column.New(column.KindFloat64)
	case value.TypeTimestamp:
		return column.New(column.KindTimestamp)
	case value.TypeString:
		return column.NewString(s.dict)
	default:
		return column.New(column.KindNull)
	}
}

// GetValue returns the value at row_idx for column, or (Null, false) only
// when the column itself is absent from the shard.
func (s *Shard) GetValue(rowIdx int, col string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.columns[col]
	if !ok {
		return value.Null, false
	}
	return c.Get(rowIdx), true
}

// Column returns the underlying column for direct scan access (used by the
// executor's fast paths); nil if absent.
func (s *Shard) Column(name string) *column.Column {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.columns[name]
}

// FilterRows returns the row indices for which predicate(value) is true.
// Debug/testing path only — the executor builds bitmasks instead.
func (s *Shard) FilterRows(col string, predicate func(value.Value) bool) []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.columns[col]
	if !ok {
		return nil
	}
	var out []int
	c.Iterate(func(i int, v value.Value) bool {
		if predicate(v) {
			out = append(out, i)
		}
		return true
	})
	return out
}

// Bloom returns the shard's bloom filter for column, if one was built.
func (s *Shard) Bloom(col string) (*bloom.Filter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.blooms[col]
	return f, ok
}

// CompressionStats reports column byte sizes for observability.
// CompressedBytes is the sum of every column's MemoryUsage (payload bytes
// for compressed columns, vector bytes for the rest). OriginalBytes is
// not filled in and stays zero.
type CompressionStats struct {
	OriginalBytes   int64
	CompressedBytes int64
}

func (s *Shard) CompressionStats() CompressionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats CompressionStats
	for _, c := range s.columns {
		stats.CompressedBytes += c.MemoryUsage()
	}
	return stats
}

// MemoryUsage sums every column's footprint plus the shard's private
// dictionary. Dictionaries are per-shard here (not shared across shards),
// so no double counting occurs at the table level.
func (s *Shard) MemoryUsage() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := s.dict.MemoryUsage()
	for _, c := range s.columns {
		total += c.MemoryUsage()
	}
	return total
}

// Seal performs the one-way Open -> Sealed transition: every column with
// length >= 100 is compressed with an algorithm chosen by
// compress.SelectForXxx, and bloom filters are built for columns whose
// merged type is a good equality-probe candidate (bounded-cardinality
// scalars: Bool, Int64, String, Timestamp — Float64 is excluded since
// equality probes on floats are rarely useful). Safe against concurrent
// readers: readers hold their own reference to the *column.Column they
// read, and columns are replaced, never mutated, under the write lock.
func (s *Shard) Seal() {
	if s.sealed.Swap(true) {
		return // already sealed; one-way transition, idempotent
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, c := range s.columns {
		if c.Len() >= sealCompressionThreshold {
			s.columns[name] = column.Compress(c)
		}
	}

	for name, c := range s.columns {
		dt, ok := s.schema[name]
		if !ok || dt == value.TypeFloat64 || dt == value.TypeNull {
			continue
		}
		f := bloom.New(name, uint(s.rowCount), 0.01)
		c.Iterate(func(_ int, v value.Value) bool {
			if !v.IsNull() {
				f.Add(v)
			}
			return true
		})
		s.blooms[name] = f
	}
}

// SortShardsByStart is the comparator a Table uses to keep its shard slice
// sorted by start time, enabling binary-search lookups.
func SortShardsByStart(shards []*Shard) {
	sort.Slice(shards, func(i, j int) bool { return shards[i].Start < shards[j].Start })
}

// Overlaps reports whether this shard's [Start, End) interval intersects
// [start, end).
func (s *Shard) Overlaps(start, end int64) bool {
	return s.Start < end && s.End > start
}
