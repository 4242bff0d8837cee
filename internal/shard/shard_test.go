package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamshard/internal/value"
)

func TestInsertRowBackfillsNullsForNewAndMissingColumns(t *testing.T) {
	s := New(0, 1000)
	require.NoError(t, s.InsertRow(Row{"timestamp": value.Timestamp(10), "a": value.Int64(1)}))
	require.NoError(t, s.InsertRow(Row{"timestamp": value.Timestamp(20), "b": value.String("x")}))

	assert.Equal(t, 2, s.RowCount())

	v, ok := s.GetValue(0, "a")
	assert.True(t, ok)
	assert.Equal(t, value.Int64(1), v)

	v, ok = s.GetValue(1, "a")
	assert.True(t, ok)
	assert.True(t, v.IsNull(), "row 1 never set 'a', should back-fill to null")

	v, ok = s.GetValue(0, "b")
	assert.True(t, ok)
	assert.True(t, v.IsNull(), "row 0 never set 'b', should back-fill to null")

	v, ok = s.GetValue(1, "b")
	assert.True(t, ok)
	assert.Equal(t, value.String("x"), v)
}

func TestInsertRowMissingTimestamp(t *testing.T) {
	s := New(0, 1000)
	err := s.InsertRow(Row{"a": value.Int64(1)})
	assert.ErrorIs(t, err, ErrMissingTimestamp)
}

func TestInsertRowTimestampOutOfRange(t *testing.T) {
	s := New(0, 1000)
	err := s.InsertRow(Row{"timestamp": value.Timestamp(5000)})
	assert.ErrorIs(t, err, ErrTimestampOutOfRange)
}

func TestInsertRowRejectedAfterSeal(t *testing.T) {
	s := New(0, 1000)
	require.NoError(t, s.InsertRow(Row{"timestamp": value.Timestamp(1)}))
	s.Seal()
	err := s.InsertRow(Row{"timestamp": value.Timestamp(2)})
	assert.ErrorIs(t, err, ErrShardSealed)
}

func TestSealIsOneWayAndIdempotent(t *testing.T) {
	s := New(0, 1000)
	require.NoError(t, s.InsertRow(Row{"timestamp": value.Timestamp(1)}))
	s.Seal()
	assert.True(t, s.IsSealed())
	s.Seal() // must not panic
	assert.True(t, s.IsSealed())
}

func TestSealCompressesLargeColumnsAndPreservesValues(t *testing.T) {
	s := New(0, 1_000_000)
	for i := int64(0); i < 150; i++ {
		require.NoError(t, s.InsertRow(Row{"timestamp": value.Timestamp(i), "n": value.Int64(i)}))
	}
	before := make([]value.Value, 150)
	for i := 0; i < 150; i++ {
		v, _ := s.GetValue(i, "n")
		before[i] = v
	}
	s.Seal()
	for i := 0; i < 150; i++ {
		v, _ := s.GetValue(i, "n")
		assert.Equal(t, before[i], v)
	}
}

func TestSchemaMergesTypesAcrossRows(t *testing.T) {
	s := New(0, 1000)
	require.NoError(t, s.InsertRow(Row{"timestamp": value.Timestamp(1), "n": value.Int64(1)}))
	require.NoError(t, s.InsertRow(Row{"timestamp": value.Timestamp(2), "n": value.Float64(1.5)}))
	assert.Equal(t, value.TypeFloat64, s.Schema()["n"])
}

func TestOverlaps(t *testing.T) {
	s := New(100, 200)
	assert.True(t, s.Overlaps(150, 250))
	assert.True(t, s.Overlaps(50, 150))
	assert.False(t, s.Overlaps(200, 300), "end-exclusive: [100,200) does not overlap [200,300)")
	assert.False(t, s.Overlaps(0, 100), "start-exclusive on the other side: [100,200) does not overlap [0,100)")
}
