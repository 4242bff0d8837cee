package column

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"streamshard/internal/compress"
	"streamshard/internal/dict"
	"streamshard/internal/value"
)

func TestPushGetRoundTripInt64(t *testing.T) {
	c := New(KindInt64)
	c.Push(value.Int64(1))
	c.Push(value.Null)
	c.Push(value.Int64(3))

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, value.Int64(1), c.Get(0))
	assert.True(t, c.Get(1).IsNull())
	assert.Equal(t, value.Int64(3), c.Get(2))
	assert.True(t, c.Get(100).IsNull(), "out of range returns Null, never fails")
}

func TestPushCoercesInt64IntoFloat64Column(t *testing.T) {
	c := New(KindFloat64)
	c.Push(value.Int64(5))
	c.Push(value.Float64(1.5))

	assert.Equal(t, value.Float64(5), c.Get(0))
	assert.Equal(t, value.Float64(1.5), c.Get(1))
}

func TestPushCoercesTimestampIntoInt64Column(t *testing.T) {
	c := New(KindInt64)
	c.Push(value.Timestamp(123))
	assert.Equal(t, value.Int64(123), c.Get(0))
}

func TestPushCoercesInt64IntoTimestampColumn(t *testing.T) {
	c := New(KindTimestamp)
	c.Push(value.Int64(123))
	assert.Equal(t, value.Timestamp(123), c.Get(0))
}

func TestPushTypeMismatchStoresNull(t *testing.T) {
	c := New(KindInt64)
	c.Push(value.String("not a number"))
	assert.True(t, c.Get(0).IsNull())
	assert.Equal(t, 1, c.Len())
}

func TestStringColumnInternsViaDictionary(t *testing.T) {
	d := dict.New()
	c := NewString(d)
	c.Push(value.String("click"))
	c.Push(value.String("click"))
	c.Push(value.Null)
	c.Push(value.String("view"))

	assert.Equal(t, value.String("click"), c.Get(0))
	assert.Equal(t, value.String("click"), c.Get(1))
	assert.True(t, c.Get(2).IsNull())
	assert.Equal(t, value.String("view"), c.Get(3))
	assert.Equal(t, 2, d.Len(), "two distinct strings should intern to two ids")
}

func TestNullOnlyColumnAdoptsFirstNonNullKind(t *testing.T) {
	c := New(KindNull)
	c.Push(value.Null)
	c.Push(value.Null)
	c.Push(value.Bool(true))

	assert.Equal(t, KindBool, c.Kind())
	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Get(0).IsNull())
	assert.True(t, c.Get(1).IsNull())
	assert.Equal(t, value.Bool(true), c.Get(2))
}

func TestCompressedColumnIsImmutable(t *testing.T) {
	c := New(KindBool)
	for i := 0; i < 10; i++ {
		c.Push(value.Bool(i%2 == 0))
	}
	compressed := Compress(c)
	err := compressed.Push(value.Bool(true))
	assert.ErrorIs(t, err, ErrImmutableColumn)
}

func TestCompressedBoolRoundTrip(t *testing.T) {
	c := New(KindBool)
	values := []bool{true, false, true, true, false}
	valid := []bool{true, true, false, true, true}
	for i := range values {
		if valid[i] {
			c.Push(value.Bool(values[i]))
		} else {
			c.Push(value.Null)
		}
	}
	compressed := Compress(c)
	assert.Equal(t, c.Len(), compressed.Len())
	for i := range values {
		assert.Equal(t, c.Get(i), compressed.Get(i))
	}
}

func TestCompressedInt64RoundTripDelta(t *testing.T) {
	c := New(KindInt64)
	base := int64(1_700_000_000_000)
	for i := 0; i < 150; i++ {
		c.Push(value.Int64(base + int64(i)))
	}
	compressed := Compress(c)
	assert.Equal(t, c.Len(), compressed.Len())
	for i := 0; i < c.Len(); i++ {
		assert.Equal(t, c.Get(i), compressed.Get(i))
	}
}

func TestCompressedInt64RoundTripRLE(t *testing.T) {
	c := New(KindInt64)
	for i := 0; i < 150; i++ {
		c.Push(value.Int64(7))
	}
	compressed := Compress(c)
	for i := 0; i < c.Len(); i++ {
		assert.Equal(t, value.Int64(7), compressed.Get(i))
	}
}

func TestCompressedInt64RoundTripLZ4(t *testing.T) {
	c := New(KindInt64)
	noise := []int64{5, -900000, 13, 420000, -7, 88, -321, 654321}
	for i := 0; i < 150; i++ {
		c.Push(value.Int64(noise[i%len(noise)] + int64(i)))
	}
	compressed := Compress(c)
	assert.Equal(t, compress.AlgoLZ4, compressed.compressed.payload.Algorithm)
	for i := 0; i < c.Len(); i++ {
		assert.Equal(t, c.Get(i), compressed.Get(i))
	}
}

func TestCompressedStringRoundTrip(t *testing.T) {
	d := dict.New()
	c := NewString(d)
	words := []string{"a", "a", "a", "b", "c", "c", "c", "c"}
	for _, w := range words {
		c.Push(value.String(w))
	}
	c.Push(value.Null)
	compressed := Compress(c)
	assert.Equal(t, c.Len(), compressed.Len())
	for i := 0; i < c.Len(); i++ {
		assert.Equal(t, c.Get(i), compressed.Get(i))
	}
}

func TestMemoryUsageNeverNegative(t *testing.T) {
	c := New(KindFloat64)
	c.Push(value.Float64(1.0))
	assert.GreaterOrEqual(t, c.MemoryUsage(), int64(0))
}
