package accum

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"streamshard/internal/value"
)

func TestCountAllVsNonNull(t *testing.T) {
	c := NewCount(true)
	c.Accumulate(value.Int64(1))
	c.Accumulate(value.Null)
	assert.Equal(t, value.Int64(2), c.Result())

	c2 := NewCount(false)
	c2.Accumulate(value.Int64(1))
	c2.Accumulate(value.Null)
	assert.Equal(t, value.Int64(1), c2.Result())
}

func TestSumNullWhenEmpty(t *testing.T) {
	s := NewSum()
	assert.True(t, s.Result().IsNull())
	s.Accumulate(value.Int64(2))
	s.Accumulate(value.Float64(3.5))
	assert.Equal(t, value.Float64(5.5), s.Result())
}

func TestAvgMergeAddsSumAndCount(t *testing.T) {
	a := NewAvg()
	a.Accumulate(value.Int64(10))
	a.Accumulate(value.Int64(20))

	b := NewAvg()
	b.Accumulate(value.Int64(30))

	a.Merge(b)
	assert.Equal(t, value.Float64(20), a.Result())
}

func TestMinMaxTotalOrder(t *testing.T) {
	mn := NewMin()
	mn.Accumulate(value.Int64(5))
	mn.Accumulate(value.Null)
	mn.Accumulate(value.Int64(-2))
	assert.Equal(t, value.Int64(-2), mn.Result())

	mx := NewMax()
	mx.Accumulate(value.Int64(5))
	mx.Accumulate(value.Int64(9))
	assert.Equal(t, value.Int64(9), mx.Result())
}

func TestMinMergeAcrossShards(t *testing.T) {
	a := NewMin()
	a.Accumulate(value.Int64(5))
	b := NewMin()
	b.Accumulate(value.Int64(-100))
	a.Merge(b)
	assert.Equal(t, value.Int64(-100), a.Result())
}

func TestPercentileWithinRange(t *testing.T) {
	p := NewPercentile(50)
	for i := 1; i <= 100; i++ {
		p.Accumulate(value.Int64(int64(i)))
	}
	r := p.Result()
	f, _ := r.Numeric()
	assert.InDelta(t, 50, f, 5)
}

func TestPercentileMergeBounded(t *testing.T) {
	a := NewPercentile(90)
	for i := 0; i < 5; i++ {
		a.Accumulate(value.Int64(int64(i)))
	}
	b := NewPercentile(90)
	for i := 0; i < 5; i++ {
		b.Accumulate(value.Int64(int64(100 + i)))
	}
	a.Merge(b)
	assert.LessOrEqual(t, len(a.samples), percentileReservoirCap)
	assert.True(t, len(a.samples) >= 5)
}

func TestHistogramBucketsByFloorDivision(t *testing.T) {
	h := NewHistogram(10)
	h.Accumulate(value.Int64(3))
	h.Accumulate(value.Int64(7))
	h.Accumulate(value.Int64(15))
	buckets := h.Buckets()
	assert.Equal(t, int64(2), buckets[0])
	assert.Equal(t, int64(1), buckets[1])
}

func TestHistogramMergeSumsCounts(t *testing.T) {
	a := NewHistogram(10)
	a.Accumulate(value.Int64(1))
	b := NewHistogram(10)
	b.Accumulate(value.Int64(2))
	a.Merge(b)
	assert.Equal(t, int64(2), a.Buckets()[0])
}
