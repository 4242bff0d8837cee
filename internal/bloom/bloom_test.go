package bloom

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"streamshard/internal/value"
)

func TestMayContainNoFalseNegatives(t *testing.T) {
	f := New("event", 100, 0.01)
	f.Add(value.String("click"))
	f.Add(value.String("view"))

	assert.True(t, f.MayContain(value.String("click")))
	assert.True(t, f.MayContain(value.String("view")))
	assert.False(t, f.MayContain(value.String("purchase")))
}

func TestMergeUnion(t *testing.T) {
	a := New("event", 10, 0.01)
	a.Add(value.String("click"))
	b := New("event", 10, 0.01)
	b.Add(value.String("view"))

	a.Merge(b)
	assert.True(t, a.MayContain(value.String("click")))
	assert.True(t, a.MayContain(value.String("view")))
}

func TestNumericKeysCrossTypeEquivalence(t *testing.T) {
	f := New("ts", 10, 0.01)
	f.Add(value.Int64(42))
	assert.True(t, f.MayContain(value.Timestamp(42)))
}
