package bitmask

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskInvariants(t *testing.T) {
	const n = 17
	m := AllFalse(n)
	m.Set(2)
	m.Set(5)
	m.Set(16)

	assert.EqualValues(t, 3, m.Count())
	assert.ElementsMatch(t, []uint{2, 5, 16}, m.Indices())

	self := m.And(m)
	assert.Equal(t, m.Count(), self.Count())

	none := m.And(m.Not())
	assert.EqualValues(t, 0, none.Count())

	all := m.Or(m.Not())
	assert.EqualValues(t, n, all.Count())
}

func TestAndCombinesConjunction(t *testing.T) {
	const n = 5
	a := AllFalse(n)
	a.Set(0)
	a.Set(1)
	a.Set(2)
	b := AllFalse(n)
	b.Set(1)
	b.Set(2)
	b.Set(3)

	combined := And(n, a, b)
	assert.ElementsMatch(t, []uint{1, 2}, combined.Indices())
}

func TestAllTrueAllFalse(t *testing.T) {
	assert.EqualValues(t, 9, AllTrue(9).Count())
	assert.EqualValues(t, 0, AllFalse(9).Count())
}
