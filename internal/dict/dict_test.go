package dict

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrInsertIdempotent(t *testing.T) {
	d := New()
	id1 := d.GetOrInsert("click")
	id2 := d.GetOrInsert("click")
	assert.Equal(t, id1, id2)

	got, ok := d.Lookup("click")
	require.True(t, ok)
	assert.Equal(t, id1, got)
}

func TestDenseMonotonicIDs(t *testing.T) {
	d := New()
	a := d.GetOrInsert("a")
	b := d.GetOrInsert("b")
	c := d.GetOrInsert("a")
	assert.Equal(t, uint32(0), a)
	assert.Equal(t, uint32(1), b)
	assert.Equal(t, a, c)
	assert.Equal(t, "a", d.String(a))
	assert.Equal(t, "b", d.String(b))
}

func TestConcurrentInsertSameString(t *testing.T) {
	d := New()
	const workers = 64
	var wg sync.WaitGroup
	ids := make([]uint32, workers)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			ids[i] = d.GetOrInsert("shared")
		}(i)
	}
	wg.Wait()
	for i := 1; i < workers; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, d.Len())
}

func TestFrozenSnapshotIsStable(t *testing.T) {
	d := New()
	d.GetOrInsert("x")
	d.GetOrInsert("y")
	frozen := d.Frozen()
	d.GetOrInsert("z")

	assert.Equal(t, 2, frozen.Len())
	assert.Equal(t, "x", frozen.String(0))
	assert.Equal(t, "y", frozen.String(1))
	assert.Equal(t, "", frozen.String(2))
}
