package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamshard/internal/exec"
	"streamshard/internal/value"
)

func sampleResult() *exec.Result {
	return &exec.Result{
		Columns: []string{"host"},
		Rows:    [][]value.Value{{value.String("web-1")}},
	}
}

func TestNormalizeCollapsesWhitespaceAndExtractsTable(t *testing.T) {
	key, table := Normalize("  SELECT   host FROM   Metrics   WHERE cpu > 1  ")
	assert.Equal(t, "select host from metrics where cpu > 1", key)
	assert.Equal(t, "metrics", table)
}

func TestPutThenGetHits(t *testing.T) {
	c := New(10, time.Minute)
	sql := "SELECT host FROM metrics"
	_, ok := c.Get(sql)
	assert.False(t, ok)

	c.Put(sql, sampleResult())
	res, ok := c.Get(sql)
	require.True(t, ok)
	assert.Equal(t, []string{"host"}, res.Columns)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.EntryCount)
}

func TestInvalidateTableDropsOnlyThatTablesEntries(t *testing.T) {
	c := New(10, time.Minute)
	c.Put("SELECT host FROM metrics", sampleResult())
	c.Put("SELECT host FROM events", sampleResult())

	n := c.InvalidateTable("metrics")
	assert.Equal(t, 1, n)

	_, ok := c.Get("SELECT host FROM metrics")
	assert.False(t, ok)
	_, ok = c.Get("SELECT host FROM events")
	assert.True(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := New(10, 10*time.Millisecond)
	c.Put("SELECT host FROM metrics", sampleResult())
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("SELECT host FROM metrics")
	assert.False(t, ok)
}

func TestConcurrentGetPut(t *testing.T) {
	c := New(100, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put("SELECT host FROM metrics", sampleResult())
			c.Get("SELECT host FROM metrics")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, c.Stats().EntryCount)
}
