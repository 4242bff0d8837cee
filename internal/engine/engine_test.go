package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamshard/internal/shard"
	"streamshard/internal/table"
	"streamshard/internal/value"
)

func TestInsertAutoCreatesTable(t *testing.T) {
	e := New(1 << 30)
	err := e.Insert("events", shard.Row{"timestamp": value.Timestamp(1)})
	require.NoError(t, err)

	tb, err := e.Table("events")
	require.NoError(t, err)
	assert.Equal(t, 1, tb.Stats().RowCount)
}

func TestCreateTableRejectsDuplicate(t *testing.T) {
	e := New(1 << 30)
	require.NoError(t, e.CreateTable(table.DefaultConfig("events")))
	err := e.CreateTable(table.DefaultConfig("events"))
	assert.ErrorIs(t, err, ErrTableExists)
}

func TestDropTableNotFound(t *testing.T) {
	e := New(1 << 30)
	err := e.DropTable("missing")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestInsertBatchCountsSuccessesAndLogsFailures(t *testing.T) {
	e := New(1 << 30)
	rows := []shard.Row{
		{"timestamp": value.Timestamp(1)},
		{"no_timestamp": value.Int64(1)},
		{"timestamp": value.Timestamp(2)},
	}
	inserted := e.InsertBatch("events", rows)
	assert.Equal(t, 2, inserted)
}

func TestExpireOldDataDropsAcrossTables(t *testing.T) {
	e := New(1 << 30)
	cfg := table.DefaultConfig("events").WithShardDuration(1000).WithTTL(500)
	require.NoError(t, e.CreateTable(cfg))
	require.NoError(t, e.Insert("events", shard.Row{"timestamp": value.Timestamp(100)}))

	dropped := e.ExpireOldData(10_000)
	assert.Equal(t, 1, dropped)
}

func TestMemoryStatsReflectsInserts(t *testing.T) {
	e := New(1 << 30)
	require.NoError(t, e.Insert("events", shard.Row{"timestamp": value.Timestamp(1), "msg": value.String("hello")}))
	stats := e.MemoryStats()
	assert.Positive(t, stats.UsedBytes)
	assert.False(t, stats.Pressure)
}
