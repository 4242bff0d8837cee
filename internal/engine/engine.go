// Package engine implements the StorageEngine: the single root that owns
// the table registry and the global memory tracker. It auto-creates
// tables on first insert, drives the TTL expiry sweep, and exposes
// read-only schema and stats views.
package engine

import (
	"errors"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"streamshard/internal/logging"
	"streamshard/internal/memtrack"
	"streamshard/internal/shard"
	"streamshard/internal/table"
	"streamshard/internal/value"
)

var (
	ErrTableExists   = errors.New("engine: table already exists")
	ErrTableNotFound = errors.New("engine: table not found")
)

// StorageEngine is the single root of all mutable state: no
// process-global singletons live inside this package, so multiple
// engines can coexist in one process (e.g. in tests).
type StorageEngine struct {
	tables        *xsync.MapOf[string, *table.Table]
	tracker       *memtrack.Tracker
	defaultConfig table.Config
	log           *zap.Logger
}

// Option configures a StorageEngine at construction time.
type Option func(*StorageEngine)

// WithLogger overrides the engine's structured logger (default: a no-op
// logger, so embedders that don't call this get silent operation).
func WithLogger(l *zap.Logger) Option {
	return func(e *StorageEngine) { e.log = logging.Component(l, "engine") }
}

// WithDefaultTableConfig overrides the config applied to tables that get
// auto-created on first insert.
func WithDefaultTableConfig(cfg table.Config) Option {
	return func(e *StorageEngine) { e.defaultConfig = cfg }
}

// New creates a StorageEngine with the given memory cap in bytes.
func New(memCapBytes int64, opts ...Option) *StorageEngine {
	e := &StorageEngine{
		tables:        xsync.NewMapOf[string, *table.Table](),
		tracker:       memtrack.New(memCapBytes, 0.8),
		defaultConfig: table.DefaultConfig(""),
		log:           logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateTable registers a new table with an explicit configuration.
// Returns ErrTableExists if a table with this name is already registered.
func (e *StorageEngine) CreateTable(cfg table.Config) error {
	t := table.New(cfg)
	_, loaded := e.tables.LoadOrStore(cfg.Name, t)
	if loaded {
		return ErrTableExists
	}
	return nil
}

// DropTable removes a table from the registry, releasing its memory from
// the tracker. Returns ErrTableNotFound if no such table is registered.
func (e *StorageEngine) DropTable(name string) error {
	t, loaded := e.tables.LoadAndDelete(name)
	if !loaded {
		return ErrTableNotFound
	}
	e.tracker.Release(t.MemoryUsage())
	return nil
}

func (e *StorageEngine) tableOrCreate(name string) *table.Table {
	cfg := e.defaultConfig
	cfg.Name = name
	t := table.New(cfg)
	actual, _ := e.tables.LoadOrStore(name, t)
	return actual
}

// Insert routes row into table, auto-creating the table with engine
// defaults if it doesn't exist yet.
func (e *StorageEngine) Insert(tableName string, row shard.Row) error {
	t := e.tableOrCreate(tableName)
	sizeBefore := approxRowSize(row)
	if err := t.InsertRow(row); err != nil {
		e.log.Warn("row rejected", zap.String("table", tableName), zap.Error(err))
		return err
	}
	e.tracker.TryAllocate(sizeBefore)
	return nil
}

// InsertBatch inserts every row into table, auto-creating it if needed.
// Individual row errors are logged and counted but never abort the
// batch; InsertBatch returns the count that succeeded.
func (e *StorageEngine) InsertBatch(tableName string, rows []shard.Row) int {
	t := e.tableOrCreate(tableName)
	inserted := 0
	var totalSize int64
	for _, row := range rows {
		if err := t.InsertRow(row); err != nil {
			e.log.Warn("row rejected in batch", zap.String("table", tableName), zap.Error(err))
			continue
		}
		inserted++
		totalSize += approxRowSize(row)
	}
	e.tracker.TryAllocate(totalSize)
	return inserted
}

// approxRowSize computes a quick per-row size estimate from the row's own
// field values, used for fast accounting between SyncMemory
// reconciliations.
func approxRowSize(row shard.Row) int64 {
	var total int64
	for _, v := range row {
		switch v.Kind() {
		case value.KindBool:
			total += 1
		case value.KindInt64, value.KindFloat64, value.KindTimestamp:
			total += 8
		case value.KindString:
			total += int64(len(v.AsString()))
		}
	}
	return total
}

// ExpireOldData sweeps every table, dropping shards whose end_time <= now
// - ttl_ms, then reconciles the memory tracker against ground truth.
// Returns the total number of shards dropped.
func (e *StorageEngine) ExpireOldData(now int64) int {
	total := 0
	e.tables.Range(func(name string, t *table.Table) bool {
		cutoff := now - t.Config.TTLMs
		dropped := t.ExpireOldShards(cutoff, func(freedBytes int64) {
			e.tracker.Release(freedBytes)
		})
		if dropped > 0 {
			e.log.Info("expired shards", zap.String("table", name), zap.Int("dropped", dropped))
		}
		total += dropped
		return true
	})
	e.syncMemory()
	return total
}

// syncMemory recomputes the tracker's accounted total from the actual,
// summed memory usage of every live table, correcting drift from the
// quick per-row estimates used at insert time.
func (e *StorageEngine) syncMemory() {
	var actual int64
	e.tables.Range(func(_ string, t *table.Table) bool {
		actual += t.MemoryUsage()
		return true
	})
	e.tracker.SyncMemory(actual)
}

// TableSchema returns the merged schema for a single table.
func (e *StorageEngine) TableSchema(name string) (map[string]value.DataType, error) {
	t, ok := e.tables.Load(name)
	if !ok {
		return nil, ErrTableNotFound
	}
	return t.Schema(), nil
}

// Table returns the underlying table.Table for query execution. Returns
// ErrTableNotFound if no such table is registered.
func (e *StorageEngine) Table(name string) (*table.Table, error) {
	t, ok := e.tables.Load(name)
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

// AllTableStats returns a Stats snapshot for every registered table.
func (e *StorageEngine) AllTableStats() []table.Stats {
	var out []table.Stats
	e.tables.Range(func(_ string, t *table.Table) bool {
		out = append(out, t.Stats())
		return true
	})
	return out
}

// MemoryStats summarizes the engine's global memory tracker.
type MemoryStats struct {
	UsedBytes      int64
	CapBytes       int64
	HighWaterBytes int64
	Pressure       bool
}

func (e *StorageEngine) MemoryStats() MemoryStats {
	return MemoryStats{
		UsedBytes:      e.tracker.Used(),
		CapBytes:       e.tracker.Cap(),
		HighWaterBytes: e.tracker.HighWaterMark(),
		Pressure:       e.tracker.Pressure(),
	}
}
