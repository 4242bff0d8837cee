// Package table implements the ordered set of shards backing one named
// stream: bucket-based shard creation keyed by row timestamp, range
// lookups over the sorted shard list, and the TTL/subsampling sweeps that
// age data out.
package table

import (
	"sort"
	"sync"

	"streamshard/internal/shard"
	"streamshard/internal/value"
)

// Config holds the per-table tunables. Builders apply With* methods that
// return a new Config rather than mutating in place.
type Config struct {
	Name              string
	ShardDurationMs   int64
	TTLMs             int64
	MaxMemoryBytes    int64
	SubsampleThreshMs int64
	SubsampleRatio    float64
}

// DefaultConfig returns the engine's defaults for a table created on
// first insert without an explicit configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		ShardDurationMs:   60_000,
		TTLMs:             24 * 60 * 60 * 1000,
		MaxMemoryBytes:    256 << 20,
		SubsampleThreshMs: 6 * 60 * 60 * 1000,
		SubsampleRatio:    0.1,
	}
}

func (c Config) WithShardDuration(ms int64) Config   { c.ShardDurationMs = ms; return c }
func (c Config) WithTTL(ms int64) Config             { c.TTLMs = ms; return c }
func (c Config) WithMaxMemory(bytes int64) Config    { c.MaxMemoryBytes = bytes; return c }
func (c Config) WithSubsampleThreshold(ms int64) Config {
	c.SubsampleThreshMs = ms
	return c
}
func (c Config) WithSubsampleRatio(r float64) Config { c.SubsampleRatio = r; return c }

// Table owns a sorted slice of shards and the merged schema across all of
// them.
type Table struct {
	Config Config

	mu     sync.RWMutex
	shards []*shard.Shard
	schema map[string]value.DataType
}

// New creates an empty table.
func New(cfg Config) *Table {
	return &Table{Config: cfg, schema: make(map[string]value.DataType)}
}

// bucketBounds computes the half-open [start, end) shard interval a
// timestamp belongs to: start = floor(ts/duration)*duration.
func (t *Table) bucketBounds(ts int64) (int64, int64) {
	d := t.Config.ShardDurationMs
	start := (ts / d) * d
	if ts < 0 && ts%d != 0 {
		start -= d // floor division for negative timestamps
	}
	return start, start + d
}

// InsertRow routes row into the shard for its bucket, creating the shard
// on demand. Shard creation is idempotent under concurrent inserts via
// double-checked locking: at most one shard is ever created per bucket.
func (t *Table) InsertRow(row shard.Row) error {
	ts, ok := row[shard.TimestampField]
	if !ok || ts.IsNull() {
		return shard.ErrMissingTimestamp
	}
	tsMs, ok := numericMillis(ts)
	if !ok {
		return shard.ErrMissingTimestamp
	}
	start, end := t.bucketBounds(tsMs)

	s := t.findOrCreateShard(start, end)

	if err := s.InsertRow(row); err != nil {
		return err
	}

	t.mu.Lock()
	for name, v := range row {
		t.schema[name] = value.MergeType(t.schema[name], value.TypeOf(v))
	}
	t.mu.Unlock()
	return nil
}

func numericMillis(v value.Value) (int64, bool) {
	switch v.Kind() {
	case value.KindTimestamp, value.KindInt64:
		return v.AsInt64(), true
	case value.KindFloat64:
		return int64(v.AsFloat64()), true
	default:
		return 0, false
	}
}

func (t *Table) findOrCreateShard(start, end int64) *shard.Shard {
	t.mu.RLock()
	if s := t.findShardLocked(start); s != nil {
		t.mu.RUnlock()
		return s
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.findShardLocked(start); s != nil {
		return s
	}
	s := shard.New(start, end)
	t.shards = append(t.shards, s)
	sort.Slice(t.shards, func(i, j int) bool { return t.shards[i].Start < t.shards[j].Start })
	return s
}

// findShardLocked requires the caller to hold t.mu (read or write).
func (t *Table) findShardLocked(start int64) *shard.Shard {
	i := sort.Search(len(t.shards), func(i int) bool { return t.shards[i].Start >= start })
	if i < len(t.shards) && t.shards[i].Start == start {
		return t.shards[i]
	}
	return nil
}

// GetShardsInRange returns every shard whose [start,end) interval overlaps
// [rangeStart, rangeEnd), located via the sorted shard slice in O(log N +
// k).
func (t *Table) GetShardsInRange(rangeStart, rangeEnd int64) []*shard.Shard {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i := sort.Search(len(t.shards), func(i int) bool { return t.shards[i].End > rangeStart })
	var out []*shard.Shard
	for ; i < len(t.shards); i++ {
		s := t.shards[i]
		if s.Start >= rangeEnd {
			break
		}
		if s.Overlaps(rangeStart, rangeEnd) {
			out = append(out, s)
		}
	}
	return out
}

// AllShards returns every shard, in start-time order.
func (t *Table) AllShards() []*shard.Shard {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*shard.Shard, len(t.shards))
	copy(out, t.shards)
	return out
}

// ExpireOldShards drops every shard whose end_time <= cutoff, releasing
// the memory it accounted for via freed. Returns the number of shards
// dropped.
func (t *Table) ExpireOldShards(cutoff int64, freed func(bytesUsed int64)) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.shards[:0:0]
	dropped := 0
	for _, s := range t.shards {
		if s.End <= cutoff {
			if freed != nil {
				freed(s.MemoryUsage())
			}
			dropped++
			continue
		}
		kept = append(kept, s)
	}
	t.shards = kept
	return dropped
}

// GetShardsForSubsampling returns every unsealed shard entirely older
// than threshold (end_time <= threshold). Subsampling is advisory only:
// the returned shards are candidates for a stats-only subsample pass, not
// rows to drop.
func (t *Table) GetShardsForSubsampling(threshold int64) []*shard.Shard {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*shard.Shard
	for _, s := range t.shards {
		if !s.IsSealed() && s.End <= threshold {
			out = append(out, s)
		}
	}
	return out
}

// Schema returns the table-level merged schema across every shard ever
// inserted into.
func (t *Table) Schema() map[string]value.DataType {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]value.DataType, len(t.schema))
	for k, v := range t.schema {
		out[k] = v
	}
	return out
}

// Stats summarizes a table for all_table_stats.
type Stats struct {
	Name        string
	ShardCount  int
	RowCount    int
	OldestStart int64
	NewestEnd   int64
	MemoryBytes int64
}

// Stats computes a read-only snapshot. OldestStart/NewestEnd use the
// first shard's start and the last shard's end, per the sorted list's tie-
// break policy.
func (t *Table) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Stats{Name: t.Config.Name, ShardCount: len(t.shards)}
	for i, sh := range t.shards {
		s.RowCount += sh.RowCount()
		s.MemoryBytes += sh.MemoryUsage()
		if i == 0 {
			s.OldestStart = sh.Start
		}
		if i == len(t.shards)-1 {
			s.NewestEnd = sh.End
		}
	}
	return s
}

// MemoryUsage sums every shard's footprint.
func (t *Table) MemoryUsage() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total int64
	for _, s := range t.shards {
		total += s.MemoryUsage()
	}
	return total
}
