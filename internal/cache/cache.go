// Package cache implements the normalized-SQL-keyed result cache: a
// capacity- and TTL-bounded LRU over github.com/hashicorp/golang-lru/v2's
// expirable sub-package, with table-targeted invalidation so a mutation
// against one table doesn't have to flush every cached query.
package cache

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"streamshard/internal/exec"
)

// entry is what's stored per normalized SQL key.
type entry struct {
	result *exec.Result
	table  string
}

// Cache is a thread-safe, TTL+capacity bounded cache from normalized SQL
// text to its last computed Result.
type Cache struct {
	lru *expirable.LRU[string, entry]
	ttl time.Duration

	mu      sync.Mutex // guards byTable
	byTable map[string]map[string]struct{}

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache holding at most capacity entries, each valid for
// ttl since insertion.
func New(capacity int, ttl time.Duration) *Cache {
	c := &Cache{
		ttl:     ttl,
		byTable: make(map[string]map[string]struct{}),
	}
	c.lru = expirable.NewLRU[string, entry](capacity, c.onEvict, ttl)
	return c
}

func (c *Cache) onEvict(key string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if keys, ok := c.byTable[e.table]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byTable, e.table)
		}
	}
}

// Get looks up the result for sql, returning (result, true) on a cache
// hit and incrementing the relevant hit/miss counter.
func (c *Cache) Get(sql string) (*exec.Result, bool) {
	key, _ := Normalize(sql)
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.result, true
}

// Put stores result under sql's normalized key, tagged with its source
// table for InvalidateTable.
func (c *Cache) Put(sql string, result *exec.Result) {
	key, table := Normalize(sql)
	c.mu.Lock()
	keys, ok := c.byTable[table]
	if !ok {
		keys = make(map[string]struct{})
		c.byTable[table] = keys
	}
	keys[key] = struct{}{}
	c.mu.Unlock()

	c.lru.Add(key, entry{result: result, table: table})
}

// InvalidateTable drops every cached entry whose query read from table.
// This is the deliberately coarse "any mutation invalidates every query
// against that table" policy: correctness over cache-hit-rate.
func (c *Cache) InvalidateTable(table string) int {
	c.mu.Lock()
	keys := c.byTable[table]
	delete(c.byTable, table)
	c.mu.Unlock()

	n := 0
	for key := range keys {
		if c.lru.Remove(key) {
			n++
		}
	}
	return n
}

// Stats summarizes cache effectiveness and current occupancy.
type Stats struct {
	Hits       int64
	Misses     int64
	HitRate    float64
	EntryCount int
	TTLSeconds float64
}

func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:       hits,
		Misses:     misses,
		HitRate:    rate,
		EntryCount: c.lru.Len(),
		TTLSeconds: c.ttl.Seconds(),
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// fromTableRe pulls out the table name following the first top-level
// FROM keyword, for cache-key table tagging; it does not need to be a
// full parse since sqlquery.Parse already validated the SQL before it
// reached the cache.
var fromTableRe = regexp.MustCompile(`(?i)\bfrom\s+([a-zA-Z_][a-zA-Z0-9_]*)`)

// Normalize collapses whitespace and lowercases sql for use as a cache
// key, and extracts the queried table name for invalidation tagging.
func Normalize(sql string) (key string, table string) {
	trimmed := strings.ToLower(strings.TrimSpace(sql))
	key = whitespaceRun.ReplaceAllString(trimmed, " ")
	if m := fromTableRe.FindStringSubmatch(key); m != nil {
		table = m[1]
	}
	return key, table
}
