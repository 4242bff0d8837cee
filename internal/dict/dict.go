// Package dict implements the concurrent string interner shared by every
// String column in a shard. Multiple columns reference the same Dictionary
// so a repeated string value is stored once regardless of how many columns
// carry it.
package dict

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Dictionary maps strings to dense, monotonically assigned ids and back.
// The forward direction is a lock-free concurrent map (xsync.Map, the same
// family of structure the wider corpus reaches for when a sync.Map-shaped
// concurrent map needs to scale past the stdlib's CAS contention); the
// reverse (id -> string) direction is append-only under a mutex so readers
// never observe a partially-written slot.
type Dictionary struct {
	forward *xsync.MapOf[string, uint32]

	mu      sync.RWMutex
	reverse []string
}

// New creates an empty, writable Dictionary.
func New() *Dictionary {
	return &Dictionary{
		forward: xsync.NewMapOf[string, uint32](),
	}
}

// GetOrInsert returns the id for s, assigning a new dense id if s has not
// been seen before. Idempotent: GetOrInsert(s) == GetOrInsert(s).
func (d *Dictionary) GetOrInsert(s string) uint32 {
	if id, ok := d.forward.Load(s); ok {
		return id
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	// Re-check under the write lock: another goroutine may have inserted s
	// between the lock-free Load above and acquiring mu.
	if id, ok := d.forward.Load(s); ok {
		return id
	}
	id := uint32(len(d.reverse))
	d.reverse = append(d.reverse, s)
	d.forward.Store(s, id)
	return id
}

// Lookup returns the id for s if it has already been interned.
func (d *Dictionary) Lookup(s string) (uint32, bool) {
	return d.forward.Load(s)
}

// String returns the string for id. Panics if id was never assigned — the
// invariant is that any id a column holds was produced by this same
// dictionary, so an out-of-range id indicates caller misuse, not bad data.
func (d *Dictionary) String(id uint32) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reverse[id]
}

// Len returns the number of distinct strings interned so far.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.reverse)
}

// MemoryUsage estimates bytes retained by the dictionary: the reverse vector
// plus the length of every interned string, counted once regardless of how
// many columns share this dictionary.
func (d *Dictionary) MemoryUsage() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := int64(len(d.reverse)) * 16 // slice header + id overhead per entry
	for _, s := range d.reverse {
		total += int64(len(s))
	}
	return total
}

// Frozen returns an immutable snapshot safe for zero-copy, lock-free reads.
// Intended for use right after a shard seals: no further writes are
// expected, so the snapshot never needs to re-check the mutex.
func (d *Dictionary) Frozen() *Frozen {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := make([]string, len(d.reverse))
	copy(snap, d.reverse)
	return &Frozen{reverse: snap}
}

// Frozen is a read-only, immutable dictionary snapshot.
type Frozen struct {
	reverse []string
}

// String returns the string for id, or "" if out of range.
func (f *Frozen) String(id uint32) string {
	if int(id) >= len(f.reverse) {
		return ""
	}
	return f.reverse[id]
}

// Len returns the number of strings captured in the snapshot.
func (f *Frozen) Len() int { return len(f.reverse) }
