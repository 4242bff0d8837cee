package cluster

import (
	"sync"
	"sync/atomic"
	"time"
)

// NodeStats is one node's self-reported load, used by IngestLoadBalancer
// to route new inserts away from hot nodes.
type NodeStats struct {
	MemoryBytes   int64
	MemoryLimit   int64
	ActiveIngests int
	LastUpdated   time.Time
}

// MemoryPressure is memory_bytes/memory_limit in [0, 1]; a zero limit
// (stats never reported) reads as no pressure.
func (s NodeStats) MemoryPressure() float64 {
	if s.MemoryLimit == 0 {
		return 0
	}
	return float64(s.MemoryBytes) / float64(s.MemoryLimit)
}

// LoadScore combines memory pressure and in-flight ingest count; lower
// is better. The 0.1-per-ingest weight favors memory pressure as the
// dominant signal while still breaking ties between equally-pressured
// nodes toward whichever has fewer concurrent writers.
func (s NodeStats) LoadScore() float64 {
	return s.MemoryPressure() + float64(s.ActiveIngests)*0.1
}

const defaultStatsRefreshInterval = 5 * time.Second

// unknownNodeScore is the load score assigned to a node this balancer
// has never received stats for — moderate, so an unreported node is
// preferred over a node known to be under pressure but not starved out
// entirely in favor of nodes that happen to have reported low load.
const unknownNodeScore = 0.5

// IngestLoadBalancer picks the least-loaded node among a fixed set of
// candidates for a new insert, falling back to round-robin when no
// stats have been reported yet for any of them.
type IngestLoadBalancer struct {
	mu    sync.RWMutex
	stats map[string]NodeStats

	nextNode atomic.Uint64
	nodes    []string

	refreshInterval time.Duration
}

// NewIngestLoadBalancer builds a balancer over a fixed candidate set.
func NewIngestLoadBalancer(nodes []string) *IngestLoadBalancer {
	return &IngestLoadBalancer{
		stats:           make(map[string]NodeStats),
		nodes:           nodes,
		refreshInterval: defaultStatsRefreshInterval,
	}
}

// WithRefreshInterval overrides the default stats staleness window.
func (lb *IngestLoadBalancer) WithRefreshInterval(interval time.Duration) *IngestLoadBalancer {
	lb.refreshInterval = interval
	return lb
}

// SelectNode returns the candidate with the lowest load score. With no
// stats reported for any candidate, every candidate scores the same
// unknownNodeScore, so selection falls back to round-robin across them.
func (lb *IngestLoadBalancer) SelectNode() (string, bool) {
	if len(lb.nodes) == 0 {
		return "", false
	}

	lb.mu.RLock()
	bestAddr := ""
	bestScore := 0.0
	haveStats := false
	for _, addr := range lb.nodes {
		score := unknownNodeScore
		if s, ok := lb.stats[addr]; ok {
			score = s.LoadScore()
			haveStats = true
		}
		if bestAddr == "" || score < bestScore {
			bestAddr, bestScore = addr, score
		}
	}
	lb.mu.RUnlock()

	if !haveStats {
		idx := int(lb.nextNode.Add(1)-1) % len(lb.nodes)
		return lb.nodes[idx], true
	}
	return bestAddr, true
}

// SelectNodeBelowPressure returns the least-loaded candidate whose
// memory pressure is below threshold, falling back to SelectNode if
// every candidate is at or above it.
func (lb *IngestLoadBalancer) SelectNodeBelowPressure(threshold float64) (string, bool) {
	if len(lb.nodes) == 0 {
		return "", false
	}

	lb.mu.RLock()
	bestAddr := ""
	bestScore := 0.0
	for _, addr := range lb.nodes {
		s, ok := lb.stats[addr]
		if ok && s.MemoryPressure() >= threshold {
			continue
		}
		score := unknownNodeScore
		if ok {
			score = s.LoadScore()
		}
		if bestAddr == "" || score < bestScore {
			bestAddr, bestScore = addr, score
		}
	}
	lb.mu.RUnlock()

	if bestAddr == "" {
		return lb.SelectNode()
	}
	return bestAddr, true
}

// UpdateStats records addr's latest self-reported load.
func (lb *IngestLoadBalancer) UpdateStats(addr string, stats NodeStats) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.stats[addr] = stats
}

// IngestStart increments addr's in-flight ingest count, if known.
func (lb *IngestLoadBalancer) IngestStart(addr string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if s, ok := lb.stats[addr]; ok {
		s.ActiveIngests++
		lb.stats[addr] = s
	}
}

// IngestComplete decrements addr's in-flight ingest count, if known,
// never going below zero.
func (lb *IngestLoadBalancer) IngestComplete(addr string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if s, ok := lb.stats[addr]; ok && s.ActiveIngests > 0 {
		s.ActiveIngests--
		lb.stats[addr] = s
	}
}

// AllStats returns a snapshot of every node this balancer has stats for.
func (lb *IngestLoadBalancer) AllStats() map[string]NodeStats {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	out := make(map[string]NodeStats, len(lb.stats))
	for k, v := range lb.stats {
		out[k] = v
	}
	return out
}

// NeedsRefresh reports whether addr's stats are missing or older than
// the refresh interval.
func (lb *IngestLoadBalancer) NeedsRefresh(addr string) bool {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	s, ok := lb.stats[addr]
	if !ok || s.LastUpdated.IsZero() {
		return true
	}
	return time.Since(s.LastUpdated) > lb.refreshInterval
}
