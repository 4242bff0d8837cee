package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectNodeRoundRobinWithoutStats(t *testing.T) {
	lb := NewIngestLoadBalancer([]string{"node1:8080", "node2:8080", "node3:8080"})

	nodes := make([]string, 6)
	for i := range nodes {
		addr, ok := lb.SelectNode()
		assert.True(t, ok)
		nodes[i] = addr
	}

	assert.Equal(t, nodes[0], nodes[3])
	assert.Equal(t, nodes[1], nodes[4])
	assert.Equal(t, nodes[2], nodes[5])
}

func TestSelectNodeLeastLoaded(t *testing.T) {
	lb := NewIngestLoadBalancer([]string{"node1:8080", "node2:8080", "node3:8080"})

	lb.UpdateStats("node1:8080", NodeStats{MemoryBytes: 800_000_000, MemoryLimit: 1_000_000_000})
	lb.UpdateStats("node2:8080", NodeStats{MemoryBytes: 200_000_000, MemoryLimit: 1_000_000_000})
	lb.UpdateStats("node3:8080", NodeStats{MemoryBytes: 500_000_000, MemoryLimit: 1_000_000_000})

	addr, ok := lb.SelectNode()
	assert.True(t, ok)
	assert.Equal(t, "node2:8080", addr)
}

func TestSelectNodeBelowPressure(t *testing.T) {
	lb := NewIngestLoadBalancer([]string{"node1:8080", "node2:8080"})

	lb.UpdateStats("node1:8080", NodeStats{MemoryBytes: 900_000_000, MemoryLimit: 1_000_000_000})
	lb.UpdateStats("node2:8080", NodeStats{MemoryBytes: 500_000_000, MemoryLimit: 1_000_000_000})

	addr, ok := lb.SelectNodeBelowPressure(0.8)
	assert.True(t, ok)
	assert.Equal(t, "node2:8080", addr)
}

func TestMemoryPressure(t *testing.T) {
	stats := NodeStats{MemoryBytes: 500_000_000, MemoryLimit: 1_000_000_000}
	assert.InDelta(t, 0.5, stats.MemoryPressure(), 0.001)
}

func TestIngestStartCompleteAdjustsLoadScore(t *testing.T) {
	lb := NewIngestLoadBalancer([]string{"node1:8080"})
	lb.UpdateStats("node1:8080", NodeStats{MemoryBytes: 100, MemoryLimit: 1000})

	lb.IngestStart("node1:8080")
	lb.IngestStart("node1:8080")
	stats := lb.AllStats()["node1:8080"]
	assert.Equal(t, 2, stats.ActiveIngests)

	lb.IngestComplete("node1:8080")
	stats = lb.AllStats()["node1:8080"]
	assert.Equal(t, 1, stats.ActiveIngests)
}

func TestNeedsRefreshWithNoStats(t *testing.T) {
	lb := NewIngestLoadBalancer([]string{"node1:8080"})
	assert.True(t, lb.NeedsRefresh("node1:8080"))
}

func TestSelectNodeEmptyCandidates(t *testing.T) {
	lb := NewIngestLoadBalancer(nil)
	_, ok := lb.SelectNode()
	assert.False(t, ok)
}
