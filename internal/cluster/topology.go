package cluster

import "fmt"

// NodeTier identifies a node's position in the aggregation hierarchy.
// A flat deployment has every node at TierCoordinator for its own
// queries and TierLeaf from every other node's point of view; a larger
// deployment can nest TierAggregator nodes between leaves and the
// top-level coordinator to avoid a single coordinator fanning out to
// hundreds of leaves directly.
type NodeTier uint8

const (
	TierLeaf NodeTier = iota
	TierAggregator
	TierCoordinator
)

func (t NodeTier) String() string {
	switch t {
	case TierLeaf:
		return "leaf"
	case TierAggregator:
		return "aggregator"
	case TierCoordinator:
		return "coordinator"
	default:
		return "unknown"
	}
}

// TopologyNode describes one node in the cluster as seen from the local
// node's Topology.
type TopologyNode struct {
	ID       string
	Addr     string
	Tier     NodeTier
	Parent   string // empty for the coordinator
	Children []string
}

// Topology records this node's position in the cluster: its own tier,
// its parent (if any), and its direct children. A node's "peers" in the
// flat case are modeled as its children, which is what lets the existing
// HTTP fan-out in Aggregator.Query compose into a multi-tier hierarchy
// without any wire-protocol change: a configured peer address can itself
// be another streamshard node running its own Aggregator over its own
// peers, so querying it recurses one level deeper for free. The local
// node only ever needs to know its immediate children.
type Topology struct {
	LocalNodeID string
	LocalTier   NodeTier

	nodes    map[string]TopologyNode
	parent   *TopologyNode
	children []TopologyNode
}

// NewTopology builds a Topology from an explicit parent/children set.
func NewTopology(localNodeID string, localTier NodeTier, parent *TopologyNode, children []TopologyNode) *Topology {
	nodes := make(map[string]TopologyNode, len(children)+2)

	self := TopologyNode{ID: localNodeID, Tier: localTier, Children: childIDs(children)}
	if parent != nil {
		self.Parent = parent.ID
	}
	nodes[localNodeID] = self

	if parent != nil {
		nodes[parent.ID] = *parent
	}
	for _, c := range children {
		nodes[c.ID] = c
	}

	return &Topology{
		LocalNodeID: localNodeID,
		LocalTier:   localTier,
		nodes:       nodes,
		parent:      parent,
		children:    children,
	}
}

func childIDs(children []TopologyNode) []string {
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.ID
	}
	return ids
}

// SingleNodeTopology builds the degenerate one-node cluster: this node is
// its own coordinator with no peers.
func SingleNodeTopology(nodeID string) *Topology {
	return NewTopology(nodeID, TierCoordinator, nil, nil)
}

// FlatTopology builds a single-tier topology: if isCoordinator, every
// peer address is modeled as a leaf child of this node; otherwise this
// node is itself a leaf with no visibility into other peers. This is the
// "symmetric mode" shape: whichever node receives a query becomes that
// query's coordinator, querying every peer it was configured with.
func FlatTopology(localID string, peerAddrs []string, isCoordinator bool) *Topology {
	tier := TierLeaf
	if isCoordinator {
		tier = TierCoordinator
	}

	var children []TopologyNode
	if isCoordinator {
		children = make([]TopologyNode, len(peerAddrs))
		for i, addr := range peerAddrs {
			children[i] = TopologyNode{
				ID:     fmt.Sprintf("peer-%d", i),
				Addr:   addr,
				Tier:   TierLeaf,
				Parent: localID,
			}
		}
	}

	return NewTopology(localID, tier, nil, children)
}

func (t *Topology) Tier() NodeTier        { return t.LocalTier }
func (t *Topology) IsCoordinator() bool   { return t.LocalTier == TierCoordinator }
func (t *Topology) IsLeaf() bool          { return t.LocalTier == TierLeaf }
func (t *Topology) Parent() *TopologyNode { return t.parent }
func (t *Topology) Children() []TopologyNode {
	return t.children
}

// ChildAddrs returns every direct child's address, in configuration order.
func (t *Topology) ChildAddrs() []string {
	addrs := make([]string, len(t.children))
	for i, c := range t.children {
		addrs[i] = c.Addr
	}
	return addrs
}

// Node looks up a node (self, parent, or a direct child) by ID.
func (t *Topology) Node(id string) (TopologyNode, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// NodeCount returns the number of nodes this Topology has visibility
// into: itself plus its parent and children.
func (t *Topology) NodeCount() int {
	return len(t.nodes)
}
