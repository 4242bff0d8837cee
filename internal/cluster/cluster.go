// Package cluster implements the distributed query fan-out: the same
// SQL is issued to every peer and executed locally at the same time,
// partial results merge by aggregate-column prefix or by concatenation,
// and the final result carries availability metadata describing how
// many peers actually answered.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"streamshard/internal/engine"
	"streamshard/internal/exec"
	"streamshard/internal/queryplan"
	"streamshard/internal/shard"
	"streamshard/internal/sqlquery"
	"streamshard/internal/value"
)

// ErrNoHealthyNodes wraps a failed local execution: the coordinating
// node is itself one of the cluster's nodes, so its own failure means no
// node answered this query, even if every peer would have succeeded.
var ErrNoHealthyNodes = errors.New("cluster: no healthy nodes responded")

func wrapLocalFailure(err error) error {
	return fmt.Errorf("%w: local execution failed: %v", ErrNoHealthyNodes, err)
}

const defaultPeerTimeout = 30 * time.Second

var aggPrefixes = []string{"count_", "sum_", "avg_", "min_", "max_"}

// Availability describes how many of the queried peers answered.
type Availability struct {
	Percent   float64 `json:"percent"`
	Queried   int     `json:"queried"`
	Responded int     `json:"responded"`
	Complete  bool    `json:"complete"`
}

// Result is the distributed-query result: a plain exec.Result plus
// availability metadata. Availability is nil for single-node queries.
type Result struct {
	Columns      []string
	Rows         [][]value.Value
	Availability *Availability
}

// Aggregator runs a query against the local engine and, in distributed
// mode, fans the same SQL out to every configured peer.
type Aggregator struct {
	local        *engine.StorageEngine
	peers        []string
	client       *resty.Client
	logger       *zap.Logger
	nodeID       string
	topology     *Topology
	loadBalancer *IngestLoadBalancer
}

// Option configures an Aggregator at construction time.
type Option func(*Aggregator)

// WithNodeID sets this node's ID as it appears in its own Topology.
// Unset, the node is simply called "local".
func WithNodeID(id string) Option {
	return func(a *Aggregator) { a.nodeID = id }
}

// New builds an Aggregator bound to local. With no peers, Query always
// runs in single-node mode. Every configured peer is also registered
// with the Aggregator's Topology (as a leaf child of this node) and its
// IngestLoadBalancer (as an ingest-routing candidate).
func New(local *engine.StorageEngine, peers []string, logger *zap.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		local:        local,
		peers:        peers,
		client:       resty.New().SetTimeout(defaultPeerTimeout),
		logger:       logger,
		nodeID:       "local",
		loadBalancer: NewIngestLoadBalancer(peers),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.topology = FlatTopology(a.nodeID, peers, true)
	return a
}

// Topology returns this Aggregator's view of the cluster: its own tier
// plus its direct children (configured peers).
func (a *Aggregator) Topology() *Topology { return a.topology }

// LoadBalancer returns the ingest load balancer tracking peer memory
// pressure, as opportunistically updated by every peer query response.
func (a *Aggregator) LoadBalancer() *IngestLoadBalancer { return a.loadBalancer }

// BestIngestTarget returns the address of the least-loaded peer to route
// a new insert to, or "" if this node should handle it locally — either
// because no peers are configured or because the local node itself has
// the lowest load score of any known candidate.
func (a *Aggregator) BestIngestTarget() string {
	if len(a.peers) == 0 {
		return ""
	}
	ms := a.local.MemoryStats()
	localScore := NodeStats{MemoryBytes: ms.UsedBytes, MemoryLimit: ms.CapBytes}.LoadScore()

	bestAddr := ""
	bestScore := localScore
	for addr, stats := range a.loadBalancer.AllStats() {
		if stats.LoadScore() < bestScore {
			bestAddr, bestScore = addr, stats.LoadScore()
		}
	}
	return bestAddr
}

// insertEnvelope is the request body POSTed to a peer's /insert endpoint.
type insertEnvelope struct {
	Table string               `json:"table"`
	Row   map[string]wireValue `json:"row"`
}

// RouteInsert inserts row into table on whichever node BestIngestTarget
// names, routing the write away from hot peers instead of always
// landing it on the local node. With no peers configured, or when the
// local node is itself the least loaded, the row is inserted locally.
func (a *Aggregator) RouteInsert(ctx context.Context, table string, row shard.Row) error {
	target := a.BestIngestTarget()
	if target == "" {
		return a.local.Insert(table, row)
	}

	a.loadBalancer.IngestStart(target)
	defer a.loadBalancer.IngestComplete(target)

	wireRow := make(map[string]wireValue, len(row))
	for k, v := range row {
		wireRow[k] = toWire(v)
	}
	r, err := a.client.R().
		SetContext(ctx).
		SetBody(insertEnvelope{Table: table, Row: wireRow}).
		Post(strings.TrimRight(target, "/") + "/insert")
	if err != nil {
		return err
	}
	if r.IsError() {
		return fmt.Errorf("cluster: peer insert failed: %s", r.Status())
	}
	return nil
}

// wireValue is the JSON-over-HTTP representation of one value.Value;
// the wire envelope can't carry Go's tagged union directly.
type wireValue struct {
	Kind string  `json:"kind"`
	Num  float64 `json:"num,omitempty"`
	Str  string  `json:"str,omitempty"`
	Bool bool    `json:"bool,omitempty"`
}

func toWire(v value.Value) wireValue {
	switch v.Kind() {
	case value.KindNull:
		return wireValue{Kind: "null"}
	case value.KindBool:
		return wireValue{Kind: "bool", Bool: v.AsBool()}
	case value.KindInt64:
		return wireValue{Kind: "int64", Num: float64(v.AsInt64())}
	case value.KindFloat64:
		return wireValue{Kind: "float64", Num: v.AsFloat64()}
	case value.KindString:
		return wireValue{Kind: "string", Str: v.AsString()}
	case value.KindTimestamp:
		return wireValue{Kind: "timestamp", Num: float64(v.AsInt64())}
	default:
		return wireValue{Kind: "null"}
	}
}

func fromWire(w wireValue) value.Value {
	switch w.Kind {
	case "bool":
		return value.Bool(w.Bool)
	case "int64":
		return value.Int64(int64(w.Num))
	case "float64":
		return value.Float64(w.Num)
	case "string":
		return value.String(w.Str)
	case "timestamp":
		return value.Timestamp(int64(w.Num))
	default:
		return value.Null
	}
}

// queryEnvelope is the request body POSTed to a peer's /query endpoint.
type queryEnvelope struct {
	SQL string `json:"sql"`
}

// queryResponse is the JSON body a peer returns from /query. MemoryBytes
// and MemoryLimitBytes are optional: a peer that reports them lets this
// node's IngestLoadBalancer route future inserts away from it without a
// dedicated stats RPC.
type queryResponse struct {
	Columns          []string      `json:"columns"`
	Rows             [][]wireValue `json:"rows"`
	RowsScanned      int64         `json:"rows_scanned"`
	ShardsScanned    int64         `json:"shards_scanned"`
	ExecutionMs      int64         `json:"execution_time_ms"`
	MemoryBytes      int64         `json:"memory_bytes,omitempty"`
	MemoryLimitBytes int64         `json:"memory_limit_bytes,omitempty"`
}

// Query runs sql locally and, if peers are configured, against every
// peer in parallel, then merges all successful results.
func (a *Aggregator) Query(ctx context.Context, sql string) (*Result, error) {
	q, err := sqlquery.Parse(sql)
	if err != nil {
		return nil, err
	}
	plan, err := queryplan.Build(q)
	if err != nil {
		return nil, err
	}

	if len(a.peers) == 0 {
		localRes, localErr := exec.Execute(ctx, a.local, plan)
		if localErr != nil {
			return nil, wrapLocalFailure(localErr)
		}
		return &Result{Columns: localRes.Columns, Rows: localRes.Rows}, nil
	}

	var localRes *exec.Result
	var localErr error
	partials := make([]*partialResult, len(a.peers))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		localRes, localErr = exec.Execute(ctx, a.local, plan)
		return nil
	})
	for i, peer := range a.peers {
		i, peer := i, peer
		g.Go(func() error {
			res, err := a.callPeer(gctx, peer, sql)
			if err != nil {
				a.logger.Warn("cluster: peer query failed", zap.String("peer", peer), zap.Error(err))
				return nil // logged, not propagated: partial failure is tolerated
			}
			partials[i] = res
			return nil
		})
	}
	_ = g.Wait() // the goroutines above always return nil; failures are logged or kept in localErr

	// If local execution fails, the overall query fails: the local node is
	// the coordinator answering this request and has no partial-failure
	// tolerance for its own scan.
	if localErr != nil {
		return nil, wrapLocalFailure(localErr)
	}

	responded := 1 // local always counts as responded here
	allColumns := localRes.Columns
	allRows := append([][]value.Value(nil), localRes.Rows...)
	for _, p := range partials {
		if p == nil {
			continue
		}
		responded++
		allRows = append(allRows, p.rows...)
	}

	queried := len(a.peers) + 1
	mergedColumns, mergedRows := mergeRows(allColumns, allRows)

	avail := &Availability{
		Queried:   queried,
		Responded: responded,
		Percent:   float64(responded) / float64(queried) * 100,
		Complete:  responded == queried,
	}
	return &Result{Columns: mergedColumns, Rows: mergedRows, Availability: avail}, nil
}

type partialResult struct {
	columns []string
	rows    [][]value.Value
}

func (a *Aggregator) callPeer(ctx context.Context, peer, sql string) (*partialResult, error) {
	var resp queryResponse
	r, err := a.client.R().
		SetContext(ctx).
		SetBody(queryEnvelope{SQL: sql}).
		SetResult(&resp).
		Post(strings.TrimRight(peer, "/") + "/query")
	if err != nil {
		return nil, err
	}
	if r.IsError() {
		return nil, errors.New("cluster: peer returned error status " + r.Status())
	}

	if resp.MemoryLimitBytes > 0 {
		a.loadBalancer.UpdateStats(peer, NodeStats{
			MemoryBytes: resp.MemoryBytes,
			MemoryLimit: resp.MemoryLimitBytes,
			LastUpdated: time.Now(),
		})
	}

	rows := make([][]value.Value, len(resp.Rows))
	for i, wr := range resp.Rows {
		row := make([]value.Value, len(wr))
		for j, wv := range wr {
			row[j] = fromWire(wv)
		}
		rows[i] = row
	}
	return &partialResult{columns: resp.Columns, rows: rows}, nil
}

// mergeRows implements the documented merge rule: if any column carries
// an aggregate prefix, build a group-key -> per-column accumulator map
// and merge; otherwise concatenate (already done by the caller, so this
// just detects which path applies).
func mergeRows(columns []string, rows [][]value.Value) ([]string, [][]value.Value) {
	aggCols := aggregateColumnIndices(columns)
	if len(aggCols) == 0 {
		return columns, rows
	}

	groupCols := make([]int, 0, len(columns))
	for i := range columns {
		if _, isAgg := aggCols[i]; !isAgg {
			groupCols = append(groupCols, i)
		}
	}

	type state struct {
		keyValues []value.Value
		slots     map[int]*aggSlot
	}
	groups := make(map[string]*state)
	var order []string

	for _, row := range rows {
		var keyParts []string
		keyVals := make([]value.Value, len(groupCols))
		for gi, ci := range groupCols {
			keyVals[gi] = row[ci]
			keyParts = append(keyParts, row[ci].String())
		}
		key := strings.Join(keyParts, "\x1f")

		st, ok := groups[key]
		if !ok {
			st = &state{keyValues: keyVals, slots: make(map[int]*aggSlot)}
			groups[key] = st
			order = append(order, key)
		}
		for ci := range aggCols {
			slot, ok := st.slots[ci]
			if !ok {
				slot = &aggSlot{prefix: aggCols[ci]}
				st.slots[ci] = slot
			}
			slot.accumulate(row[ci])
		}
	}

	sort.Strings(order)

	out := make([][]value.Value, 0, len(order))
	for _, key := range order {
		st := groups[key]
		row := make([]value.Value, len(columns))
		for gi, ci := range groupCols {
			row[ci] = st.keyValues[gi]
		}
		for ci, slot := range st.slots {
			row[ci] = slot.result()
		}
		out = append(out, row)
	}
	return columns, out
}

func aggregateColumnIndices(columns []string) map[int]string {
	out := make(map[int]string)
	for i, c := range columns {
		for _, p := range aggPrefixes {
			if strings.HasPrefix(c, p) {
				out[i] = p
				break
			}
		}
	}
	return out
}

// aggSlot merges one aggregate column's partial values across peers,
// per the prefix it carries. avg is intentionally merged as the average
// of partial averages rather than a weighted (sum, count) recombination
// — this is a documented, deliberately preserved limitation, not a bug
// to fix: a distributed avg here is the mean of each node's local mean,
// which skews toward nodes with fewer rows.
type aggSlot struct {
	prefix string
	n      int64
	sum    float64
	mn, mx value.Value
	valid  bool
}

func (s *aggSlot) accumulate(v value.Value) {
	s.n++
	if f, ok := v.Numeric(); ok {
		s.sum += f
	}
	switch s.prefix {
	case "min_":
		if !s.valid || value.Less(v, s.mn) {
			s.mn = v
			s.valid = true
		}
	case "max_":
		if !s.valid || value.Less(s.mx, v) {
			s.mx = v
			s.valid = true
		}
	}
}

func (s *aggSlot) result() value.Value {
	switch s.prefix {
	case "count_":
		return value.Int64(int64(s.sum))
	case "sum_":
		return value.Float64(s.sum)
	case "avg_":
		if s.n == 0 {
			return value.Null
		}
		return value.Float64(s.sum / float64(s.n))
	case "min_":
		if !s.valid {
			return value.Null
		}
		return s.mn
	case "max_":
		if !s.valid {
			return value.Null
		}
		return s.mx
	default:
		return value.Null
	}
}
