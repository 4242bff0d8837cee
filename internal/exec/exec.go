// Package exec runs a queryplan.Plan against a live
// engine.StorageEngine: it prunes shards by time range and bloom
// filter, scans or aggregates each surviving shard in parallel, merges
// the per-shard results, and applies ORDER BY/LIMIT.
package exec

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"streamshard/internal/accum"
	"streamshard/internal/bitmask"
	"streamshard/internal/engine"
	"streamshard/internal/queryplan"
	"streamshard/internal/shard"
	"streamshard/internal/sqlquery"
	"streamshard/internal/value"
)

// ErrTableNotFound is returned when the plan's table isn't registered.
var ErrTableNotFound = errors.New("exec: table not found")

// ErrColumnNotFound is returned when a projected column doesn't exist in
// the table's schema. Filtering on a missing column is not an error —
// it behaves as if every row fails that filter.
var ErrColumnNotFound = errors.New("exec: column not found in schema")

// Result is a columnar result set: Rows[i][j] is the value of
// Columns[j] for output row i.
type Result struct {
	Columns []string
	Rows    [][]value.Value
}

// Execute runs plan against the named table in eng.
func Execute(ctx context.Context, eng *engine.StorageEngine, plan *queryplan.Plan) (*Result, error) {
	tb, err := eng.Table(plan.Table)
	if err != nil {
		return nil, ErrTableNotFound
	}

	if err := checkProjectedColumnsExist(plan, tb.Schema()); err != nil {
		return nil, err
	}

	shards := tb.GetShardsInRange(plan.TimeRange.Start, plan.TimeRange.End)
	shards = pruneByBloom(shards, plan.Where)
	for _, s := range shards {
		s.Acquire()
	}
	defer func() {
		for _, s := range shards {
			s.Release()
		}
	}()

	var result *Result
	if plan.IsAggregate {
		result, err = executeAggregate(ctx, shards, plan)
	} else {
		result, err = executeScan(ctx, shards, plan)
	}
	if err != nil {
		return nil, err
	}

	applyOrderBy(result, plan.OrderBy)
	applyLimit(result, plan.Limit)
	return result, nil
}

func checkProjectedColumnsExist(plan *queryplan.Plan, schema map[string]value.DataType) error {
	for _, p := range plan.Projections {
		if p.Wildcard || p.Column == "" {
			continue
		}
		if _, ok := schema[p.Column]; !ok {
			return ErrColumnNotFound
		}
	}
	return nil
}

// pruneByBloom drops shards that cannot possibly satisfy an equality
// filter, using each shard's per-column bloom filter. Non-equality
// filters and unsealed shards (no bloom filter yet) are not prunable and
// leave the shard in the candidate set.
func pruneByBloom(shards []*shard.Shard, filters []sqlquery.Filter) []*shard.Shard {
	eqFilters := make([]sqlquery.Filter, 0, len(filters))
	for _, f := range filters {
		if f.Op == sqlquery.OpEq {
			eqFilters = append(eqFilters, f)
		}
	}
	if len(eqFilters) == 0 {
		return shards
	}
	out := make([]*shard.Shard, 0, len(shards))
	for _, s := range shards {
		survives := true
		for _, f := range eqFilters {
			bf, ok := s.Bloom(f.Column)
			if !ok {
				continue
			}
			if !bf.MayContain(f.Operand) {
				survives = false
				break
			}
		}
		if survives {
			out = append(out, s)
		}
	}
	return out
}

// buildMask computes the combined row mask for one shard: every filter
// becomes a per-row predicate over that shard's column, and the masks
// AND together.
func buildMask(s *shard.Shard, filters []sqlquery.Filter) *bitmask.Mask {
	n := uint(s.RowCount())
	if len(filters) == 0 {
		return bitmask.AllTrue(n)
	}
	masks := make([]*bitmask.Mask, 0, len(filters))
	for _, f := range filters {
		masks = append(masks, filterMask(s, n, f))
	}
	return bitmask.And(n, masks...)
}

func filterMask(s *shard.Shard, n uint, f sqlquery.Filter) *bitmask.Mask {
	col := s.Column(f.Column)
	m := bitmask.AllFalse(n)
	if col == nil {
		return m // filter on a column this shard never saw: no row survives
	}
	col.Iterate(func(i int, v value.Value) bool {
		if matchFilter(v, f) {
			m.Set(uint(i))
		}
		return true
	})
	return m
}

func matchFilter(v value.Value, f sqlquery.Filter) bool {
	if v.IsNull() {
		return false
	}
	switch f.Op {
	case sqlquery.OpEq:
		return value.Equal(v, f.Operand)
	case sqlquery.OpNe:
		return !value.Equal(v, f.Operand)
	case sqlquery.OpLt:
		return value.Less(v, f.Operand)
	case sqlquery.OpLe:
		return !value.Less(f.Operand, v)
	case sqlquery.OpGt:
		return value.Less(f.Operand, v)
	case sqlquery.OpGe:
		return !value.Less(v, f.Operand)
	case sqlquery.OpLike:
		return matchLike(v, f.Operand)
	default:
		return false
	}
}

func matchLike(v, pattern value.Value) bool {
	if v.Kind() != value.KindString || pattern.Kind() != value.KindString {
		return false
	}
	return likeMatch(v.AsString(), pattern.AsString())
}

// likeMatch implements SQL LIKE's '%' (any run) and '_' (single char)
// wildcards over plain strings.
func likeMatch(s, pattern string) bool {
	return likeMatchRunes([]rune(s), []rune(pattern))
}

func likeMatchRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		if likeMatchRunes(s, p[1:]) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if likeMatchRunes(s[i+1:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	}
}

// executeScan handles a plain (non-aggregate) SELECT: every shard
// produces its matching rows independently, and results concatenate in
// shard start-time order, row index order within a shard.
func executeScan(ctx context.Context, shards []*shard.Shard, plan *queryplan.Plan) (*Result, error) {
	shard.SortShardsByStart(shards)

	columns := outputColumns(plan, shardsSchema(shards))
	rowsByShard := make([][][]value.Value, len(shards))

	g, _ := errgroup.WithContext(ctx)
	for i, s := range shards {
		i, s := i, s
		g.Go(func() error {
			mask := buildMask(s, plan.Where)
			var rows [][]value.Value
			for _, idx := range mask.Indices() {
				rows = append(rows, projectScanRow(s, int(idx), columns))
			}
			rowsByShard[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var allRows [][]value.Value
	for _, rows := range rowsByShard {
		allRows = append(allRows, rows...)
	}
	return &Result{Columns: columns, Rows: allRows}, nil
}

func shardsSchema(shards []*shard.Shard) map[string]value.DataType {
	out := make(map[string]value.DataType)
	for _, s := range shards {
		for col, dt := range s.Schema() {
			out[col] = dt
		}
	}
	return out
}

// outputColumns resolves the plan's SELECT list into concrete output
// column names, expanding a wildcard to the shards' merged column names
// sorted by name, so the order does not depend on insertion order.
func outputColumns(plan *queryplan.Plan, schema map[string]value.DataType) []string {
	var out []string
	for _, p := range plan.Projections {
		if p.Wildcard {
			out = append(out, wildcardColumns(schema)...)
			continue
		}
		out = append(out, p.OutputName)
	}
	return out
}

func wildcardColumns(schema map[string]value.DataType) []string {
	out := make([]string, 0, len(schema))
	for col := range schema {
		out = append(out, col)
	}
	sortStrings(out)
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func projectScanRow(s *shard.Shard, rowIdx int, columns []string) []value.Value {
	row := make([]value.Value, len(columns))
	for i, col := range columns {
		v, _ := s.GetValue(rowIdx, col)
		row[i] = v
	}
	return row
}

// groupKeyValue is a hashable representation of a group-by tuple.
type groupKeyValue string

func computeGroupKey(s *shard.Shard, rowIdx int, plan *queryplan.Plan) groupKeyValue {
	if len(plan.GroupBy) == 0 {
		return groupKeyValue("")
	}
	var b strings.Builder
	for i, g := range plan.GroupBy {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		v, _ := s.GetValue(rowIdx, g.Column)
		if g.TimeBucket {
			if v.IsNull() {
				b.WriteString("null")
				continue
			}
			ms, _ := v.Numeric()
			bucket := int64(ms) / g.IntervalMs * g.IntervalMs
			b.WriteString(value.Timestamp(bucket).String())
			continue
		}
		b.WriteString(v.String())
	}
	return groupKeyValue(b.String())
}

type groupState struct {
	keyValues []value.Value
	accums    []accum.Accumulator
}

// executeAggregate handles GROUP BY / bare-aggregate queries: each
// shard builds its own group-key -> accumulator map under its own row
// mask, and shards merge afterward by identical group key.
func executeAggregate(ctx context.Context, shards []*shard.Shard, plan *queryplan.Plan) (*Result, error) {
	perShard := make([]map[groupKeyValue]*groupState, len(shards))

	g, _ := errgroup.WithContext(ctx)
	for i, s := range shards {
		i, s := i, s
		g.Go(func() error {
			perShard[i] = aggregateShard(s, plan)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[groupKeyValue]*groupState)
	var order []groupKeyValue
	for _, m := range perShard {
		for k, gs := range m {
			existing, ok := merged[k]
			if !ok {
				merged[k] = gs
				order = append(order, k)
				continue
			}
			for i := range existing.accums {
				existing.accums[i].Merge(gs.accums[i])
			}
		}
	}

	columns := make([]string, 0, len(plan.GroupBy)+len(plan.Projections))
	for _, g := range plan.GroupBy {
		if g.TimeBucket {
			columns = append(columns, "time_bucket_"+g.Column)
		} else {
			columns = append(columns, g.Column)
		}
	}
	aggProjections := make([]queryplan.OutputProjection, 0, len(plan.Projections))
	for _, p := range plan.Projections {
		if p.Kind == sqlquery.ProjAggregate {
			aggProjections = append(aggProjections, p)
			columns = append(columns, p.OutputName)
		}
	}

	var rows [][]value.Value
	for _, k := range order {
		gs := merged[k]
		row := make([]value.Value, 0, len(columns))
		row = append(row, gs.keyValues...)
		for i := range aggProjections {
			row = append(row, gs.accums[i].Result())
		}
		rows = append(rows, row)
	}

	return &Result{Columns: columns, Rows: rows}, nil
}

func aggregateShard(s *shard.Shard, plan *queryplan.Plan) map[groupKeyValue]*groupState {
	mask := buildMask(s, plan.Where)

	aggProjections := make([]queryplan.OutputProjection, 0, len(plan.Projections))
	for _, p := range plan.Projections {
		if p.Kind == sqlquery.ProjAggregate {
			aggProjections = append(aggProjections, p)
		}
	}

	groups := make(map[groupKeyValue]*groupState)
	for _, idx := range mask.Indices() {
		rowIdx := int(idx)
		key := computeGroupKey(s, rowIdx, plan)
		gs, ok := groups[key]
		if !ok {
			gs = &groupState{
				keyValues: groupKeyValues(s, rowIdx, plan),
				accums:    newAccumulators(aggProjections),
			}
			groups[key] = gs
		}
		for i, p := range aggProjections {
			gs.accums[i].Accumulate(aggregateInput(s, rowIdx, p))
		}
	}
	return groups
}

func groupKeyValues(s *shard.Shard, rowIdx int, plan *queryplan.Plan) []value.Value {
	out := make([]value.Value, 0, len(plan.GroupBy))
	for _, g := range plan.GroupBy {
		v, _ := s.GetValue(rowIdx, g.Column)
		if g.TimeBucket && !v.IsNull() {
			ms, _ := v.Numeric()
			bucket := int64(ms) / g.IntervalMs * g.IntervalMs
			v = value.Timestamp(bucket)
		}
		out = append(out, v)
	}
	return out
}

func aggregateInput(s *shard.Shard, rowIdx int, p queryplan.OutputProjection) value.Value {
	if p.CountAll || p.Column == "" {
		return value.Int64(1)
	}
	v, _ := s.GetValue(rowIdx, p.Column)
	return v
}

func newAccumulators(projections []queryplan.OutputProjection) []accum.Accumulator {
	out := make([]accum.Accumulator, len(projections))
	for i, p := range projections {
		switch p.AggFunc {
		case "count":
			out[i] = accum.NewCount(p.CountAll || p.Column == "")
		case "sum":
			out[i] = accum.NewSum()
		case "avg":
			out[i] = accum.NewAvg()
		case "min":
			out[i] = accum.NewMin()
		case "max":
			out[i] = accum.NewMax()
		case "percentile":
			out[i] = accum.NewPercentile(p.PercentileP)
		default:
			out[i] = accum.NewCount(false)
		}
	}
	return out
}

func applyOrderBy(r *Result, orderBy []sqlquery.OrderKey) {
	if len(orderBy) == 0 {
		return
	}
	colIdx := make([]int, 0, len(orderBy))
	for _, o := range orderBy {
		idx := indexOf(r.Columns, o.Column)
		colIdx = append(colIdx, idx)
	}
	rows := r.Rows
	insertionSort(rows, func(a, b []value.Value) bool {
		for i, o := range orderBy {
			ci := colIdx[i]
			if ci < 0 {
				continue
			}
			if value.Equal(a[ci], b[ci]) {
				continue
			}
			less := value.Less(a[ci], b[ci])
			if o.Desc {
				return !less
			}
			return less
		}
		return false
	})
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

// insertionSort is a stable sort; result sets are small enough that
// O(n^2) is acceptable and the stability guarantee is simpler to reason
// about than sort.Slice's for a multi-key, custom-total-order compare.
func insertionSort(rows [][]value.Value, less func(a, b []value.Value) bool) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && less(rows[j], rows[j-1]); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

func applyLimit(r *Result, limit *int64) {
	if limit == nil {
		return
	}
	n := int(*limit)
	if n < len(r.Rows) {
		r.Rows = r.Rows[:n]
	}
}
