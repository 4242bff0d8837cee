// Package queryplan lowers a parsed sqlquery.Query into an execution
// plan: the time range to prune shards by, the exact set of columns the
// executor must read, and projection/group-by descriptors with default
// output names already resolved.
package queryplan

import (
	"fmt"
	"math"

	"streamshard/internal/shard"
	"streamshard/internal/sqlquery"
	"streamshard/internal/value"
)

// TimeRange is a half-open [Start, End) millisecond bound. Either side
// may be left at its sentinel (Start == math.MinInt64, End ==
// math.MaxInt64) to mean "unbounded in that direction".
type TimeRange struct {
	Start int64
	End   int64
}

func (r TimeRange) Unbounded() bool {
	return r.Start == math.MinInt64 && r.End == math.MaxInt64
}

// OutputProjection is one resolved SELECT-list entry, with its output
// column name already decided.
type OutputProjection struct {
	sqlquery.Projection
	OutputName string
}

// OutputGroupKey is an alias of sqlquery.GroupKey.
type OutputGroupKey = sqlquery.GroupKey

// OutputOrderKey mirrors sqlquery.OrderKey.
type OutputOrderKey = sqlquery.OrderKey

// Plan is the fully-resolved execution plan for one query.
type Plan struct {
	Table           string
	TimeRange       TimeRange
	RequiredColumns []string
	Projections     []OutputProjection
	Where           []sqlquery.Filter
	GroupBy         []OutputGroupKey
	OrderBy         []OutputOrderKey
	Limit           *int64
	IsAggregate     bool
}

// Build lowers q into a Plan.
func Build(q *sqlquery.Query) (*Plan, error) {
	p := &Plan{
		Table:   q.Table,
		Where:   q.Where,
		GroupBy: q.GroupBy,
		OrderBy: q.OrderBy,
		Limit:   q.Limit,
	}

	p.TimeRange = extractTimeRange(q.Where)

	cols := make(map[string]struct{})
	cols[shard.TimestampField] = struct{}{}
	for _, f := range q.Where {
		cols[f.Column] = struct{}{}
	}
	for _, g := range q.GroupBy {
		if g.Column != "" {
			cols[g.Column] = struct{}{}
		}
	}

	outs := make([]OutputProjection, 0, len(q.Projections))
	for _, proj := range q.Projections {
		if proj.Kind == sqlquery.ProjAggregate || proj.Kind == sqlquery.ProjTimeBucket {
			p.IsAggregate = true
		}
		if proj.Column != "" {
			cols[proj.Column] = struct{}{}
		}
		outs = append(outs, OutputProjection{Projection: proj, OutputName: defaultOutputName(proj)})
	}
	if len(q.GroupBy) > 0 {
		p.IsAggregate = true
	}
	p.Projections = outs

	required := make([]string, 0, len(cols))
	for c := range cols {
		required = append(required, c)
	}
	p.RequiredColumns = required

	return p, nil
}

// defaultOutputName computes <func>_<col|*> for an unaliased aggregate
// or time bucket, and the bare column name for a plain projection.
func defaultOutputName(proj sqlquery.Projection) string {
	if proj.Alias != "" {
		return proj.Alias
	}
	switch proj.Kind {
	case sqlquery.ProjColumn:
		if proj.Wildcard {
			return "*"
		}
		return proj.Column
	case sqlquery.ProjAggregate:
		arg := proj.Column
		if proj.CountAll || arg == "" {
			arg = "*"
		}
		if proj.AggFunc == "percentile" {
			return fmt.Sprintf("percentile_%g_%s", proj.PercentileP, arg)
		}
		return fmt.Sprintf("%s_%s", proj.AggFunc, arg)
	case sqlquery.ProjTimeBucket:
		return fmt.Sprintf("time_bucket_%s", proj.Column)
	default:
		return proj.Column
	}
}

// extractTimeRange narrows [MinInt64, MaxInt64) using every comparison
// against the timestamp column. ">" and "<=" are shifted by one
// millisecond (Start = v+1, End = v+1) so the range stays half-open, and
// "<" sets End = v directly; multiple bounds intersect rather than
// replace each other.
func extractTimeRange(filters []sqlquery.Filter) TimeRange {
	r := TimeRange{Start: math.MinInt64, End: math.MaxInt64}
	for _, f := range filters {
		if f.Column != shard.TimestampField {
			continue
		}
		ms, ok := timestampMillis(f.Operand)
		if !ok {
			continue
		}
		switch f.Op {
		case sqlquery.OpEq:
			if ms > r.Start {
				r.Start = ms
			}
			if ms+1 < r.End {
				r.End = ms + 1
			}
		case sqlquery.OpGe:
			if ms > r.Start {
				r.Start = ms
			}
		case sqlquery.OpGt:
			if ms+1 > r.Start {
				r.Start = ms + 1
			}
		case sqlquery.OpLe:
			if ms+1 < r.End {
				r.End = ms + 1
			}
		case sqlquery.OpLt:
			if ms < r.End {
				r.End = ms
			}
		}
	}
	return r
}

func timestampMillis(v value.Value) (int64, bool) {
	switch v.Kind() {
	case value.KindTimestamp, value.KindInt64:
		return v.AsInt64(), true
	default:
		if f, ok := v.Numeric(); ok {
			return int64(f), true
		}
		return 0, false
	}
}
