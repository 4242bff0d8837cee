// Package sqlquery turns the pragmatic SQL subset this engine accepts
// into a logical Query by walking the SELECT statement AST produced by
// github.com/pingcap/tidb/pkg/parser.
package sqlquery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"streamshard/internal/value"
)

// Category names why a query failed to parse, so callers can distinguish
// failure classes without string-matching an error message.
type Category int

const (
	CategoryGeneral Category = iota
	CategoryUnsupportedStatement
	CategoryUnsupportedFunction
	CategoryUnsupportedOperator
	CategoryUnsupportedValue
	CategoryMissingTable
	CategoryJoinsNotSupported
	CategoryInvalidInterval
	CategoryInvalidLimit
)

// ParseError is returned for every rejected query; Category lets callers
// branch without parsing the message text.
type ParseError struct {
	Category Category
	Message  string
}

func (e *ParseError) Error() string { return e.Message }

func parseErr(cat Category, format string, args ...any) *ParseError {
	return &ParseError{Category: cat, Message: fmt.Sprintf(format, args...)}
}

// ProjectionKind distinguishes the three projection shapes the plan can
// carry.
type ProjectionKind int

const (
	ProjColumn ProjectionKind = iota
	ProjAggregate
	ProjTimeBucket
)

// Projection is one SELECT-list entry.
type Projection struct {
	Kind ProjectionKind

	Column   string // ProjColumn / ProjAggregate (optional) / ProjTimeBucket
	Wildcard bool   // SELECT *
	Alias    string

	AggFunc     string // "count","sum","avg","min","max","percentile"
	CountAll    bool
	PercentileP float64 // only when AggFunc == "percentile"

	IntervalMs int64 // ProjTimeBucket
}

// FilterOp enumerates the comparison operators the WHERE clause supports.
type FilterOp int

const (
	OpEq FilterOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpLike
)

// Filter is one conjunct of the WHERE clause: column OP constant.
type Filter struct {
	Column  string
	Op      FilterOp
	Operand value.Value
}

// GroupKey is one GROUP BY entry: either a plain column or a time bucket.
type GroupKey struct {
	Column     string
	TimeBucket bool
	IntervalMs int64
}

// OrderKey is one ORDER BY entry.
type OrderKey struct {
	Column string
	Desc   bool
}

// Query is the logical form of a parsed SELECT statement.
type Query struct {
	Table       string
	Projections []Projection
	Where       []Filter
	GroupBy     []GroupKey
	OrderBy     []OrderKey
	Limit       *int64
}

// Parse parses one SELECT statement into a Query, or a *ParseError
// describing why it was rejected.
func Parse(sql string) (*Query, error) {
	p := parser.New()
	stmtNodes, _, err := p.Parse(sql, "", "")
	if err != nil {
		return nil, parseErr(CategoryGeneral, "sql: %v", err)
	}
	if len(stmtNodes) != 1 {
		return nil, parseErr(CategoryUnsupportedStatement, "sql: expected exactly one statement, got %d", len(stmtNodes))
	}
	sel, ok := stmtNodes[0].(*ast.SelectStmt)
	if !ok {
		return nil, parseErr(CategoryUnsupportedStatement, "sql: only SELECT statements are supported")
	}

	q := &Query{}

	table, err := parseFrom(sel.From)
	if err != nil {
		return nil, err
	}
	q.Table = table

	projections, err := parseFields(sel.Fields)
	if err != nil {
		return nil, err
	}
	q.Projections = projections

	if sel.Where != nil {
		filters, err := parseWhere(sel.Where)
		if err != nil {
			return nil, err
		}
		q.Where = filters
	}

	if sel.GroupBy != nil {
		groupBy, err := parseGroupBy(sel.GroupBy)
		if err != nil {
			return nil, err
		}
		q.GroupBy = groupBy
	}

	if sel.OrderBy != nil {
		orderBy, err := parseOrderBy(sel.OrderBy)
		if err != nil {
			return nil, err
		}
		q.OrderBy = orderBy
	}

	if sel.Limit != nil {
		limit, err := parseLimit(sel.Limit)
		if err != nil {
			return nil, err
		}
		q.Limit = &limit
	}

	return q, nil
}

func parseFrom(from *ast.TableRefsClause) (string, error) {
	if from == nil || from.TableRefs == nil {
		return "", parseErr(CategoryMissingTable, "sql: missing FROM clause")
	}
	join := from.TableRefs
	if join.Right != nil {
		return "", parseErr(CategoryJoinsNotSupported, "sql: joins are not supported")
	}
	src, ok := join.Left.(*ast.TableSource)
	if !ok {
		return "", parseErr(CategoryMissingTable, "sql: unrecognized FROM clause")
	}
	tn, ok := src.Source.(*ast.TableName)
	if !ok {
		return "", parseErr(CategoryMissingTable, "sql: FROM clause must name a single table")
	}
	return tn.Name.O, nil
}

func flattenColumnName(name *ast.ColumnName) string {
	parts := make([]string, 0, 3)
	if name.Table.O != "" {
		parts = append(parts, name.Table.O)
	}
	if name.Name.O != "" {
		parts = append(parts, name.Name.O)
	}
	return strings.Join(parts, ".")
}

func parseFields(fields *ast.FieldList) ([]Projection, error) {
	if fields == nil {
		return nil, parseErr(CategoryGeneral, "sql: empty SELECT list")
	}
	var out []Projection
	for _, f := range fields.Fields {
		if f.WildCard != nil {
			out = append(out, Projection{Kind: ProjColumn, Wildcard: true})
			continue
		}
		proj, err := parseSelectExpr(f.Expr)
		if err != nil {
			return nil, err
		}
		if f.AsName.O != "" {
			proj.Alias = f.AsName.O
		}
		out = append(out, proj)
	}
	return out, nil
}

var percentileFuncs = map[string]float64{
	"p50": 50, "p90": 90, "p95": 95, "p99": 99,
}

func parseSelectExpr(expr ast.ExprNode) (Projection, error) {
	switch e := expr.(type) {
	case *ast.ColumnNameExpr:
		return Projection{Kind: ProjColumn, Column: flattenColumnName(e.Name)}, nil

	case *ast.AggregateFuncExpr:
		fn := strings.ToLower(e.F)
		switch fn {
		case "count", "sum", "avg", "min", "max":
			proj := Projection{Kind: ProjAggregate, AggFunc: fn}
			if len(e.Args) == 1 {
				if col, ok := e.Args[0].(*ast.ColumnNameExpr); ok {
					if col.Name.Name.O == "" || col.Name.Name.O == "*" {
						proj.CountAll = true
					} else {
						proj.Column = flattenColumnName(col.Name)
					}
				} else if fn == "count" {
					// The parser rewrites COUNT(*) to COUNT(1).
					proj.CountAll = true
				}
			} else {
				proj.CountAll = true
			}
			return proj, nil
		default:
			return Projection{}, parseErr(CategoryUnsupportedFunction, "sql: unsupported aggregate function %q", e.F)
		}

	case *ast.FuncCallExpr:
		name := strings.ToLower(e.FnName.O)
		if p, ok := percentileFuncs[name]; ok {
			col, err := requireSingleColumnArg(e.Args, name)
			if err != nil {
				return Projection{}, err
			}
			return Projection{Kind: ProjAggregate, AggFunc: "percentile", PercentileP: p, Column: col}, nil
		}
		if name == "percentile" {
			if len(e.Args) != 2 {
				return Projection{}, parseErr(CategoryUnsupportedFunction, "sql: PERCENTILE requires (column, p)")
			}
			col, err := columnArg(e.Args[0], name)
			if err != nil {
				return Projection{}, err
			}
			p, err := numericLiteral(e.Args[1])
			if err != nil {
				return Projection{}, parseErr(CategoryUnsupportedValue, "sql: PERCENTILE's second argument must be numeric")
			}
			return Projection{Kind: ProjAggregate, AggFunc: "percentile", PercentileP: p, Column: col}, nil
		}
		if name == "time_bucket" {
			if len(e.Args) != 2 {
				return Projection{}, parseErr(CategoryUnsupportedFunction, "sql: TIME_BUCKET requires (interval, column)")
			}
			interval, err := intervalLiteralMs(e.Args[0])
			if err != nil {
				return Projection{}, err
			}
			col, err := columnArg(e.Args[1], name)
			if err != nil {
				return Projection{}, err
			}
			return Projection{Kind: ProjTimeBucket, Column: col, IntervalMs: interval}, nil
		}
		return Projection{}, parseErr(CategoryUnsupportedFunction, "sql: unsupported function %q", e.FnName.O)

	default:
		return Projection{}, parseErr(CategoryUnsupportedValue, "sql: unsupported SELECT expression")
	}
}

func requireSingleColumnArg(args []ast.ExprNode, fn string) (string, error) {
	if len(args) != 1 {
		return "", parseErr(CategoryUnsupportedFunction, "sql: %s requires exactly one argument", fn)
	}
	return columnArg(args[0], fn)
}

func columnArg(e ast.ExprNode, fn string) (string, error) {
	col, ok := e.(*ast.ColumnNameExpr)
	if !ok {
		return "", parseErr(CategoryUnsupportedValue, "sql: %s argument must be a column", fn)
	}
	return flattenColumnName(col.Name), nil
}

// intervalLiteralMs parses a TIME_BUCKET interval literal like '5 minute'
// or '5 minutes' into milliseconds.
func intervalLiteralMs(e ast.ExprNode) (int64, error) {
	lit, ok := literalString(e)
	if !ok {
		return 0, parseErr(CategoryInvalidInterval, "sql: TIME_BUCKET interval must be a string literal")
	}
	return parseIntervalString(lit)
}

func parseIntervalString(s string) (int64, error) {
	parts := strings.Fields(strings.TrimSpace(s))
	if len(parts) != 2 {
		return 0, parseErr(CategoryInvalidInterval, "sql: invalid interval %q", s)
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, parseErr(CategoryInvalidInterval, "sql: invalid interval quantity %q", parts[0])
	}
	unitMs, ok := unitToMs(parts[1])
	if !ok {
		return 0, parseErr(CategoryInvalidInterval, "sql: unrecognized interval unit %q", parts[1])
	}
	return n * unitMs, nil
}

func unitToMs(unit string) (int64, bool) {
	u := strings.ToLower(unit)
	if u != "ms" && u != "s" {
		u = strings.TrimSuffix(u, "s")
	}
	switch u {
	case "ms", "millisecond":
		return 1, true
	case "s", "second", "sec":
		return 1000, true
	case "m", "minute", "min":
		return 60_000, true
	case "h", "hour", "hr":
		return 3_600_000, true
	case "d", "day":
		return 86_400_000, true
	default:
		return 0, false
	}
}

func literalString(e ast.ExprNode) (string, bool) {
	v, ok := e.(ast.ValueExpr)
	if !ok {
		return "", false
	}
	d := v.GetValue()
	s, ok := d.(string)
	return s, ok
}

func numericLiteral(e ast.ExprNode) (float64, error) {
	switch n := e.(type) {
	case *ast.UnaryOperationExpr:
		if n.Op != opcode.Minus {
			return 0, parseErr(CategoryUnsupportedOperator, "sql: unsupported unary operator")
		}
		inner, err := numericLiteral(n.V)
		if err != nil {
			return 0, err
		}
		return -inner, nil
	case ast.ValueExpr:
		switch d := n.GetValue().(type) {
		case int64:
			return float64(d), nil
		case float64:
			return d, nil
		case string:
			f, err := strconv.ParseFloat(d, 64)
			if err != nil {
				return 0, parseErr(CategoryUnsupportedValue, "sql: value %q is not numeric", d)
			}
			return f, nil
		default:
			return 0, parseErr(CategoryUnsupportedValue, "sql: expected a numeric literal")
		}
	default:
		return 0, parseErr(CategoryUnsupportedValue, "sql: expected a numeric literal")
	}
}

func parseWhere(expr ast.ExprNode) ([]Filter, error) {
	switch e := expr.(type) {
	case *ast.BinaryOperationExpr:
		if e.Op == opcode.LogicAnd {
			left, err := parseWhere(e.L)
			if err != nil {
				return nil, err
			}
			right, err := parseWhere(e.R)
			if err != nil {
				return nil, err
			}
			return append(left, right...), nil
		}
		f, err := parseComparison(e)
		if err != nil {
			return nil, err
		}
		return []Filter{f}, nil
	case *ast.PatternLikeOrIlikeExpr:
		return parseLike(e)
	default:
		return nil, parseErr(CategoryUnsupportedOperator, "sql: unsupported WHERE expression")
	}
}

func opFromTiDB(op opcode.Op) (FilterOp, bool) {
	switch op {
	case opcode.EQ:
		return OpEq, true
	case opcode.NE:
		return OpNe, true
	case opcode.LT:
		return OpLt, true
	case opcode.LE:
		return OpLe, true
	case opcode.GT:
		return OpGt, true
	case opcode.GE:
		return OpGe, true
	default:
		return 0, false
	}
}

func parseComparison(e *ast.BinaryOperationExpr) (Filter, error) {
	op, ok := opFromTiDB(e.Op)
	if !ok {
		return Filter{}, parseErr(CategoryUnsupportedOperator, "sql: unsupported comparison operator")
	}
	col, ok := e.L.(*ast.ColumnNameExpr)
	if !ok {
		return Filter{}, parseErr(CategoryUnsupportedValue, "sql: left side of a comparison must be a column")
	}
	operand, err := parseOperand(e.R)
	if err != nil {
		return Filter{}, err
	}
	return Filter{Column: flattenColumnName(col.Name), Op: op, Operand: operand}, nil
}

func parseLike(e *ast.PatternLikeOrIlikeExpr) ([]Filter, error) {
	col, ok := e.Expr.(*ast.ColumnNameExpr)
	if !ok {
		return nil, parseErr(CategoryUnsupportedValue, "sql: LIKE's left side must be a column")
	}
	pattern, ok := literalString(e.Pattern)
	if !ok {
		return nil, parseErr(CategoryUnsupportedValue, "sql: LIKE's pattern must be a string literal")
	}
	return []Filter{{Column: flattenColumnName(col.Name), Op: OpLike, Operand: value.String(pattern)}}, nil
}

// parseOperand handles constant literals and the NOW() - INTERVAL '<n>
// <unit>' special form, which the grammar rewrites into a DATE_SUB/
// DATE_ADD function call around a NOW() call.
func parseOperand(e ast.ExprNode) (value.Value, error) {
	switch n := e.(type) {
	case ast.ValueExpr:
		return valueFromDatum(n.GetValue())
	case *ast.UnaryOperationExpr:
		if n.Op != opcode.Minus {
			return value.Null, parseErr(CategoryUnsupportedOperator, "sql: unsupported unary operator in WHERE")
		}
		inner, err := parseOperand(n.V)
		if err != nil {
			return value.Null, err
		}
		if f, ok := inner.Numeric(); ok {
			return value.Float64(-f), nil
		}
		return value.Null, parseErr(CategoryUnsupportedValue, "sql: unary minus requires a numeric operand")
	case *ast.FuncCallExpr:
		return evalNowInterval(n)
	default:
		return value.Null, parseErr(CategoryUnsupportedValue, "sql: unsupported WHERE operand")
	}
}

func valueFromDatum(d any) (value.Value, error) {
	switch v := d.(type) {
	case nil:
		return value.Null, nil
	case int64:
		return value.Int64(v), nil
	case float64:
		return value.Float64(v), nil
	case string:
		return value.String(v), nil
	default:
		return value.Null, parseErr(CategoryUnsupportedValue, "sql: unsupported literal type %T", d)
	}
}

func evalNowInterval(e *ast.FuncCallExpr) (value.Value, error) {
	name := strings.ToLower(e.FnName.O)
	if name != "date_add" && name != "date_sub" {
		return value.Null, parseErr(CategoryUnsupportedFunction, "sql: unsupported function %q in WHERE", e.FnName.O)
	}
	if len(e.Args) < 2 {
		return value.Null, parseErr(CategoryInvalidInterval, "sql: malformed interval expression")
	}
	nowCall, ok := e.Args[0].(*ast.FuncCallExpr)
	if !ok || strings.ToLower(nowCall.FnName.O) != "now" {
		return value.Null, parseErr(CategoryUnsupportedValue, "sql: only NOW() +/- INTERVAL is supported")
	}
	n, err := numericLiteral(e.Args[1])
	if err != nil {
		return value.Null, err
	}
	unitMs := int64(1000) // default seconds if the grammar didn't carry a distinct unit node
	if len(e.Args) >= 3 {
		if u, ok := literalString(e.Args[2]); ok {
			if ms, ok := unitToMs(u); ok {
				unitMs = ms
			}
		}
	}
	deltaMs := int64(n) * unitMs
	nowMs := time.Now().UnixMilli()
	if name == "date_sub" {
		return value.Timestamp(nowMs - deltaMs), nil
	}
	return value.Timestamp(nowMs + deltaMs), nil
}

func parseGroupBy(gb *ast.GroupByClause) ([]GroupKey, error) {
	var out []GroupKey
	for _, item := range gb.Items {
		switch e := item.Expr.(type) {
		case *ast.ColumnNameExpr:
			out = append(out, GroupKey{Column: flattenColumnName(e.Name)})
		case *ast.FuncCallExpr:
			if strings.ToLower(e.FnName.O) != "time_bucket" {
				return nil, parseErr(CategoryUnsupportedFunction, "sql: GROUP BY only supports columns or TIME_BUCKET")
			}
			if len(e.Args) != 2 {
				return nil, parseErr(CategoryUnsupportedFunction, "sql: TIME_BUCKET requires (interval, column)")
			}
			interval, err := intervalLiteralMs(e.Args[0])
			if err != nil {
				return nil, err
			}
			col, err := columnArg(e.Args[1], "time_bucket")
			if err != nil {
				return nil, err
			}
			out = append(out, GroupKey{Column: col, TimeBucket: true, IntervalMs: interval})
		default:
			return nil, parseErr(CategoryUnsupportedValue, "sql: unsupported GROUP BY expression")
		}
	}
	return out, nil
}

func parseOrderBy(ob *ast.OrderByClause) ([]OrderKey, error) {
	var out []OrderKey
	for _, item := range ob.Items {
		col, ok := item.Expr.(*ast.ColumnNameExpr)
		if !ok {
			return nil, parseErr(CategoryUnsupportedValue, "sql: ORDER BY only supports columns")
		}
		out = append(out, OrderKey{Column: flattenColumnName(col.Name), Desc: item.Desc})
	}
	return out, nil
}

func parseLimit(l *ast.Limit) (int64, error) {
	v, ok := l.Count.(ast.ValueExpr)
	if !ok {
		return 0, parseErr(CategoryInvalidLimit, "sql: LIMIT must be a literal integer")
	}
	n, ok := v.GetValue().(int64)
	if !ok || n < 0 {
		return 0, parseErr(CategoryInvalidLimit, "sql: LIMIT must be a non-negative integer")
	}
	return n, nil
}
