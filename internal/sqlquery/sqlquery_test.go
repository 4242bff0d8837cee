package sqlquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamshard/internal/value"
)

func TestParseSimpleColumnProjection(t *testing.T) {
	q, err := Parse("SELECT host, cpu FROM metrics")
	require.NoError(t, err)
	assert.Equal(t, "metrics", q.Table)
	require.Len(t, q.Projections, 2)
	assert.Equal(t, "host", q.Projections[0].Column)
	assert.Equal(t, "cpu", q.Projections[1].Column)
}

func TestParseWildcard(t *testing.T) {
	q, err := Parse("SELECT * FROM metrics")
	require.NoError(t, err)
	require.Len(t, q.Projections, 1)
	assert.True(t, q.Projections[0].Wildcard)
}

func TestParseAggregatesAndAlias(t *testing.T) {
	q, err := Parse("SELECT COUNT(*) AS total, AVG(cpu) AS avg_cpu FROM metrics")
	require.NoError(t, err)
	require.Len(t, q.Projections, 2)

	assert.Equal(t, ProjAggregate, q.Projections[0].Kind)
	assert.Equal(t, "count", q.Projections[0].AggFunc)
	assert.True(t, q.Projections[0].CountAll)
	assert.Equal(t, "total", q.Projections[0].Alias)

	assert.Equal(t, "avg", q.Projections[1].AggFunc)
	assert.Equal(t, "cpu", q.Projections[1].Column)
	assert.Equal(t, "avg_cpu", q.Projections[1].Alias)
}

func TestParsePercentileShorthand(t *testing.T) {
	q, err := Parse("SELECT P95(latency) FROM metrics")
	require.NoError(t, err)
	require.Len(t, q.Projections, 1)
	assert.Equal(t, "percentile", q.Projections[0].AggFunc)
	assert.Equal(t, float64(95), q.Projections[0].PercentileP)
	assert.Equal(t, "latency", q.Projections[0].Column)
}

func TestParseTimeBucketProjectionAndGroupBy(t *testing.T) {
	q, err := Parse("SELECT TIME_BUCKET('5 minute', timestamp), COUNT(*) FROM metrics GROUP BY TIME_BUCKET('5 minute', timestamp)")
	require.NoError(t, err)
	require.Len(t, q.Projections, 2)
	assert.Equal(t, ProjTimeBucket, q.Projections[0].Kind)
	assert.Equal(t, int64(300_000), q.Projections[0].IntervalMs)
	assert.Equal(t, "timestamp", q.Projections[0].Column)

	require.Len(t, q.GroupBy, 1)
	assert.True(t, q.GroupBy[0].TimeBucket)
	assert.Equal(t, int64(300_000), q.GroupBy[0].IntervalMs)
}

func TestParseWhereConjunctionAndLike(t *testing.T) {
	q, err := Parse("SELECT host FROM metrics WHERE cpu > 90 AND host LIKE 'web%'")
	require.NoError(t, err)
	require.Len(t, q.Where, 2)
	assert.Equal(t, "cpu", q.Where[0].Column)
	assert.Equal(t, OpGt, q.Where[0].Op)
	f, _ := q.Where[0].Operand.Numeric()
	assert.Equal(t, float64(90), f)

	assert.Equal(t, "host", q.Where[1].Column)
	assert.Equal(t, OpLike, q.Where[1].Op)
	assert.Equal(t, "web%", q.Where[1].Operand.AsString())
}

func TestParseNegativeNumericLiteral(t *testing.T) {
	q, err := Parse("SELECT host FROM metrics WHERE cpu < -5")
	require.NoError(t, err)
	require.Len(t, q.Where, 1)
	f, _ := q.Where[0].Operand.Numeric()
	assert.Equal(t, float64(-5), f)
}

func TestParseNowIntervalOperand(t *testing.T) {
	q, err := Parse("SELECT host FROM metrics WHERE timestamp > NOW() - INTERVAL 5 MINUTE")
	require.NoError(t, err)
	require.Len(t, q.Where, 1)
	assert.Equal(t, value.KindTimestamp, q.Where[0].Operand.Kind())
}

func TestParseOrderByAndLimit(t *testing.T) {
	q, err := Parse("SELECT host FROM metrics ORDER BY cpu DESC LIMIT 10")
	require.NoError(t, err)
	require.Len(t, q.OrderBy, 1)
	assert.Equal(t, "cpu", q.OrderBy[0].Column)
	assert.True(t, q.OrderBy[0].Desc)
	require.NotNil(t, q.Limit)
	assert.Equal(t, int64(10), *q.Limit)
}

func TestParseJoinRejected(t *testing.T) {
	_, err := Parse("SELECT a.host FROM metrics a JOIN other b ON a.id = b.id")
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, CategoryJoinsNotSupported, pe.Category)
}

func TestParseMissingTable(t *testing.T) {
	_, err := Parse("SELECT 1")
	require.Error(t, err)
}

func TestParseUnsupportedFunctionCategorized(t *testing.T) {
	_, err := Parse("SELECT MEDIAN(cpu) FROM metrics")
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, CategoryUnsupportedFunction, pe.Category)
}

func TestParseCompoundColumnIdentifier(t *testing.T) {
	q, err := Parse("SELECT metrics.host FROM metrics")
	require.NoError(t, err)
	require.Len(t, q.Projections, 1)
	assert.Equal(t, "metrics.host", q.Projections[0].Column)
}
