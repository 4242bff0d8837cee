package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamshard/internal/engine"
	"streamshard/internal/shard"
	"streamshard/internal/value"
)

func seed(t *testing.T, eng *engine.StorageEngine, host string, cpu float64) {
	t.Helper()
	require.NoError(t, eng.Insert("metrics", shard.Row{
		"timestamp": value.Timestamp(1),
		"host":      value.String(host),
		"cpu":       value.Float64(cpu),
	}))
}

func peerServer(t *testing.T, columns []string, rows [][]wireValue) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env queryEnvelope
		_ = json.NewDecoder(r.Body).Decode(&env)
		resp := queryResponse{Columns: columns, Rows: rows}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestQuerySingleNodeNoPeers(t *testing.T) {
	eng := engine.New(1 << 30)
	seed(t, eng, "web-1", 10)

	agg := New(eng, nil, nil)
	res, err := agg.Query(context.Background(), "SELECT host, cpu FROM metrics")
	require.NoError(t, err)
	assert.Nil(t, res.Availability)
	assert.Len(t, res.Rows, 1)
}

func TestQueryDistributedConcatenatesScanRows(t *testing.T) {
	eng := engine.New(1 << 30)
	seed(t, eng, "web-1", 10)

	peer := peerServer(t, []string{"host", "cpu"}, [][]wireValue{
		{{Kind: "string", Str: "web-2"}, {Kind: "float64", Num: 20}},
	})
	defer peer.Close()

	agg := New(eng, []string{peer.URL}, nil)
	res, err := agg.Query(context.Background(), "SELECT host, cpu FROM metrics")
	require.NoError(t, err)
	require.NotNil(t, res.Availability)
	assert.Equal(t, 2, res.Availability.Queried)
	assert.Equal(t, 2, res.Availability.Responded)
	assert.True(t, res.Availability.Complete)
	assert.Len(t, res.Rows, 2)
}

func TestQueryDistributedPartialFailureReflectsAvailability(t *testing.T) {
	eng := engine.New(1 << 30)
	seed(t, eng, "web-1", 10)

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer dead.Close()

	agg := New(eng, []string{dead.URL}, nil)
	res, err := agg.Query(context.Background(), "SELECT host, cpu FROM metrics")
	require.NoError(t, err)
	require.NotNil(t, res.Availability)
	assert.Equal(t, 2, res.Availability.Queried)
	assert.Equal(t, 1, res.Availability.Responded)
	assert.False(t, res.Availability.Complete)
	assert.InDelta(t, 50.0, res.Availability.Percent, 0.01)
}

func TestQueryLocalFailureFailsTheWholeQuery(t *testing.T) {
	eng := engine.New(1 << 30)
	agg := New(eng, nil, nil)
	_, err := agg.Query(context.Background(), "SELECT host FROM nonexistent_table")
	require.Error(t, err)
}

func TestMergeRowsAggregatesByPrefix(t *testing.T) {
	columns := []string{"host", "count_all", "avg_cpu"}
	rows := [][]value.Value{
		{value.String("web-1"), value.Int64(2), value.Float64(10)},
		{value.String("web-1"), value.Int64(3), value.Float64(20)},
		{value.String("web-2"), value.Int64(1), value.Float64(5)},
	}
	outCols, outRows := mergeRows(columns, rows)
	assert.Equal(t, columns, outCols)
	require.Len(t, outRows, 2)

	var web1 []value.Value
	for _, r := range outRows {
		if r[0].AsString() == "web-1" {
			web1 = r
		}
	}
	require.NotNil(t, web1)
	assert.Equal(t, int64(5), web1[1].AsInt64())
	avg, _ := web1[2].Numeric()
	assert.Equal(t, 15.0, avg) // average of partial averages (10+20)/2, the documented limitation
}

func TestMergeRowsNoAggregatePrefixConcatenates(t *testing.T) {
	columns := []string{"host", "cpu"}
	rows := [][]value.Value{{value.String("web-1"), value.Float64(1)}}
	outCols, outRows := mergeRows(columns, rows)
	assert.Equal(t, columns, outCols)
	assert.Equal(t, rows, outRows)
}

func TestWireValueRoundTrip(t *testing.T) {
	for _, v := range []value.Value{
		value.Null, value.Bool(true), value.Int64(5), value.Float64(1.5),
		value.String("x"), value.Timestamp(42),
	} {
		got := fromWire(toWire(v))
		assert.True(t, value.Equal(v, got))
	}
}
