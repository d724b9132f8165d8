package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/pgstatsmon/internal/catalog"
	"github.com/TritonDataCenter/pgstatsmon/internal/registry"
)

func newTestEngine() *Engine {
	return &Engine{
		registry: registry.New(nil, zerolog.Nop()),
		log:      zerolog.Nop(),
	}
}

func countQuery() catalog.Resolved {
	return catalog.Resolved{
		Query: catalog.Query{
			Name:    "pg_stat_database",
			Statkey: "datid",
			Counters: []catalog.MetricSpec{
				{Attr: "xact_commit", Help: "commits"},
			},
		},
		SQL: "SELECT 1",
	}
}

func TestRowKeyUsesStatkeyWhenPresent(t *testing.T) {
	q := catalog.Resolved{Query: catalog.Query{Statkey: "datid"}}
	key := rowKey(q, catalog.Row{"datid": int64(5)})
	assert.Equal(t, "5", key)
}

func TestRowKeyFallsBackToSentinelWithoutStatkey(t *testing.T) {
	q := catalog.Resolved{Query: catalog.Query{Statkey: ""}}
	key := rowKey(q, catalog.Row{"whatever": "x"})
	assert.Equal(t, sentinelRowKey, key)
}

func TestRecordSkipsFirstObservation(t *testing.T) {
	eng := newTestEngine()
	be := newTestEntry()
	q := countQuery().Query
	resolved := catalog.Resolved{Query: q, SQL: "SELECT 1"}

	result := eng.record(be, resolved, []catalog.Row{{"datid": int64(1), "xact_commit": int64(100)}})
	assert.Equal(t, 0, result.nanErrors)

	body, err := eng.registry.Collect()
	require.NoError(t, err)
	assert.NotContains(t, string(body), "pg_stat_database_xact_commit")
}

func TestRecordComputesDeltaOnSecondObservation(t *testing.T) {
	eng := newTestEngine()
	be := newTestEntry()
	resolved := catalog.Resolved{Query: countQuery().Query, SQL: "SELECT 1"}

	eng.record(be, resolved, []catalog.Row{{"datid": int64(1), "xact_commit": int64(100)}})
	eng.record(be, resolved, []catalog.Row{{"datid": int64(1), "xact_commit": int64(130)}})

	body, err := eng.registry.Collect()
	require.NoError(t, err)
	assert.Contains(t, string(body), "pg_stat_database_xact_commit")
}

func TestRecordSkipsOnImplicitCounterReset(t *testing.T) {
	eng := newTestEngine()
	be := newTestEntry()
	resolved := catalog.Resolved{Query: countQuery().Query, SQL: "SELECT 1"}

	eng.record(be, resolved, []catalog.Row{{"datid": int64(1), "xact_commit": int64(500)}})
	result := eng.record(be, resolved, []catalog.Row{{"datid": int64(1), "xact_commit": int64(10)}})
	assert.Equal(t, 0, result.nanErrors)
}

func TestRecordSkipsRowOnExplicitStatsReset(t *testing.T) {
	eng := newTestEngine()
	be := newTestEntry()
	resolved := catalog.Resolved{Query: countQuery().Query, SQL: "SELECT 1"}

	t0 := time.Now()
	t1 := t0.Add(time.Minute)

	eng.record(be, resolved, []catalog.Row{{"datid": int64(1), "xact_commit": int64(500), "stats_reset": t0}})
	eng.record(be, resolved, []catalog.Row{{"datid": int64(1), "xact_commit": int64(5), "stats_reset": t1}})

	body, err := eng.registry.Collect()
	require.NoError(t, err)
	assert.NotContains(t, string(body), "pg_stat_database_xact_commit")
}

func TestRecordCountsNaNErrorsForNonNumericCounter(t *testing.T) {
	eng := newTestEngine()
	be := newTestEntry()
	resolved := catalog.Resolved{Query: countQuery().Query, SQL: "SELECT 1"}

	eng.record(be, resolved, []catalog.Row{{"datid": int64(1), "xact_commit": int64(100)}})
	result := eng.record(be, resolved, []catalog.Row{{"datid": int64(1), "xact_commit": "not-a-number"}})
	assert.Equal(t, 1, result.nanErrors)

	body, err := eng.registry.Collect()
	require.NoError(t, err)
	assert.Contains(t, string(body), `pg_NaN_error{backend="db0",name="pg_stat_database_xact_commit",query="pg_stat_database"} 1`)
}

func TestRecordSkipsNullCounterSilently(t *testing.T) {
	eng := newTestEngine()
	be := newTestEntry()
	resolved := catalog.Resolved{Query: countQuery().Query, SQL: "SELECT 1"}

	eng.record(be, resolved, []catalog.Row{{"datid": int64(1), "xact_commit": int64(100)}})
	result := eng.record(be, resolved, []catalog.Row{{"datid": int64(1), "xact_commit": nil}})
	assert.Equal(t, 0, result.nanErrors)
}

func TestHasStatsResetRequiresBothTimestamps(t *testing.T) {
	now := time.Now()
	assert.False(t, hasStatsReset(catalog.Row{}, catalog.Row{"stats_reset": now}))
	assert.False(t, hasStatsReset(catalog.Row{"stats_reset": now}, catalog.Row{"stats_reset": now}))
	assert.True(t, hasStatsReset(catalog.Row{"stats_reset": now}, catalog.Row{"stats_reset": now.Add(time.Second)}))
}

func TestNumericValueHandlesTypesAndNaN(t *testing.T) {
	v, ok := numericValue(int64(5))
	assert.True(t, ok)
	assert.Equal(t, 5.0, v)

	_, ok = numericValue("nope")
	assert.False(t, ok)

	v, ok = numericValue(true)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestToLabelStringHandlesCommonTypes(t *testing.T) {
	assert.Equal(t, "hello", toLabelString("hello"))
	assert.Equal(t, "hello", toLabelString([]byte("hello")))
	assert.Equal(t, "", toLabelString(nil))
	assert.Equal(t, "5", toLabelString(int64(5)))
}
