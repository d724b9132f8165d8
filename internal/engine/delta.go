package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/TritonDataCenter/pgstatsmon/internal/catalog"
	"github.com/rs/zerolog"
)

// sentinelRowKey is used for queries with no Statkey, which yield
// exactly one synthetic row per spec.md section 3.
const sentinelRowKey = "\x00singleton"

// rowKey computes a row's identity within a query's result set:
// row[query.statkey], or sentinelRowKey when the query has no statkey
// or the row lacks that column. lastRows is already per query, so the
// sentinel needs no query name in it.
func rowKey(q catalog.Resolved, row catalog.Row) string {
	if q.Statkey == "" {
		return sentinelRowKey
	}
	v, ok := row[q.Statkey]
	if !ok {
		return sentinelRowKey
	}
	return toLabelString(v)
}

// recordResult is what record() reports back to the caller. The
// pg_NaN_error counter itself is emitted by recordCounter; nanErrors
// only lets the caller log how many non-numeric values it saw.
type recordResult struct {
	nanErrors int
}

// record implements the Delta Recorder of spec.md section 4.F.
func (eng *Engine) record(be *backendEntry, q catalog.Resolved, rows []catalog.Row) recordResult {
	log := eng.log.With().Str("backend", be.backend.DisplayName).Str("query", q.Name).Logger()

	be.mu.Lock()
	prev := be.lastRows[q.Name]
	next := make(map[string]catalog.Row, len(rows))
	be.mu.Unlock()

	var result recordResult

	for _, row := range rows {
		key := rowKey(q, row)
		next[key] = row

		prevRow, hadPrev := prev[key]
		if hadPrev && hasStatsReset(prevRow, row) {
			log.Info().Str("row", key).Msg("stats reset detected, skipping row this tick")
			continue
		}
		if !hadPrev {
			log.Debug().Str("row", key).Msg("row detected for the first time, no delta available yet")
			continue
		}

		labels := eng.rowLabels(be, q, row)

		for _, c := range q.Counters {
			eng.recordCounter(&result, log, be, q, c, prevRow, row, labels)
		}
		for _, g := range q.Gauges {
			eng.recordGauge(log, q, g, row, labels)
		}
	}

	be.mu.Lock()
	be.lastRows[q.Name] = next
	be.mu.Unlock()

	return result
}

func (eng *Engine) recordCounter(result *recordResult, log zerolog.Logger, be *backendEntry, q catalog.Resolved, c catalog.MetricSpec, prevRow, row catalog.Row, labels map[string]string) {
	name := c.MetricName(q.Name)

	newV, newOK := numericValue(row[c.Attr])
	oldV, oldOK := numericValue(prevRow[c.Attr])

	if row[c.Attr] != nil && !newOK {
		result.nanErrors++
		log.Warn().Str("metric", name).Msg("non-numeric counter value")
		nanLabels := map[string]string{"backend": be.backend.DisplayName, "query": q.Name, "name": name}
		if err := eng.registry.AddCounter("pg_NaN_error", "Number of unparseable numeric columns", 1, nanLabels); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("failed to record NaN error")
		}
		return
	}
	if row[c.Attr] == nil {
		log.Debug().Str("metric", name).Msg("counter column is null, skipping")
		return
	}
	if !oldOK {
		// Prior observation wasn't usable either; nothing to diff.
		return
	}
	if oldV > newV {
		log.Info().Str("metric", name).Float64("old", oldV).Float64("new", newV).Msg("implicit counter reset, skipping")
		return
	}

	delta := newV - oldV
	if err := eng.registry.AddCounter(name, c.Help, delta, labels); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("failed to record counter delta")
	}
}

func (eng *Engine) recordGauge(log zerolog.Logger, q catalog.Resolved, g catalog.MetricSpec, row catalog.Row, labels map[string]string) {
	name := g.MetricName(q.Name)

	raw := row[g.Attr]
	if raw == nil {
		log.Debug().Str("metric", name).Msg("gauge column is null, skipping")
		return
	}
	v, ok := numericValue(raw)
	if !ok {
		log.Warn().Str("metric", name).Msg("non-numeric gauge value")
		return
	}

	var expiry time.Duration
	if g.Expires {
		expiry = time.Duration(g.ExpiryPeriodMs) * time.Millisecond
	}
	eng.registry.SetGauge(name, g.Help, v, labels, expiry)
}

// hasStatsReset implements spec.md section 4.F's reset detection:
// "both have a stats_reset column and new.stats_reset >
// prev.stats_reset".
func hasStatsReset(prev, cur catalog.Row) bool {
	prevReset, ok1 := prev["stats_reset"]
	curReset, ok2 := cur["stats_reset"]
	if !ok1 || !ok2 || prevReset == nil || curReset == nil {
		return false
	}
	prevT, ok1 := prevReset.(time.Time)
	curT, ok2 := curReset.(time.Time)
	if !ok1 || !ok2 {
		return false
	}
	return curT.After(prevT)
}

// numericValue converts a pgx-decoded column value to float64. ok is
// false if the value is non-numeric (NaN-error territory); a nil input
// is the caller's responsibility to check first (null is a distinct
// case from NaN per spec.md section 7).
func numericValue(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		if math.IsNaN(t) {
			return 0, false
		}
		return t, true
	case float32:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toLabelString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		if s, ok := v.(interface{ String() string }); ok {
			return s.String()
		}
		return fmt.Sprintf("%v", t)
	}
}
