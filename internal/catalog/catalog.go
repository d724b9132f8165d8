// Package catalog holds the declarative list of introspection queries
// pgstatsmon knows how to run against a Postgres backend, the rules
// for turning their result rows into metrics, and the version-gated
// dispatch that picks which variant of a query applies to a given
// server.
package catalog

import (
	"fmt"
	"strconv"

	"github.com/blang/semver"
)

// ConfigError is raised when the catalog itself violates the schema in
// spec.md section 3. It is fatal at startup, same as config.ConfigError.
type ConfigError struct {
	Query string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("catalog: query %q: %s", e.Query, e.Msg)
}

// MetricSpec describes one counter or gauge derived from a query's
// result column.
type MetricSpec struct {
	Attr string `yaml:"attr"`
	Help string `yaml:"help"`
	Unit string `yaml:"unit,omitempty"`

	// Expires and ExpiryPeriodMs apply to gauges only (spec.md 3, 4.A).
	Expires        bool `yaml:"expires,omitempty"`
	ExpiryPeriodMs int  `yaml:"-"`
}

// MetricName returns the registry-facing name for this spec, given the
// owning query: "<query.name>_<attr>[_<unit>]".
func (m MetricSpec) MetricName(queryName string) string {
	if m.Unit == "" {
		return queryName + "_" + m.Attr
	}
	return queryName + "_" + m.Attr + "_" + m.Unit
}

// Row is one result row, keyed by column name.
type Row = map[string]interface{}

// Query is one entry of the catalog: a name, a way to identify rows
// across polls (Statkey), the columns that become metric labels, the
// SQL text gated by server version, and the metrics it produces.
type Query struct {
	Name            string            `yaml:"name"`
	Statkey         string            `yaml:"statkey,omitempty"`
	MetadataColumns []string          `yaml:"metadata_columns,omitempty"`
	VersionToSQL    map[string]string `yaml:"version_to_sql"`
	Counters        []MetricSpec      `yaml:"counters,omitempty"`
	Gauges          []MetricSpec      `yaml:"gauges,omitempty"`
}

// resolvedSQL picks the SQL text applicable to serverVersionNum,
// implementing spec.md section 4.A's tie-break: the "all" key if
// present, otherwise the maximum version threshold <= serverVersionNum.
// ok is false if no entry applies.
func (q Query) resolvedSQL(serverVersionNum int) (sql string, ok bool) {
	if s, present := q.VersionToSQL["all"]; present {
		return s, true
	}

	best := -1
	for k := range q.VersionToSQL {
		v, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		if v <= serverVersionNum && v > best {
			best = v
		}
	}
	if best == -1 {
		return "", false
	}
	return q.VersionToSQL[strconv.Itoa(best)], true
}

// Resolved is a Query bound to a specific server's applicable SQL text
// and expiry periods, ready for the Collection Engine to run.
type Resolved struct {
	Query
	SQL string
}

// validate checks one query against the schema invariants of
// spec.md section 3.
func validate(q Query) error {
	if q.Name == "" {
		return &ConfigError{Query: q.Name, Msg: "name is required"}
	}
	if len(q.VersionToSQL) == 0 {
		return &ConfigError{Query: q.Name, Msg: "version_to_sql is required"}
	}

	_, hasAll := q.VersionToSQL["all"]
	if hasAll && len(q.VersionToSQL) > 1 {
		return &ConfigError{Query: q.Name, Msg: `mixing "all" with version-keyed entries is forbidden`}
	}
	if !hasAll {
		for k := range q.VersionToSQL {
			if _, err := strconv.Atoi(k); err != nil {
				return &ConfigError{Query: q.Name, Msg: fmt.Sprintf("version_to_sql key %q is neither \"all\" nor an integer", k)}
			}
		}
	}

	labelSet := map[string]struct{}{}
	for _, c := range q.MetadataColumns {
		labelSet[c] = struct{}{}
	}
	seenMetrics := map[string]struct{}{}
	for _, m := range q.Counters {
		name := m.MetricName(q.Name)
		if _, dup := seenMetrics[name]; dup {
			return &ConfigError{Query: q.Name, Msg: fmt.Sprintf("duplicate metric name %q", name)}
		}
		seenMetrics[name] = struct{}{}
	}
	for _, m := range q.Gauges {
		name := m.MetricName(q.Name)
		if _, dup := seenMetrics[name]; dup {
			return &ConfigError{Query: q.Name, Msg: fmt.Sprintf("duplicate metric name %q", name)}
		}
		seenMetrics[name] = struct{}{}
	}

	return nil
}

// Validate checks every query in the catalog against the schema.
func Validate(queries []Query) error {
	seen := map[string]struct{}{}
	for _, q := range queries {
		if err := validate(q); err != nil {
			return err
		}
		if _, dup := seen[q.Name]; dup {
			return &ConfigError{Query: q.Name, Msg: "duplicate query name"}
		}
		seen[q.Name] = struct{}{}
	}
	return nil
}

// GetApplicableQueries validates the catalog, then returns the subset
// of queries applicable to a server reporting serverVersionNum, with
// transient-gauge expiry periods computed as
// poll_interval_ms + 30_000, per spec.md section 4.A.
func GetApplicableQueries(queries []Query, serverVersionNum int, pollIntervalMs int) ([]Resolved, error) {
	if err := Validate(queries); err != nil {
		return nil, err
	}

	out := make([]Resolved, 0, len(queries))
	for _, q := range queries {
		sql, ok := q.resolvedSQL(serverVersionNum)
		if !ok {
			// No version threshold applies to this server; the query is
			// omitted. Caller (engine) logs this at debug.
			continue
		}

		resolved := q
		resolved.Gauges = make([]MetricSpec, len(q.Gauges))
		for i, g := range q.Gauges {
			if g.Expires {
				g.ExpiryPeriodMs = pollIntervalMs + 30000
			}
			resolved.Gauges[i] = g
		}

		out = append(out, Resolved{Query: resolved, SQL: sql})
	}
	return out, nil
}

// ParseServerVersion converts a Postgres `server_version_num`-shaped
// string (e.g. "140005") into both the raw int used for catalog
// dispatch and a semver.Version for logging/diagnostics, following the
// conversion the teacher performs for Pgpool-II's own version string.
func ParseServerVersion(raw string) (int, semver.Version, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, semver.Version{}, fmt.Errorf("parsing server_version_num %q: %w", raw, err)
	}

	// server_version_num is MMmmpp (major, minor, patch) zero-padded;
	// turn it into a semver for human-readable logging only. Dispatch
	// always happens on the raw int.
	major := n / 10000
	minor := (n / 100) % 100
	patch := n % 100
	v := semver.Version{Major: uint64(major), Minor: uint64(minor), Patch: uint64(patch)}
	return n, v, nil
}
