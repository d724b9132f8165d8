// Package bootstrap implements the Backend Bootstrapper of
// spec.md section 4.E: on first contact as superuser, detect standby,
// create the restricted monitoring role, install helper views, and
// pick the version-applicable query set.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/pgstatsmon/internal/catalog"
)

// ErrPostgresInRecovery is returned when the target is a standby: the
// engine treats this as "bootstrap complete, but skip collection for
// this backend until the next added refresh" per spec.md section 4.E
// and its Open Question in section 9 (this implementation takes the
// "full skip" resolution the spec recommends).
var ErrPostgresInRecovery = errors.New("bootstrap: target is a standby (pg_is_in_recovery)")

// Params bundles everything the Bootstrapper needs to set up one
// backend, separate from the monitoring connection string the
// Collection Engine uses afterward.
type Params struct {
	// SuperuserConnString connects as the temporary superuser, per
	// spec.md 4.E step 1: "distinct from the monitoring user".
	SuperuserConnString string
	MonitoringUser      string
	ConnectTimeout      time.Duration
	QueryTimeout        time.Duration
	PollIntervalMs      int
	Catalog             []catalog.Query
}

// Result is what a successful bootstrap produces: the server's version
// and the resolved, version-applicable query set.
type Result struct {
	ServerVersionNum int
	Queries          []catalog.Resolved
}

// Bootstrapper runs the bootstrap algorithm of spec.md section 4.E.
type Bootstrapper struct {
	Log zerolog.Logger
}

// Run executes the bootstrap algorithm against one backend. On any
// failure other than ErrPostgresInRecovery, the caller should leave
// needs_setup set and retry on a later tick.
func (b *Bootstrapper) Run(ctx context.Context, p Params) (*Result, error) {
	connectCtx, cancel := context.WithTimeout(ctx, p.ConnectTimeout)
	defer cancel()

	conn, err := pgx.Connect(connectCtx, p.SuperuserConnString)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connecting as superuser: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	queryCtx, cancel := context.WithTimeout(ctx, p.QueryTimeout)
	defer cancel()

	var inRecovery bool
	if err := conn.QueryRow(queryCtx, "SELECT pg_is_in_recovery()").Scan(&inRecovery); err != nil {
		return nil, fmt.Errorf("bootstrap: checking pg_is_in_recovery: %w", err)
	}
	if inRecovery {
		b.Log.Info().Msg("backend is a standby; bootstrap complete, collection will be skipped")
		return nil, ErrPostgresInRecovery
	}

	var versionRaw string
	if err := conn.QueryRow(queryCtx, "SHOW server_version_num").Scan(&versionRaw); err != nil {
		return nil, fmt.Errorf("bootstrap: reading server_version_num: %w", err)
	}
	versionNum, semverVersion, err := catalog.ParseServerVersion(versionRaw)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	b.Log.Info().Int("server_version_num", versionNum).Str("server_version", semverVersion.String()).Msg("detected server version")

	if err := b.createMonitoringRole(queryCtx, conn, p.MonitoringUser); err != nil {
		return nil, err
	}
	if err := b.installHelperViews(queryCtx, conn, versionNum); err != nil {
		return nil, err
	}

	queries, err := catalog.GetApplicableQueries(p.Catalog, versionNum, p.PollIntervalMs)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: resolving applicable queries: %w", err)
	}

	return &Result{ServerVersionNum: versionNum, Queries: queries}, nil
}

// createMonitoringRoleSQLTemplate is part of the external contract: its name
// is referenced by helper-view SECURITY DEFINER grants operators may
// layer on top, per spec.md section 6.
const createMonitoringRoleSQLTemplate = `CREATE ROLE %s WITH NOSUPERUSER NOCREATEDB NOCREATEROLE NOINHERIT NOREPLICATION CONNECTION LIMIT 2 LOGIN`

func (b *Bootstrapper) createMonitoringRole(ctx context.Context, conn *pgx.Conn, user string) error {
	sql := fmt.Sprintf(createMonitoringRoleSQLTemplate, pgx.Identifier{user}.Sanitize())
	if _, err := conn.Exec(ctx, sql); err != nil {
		if isAlreadyExists(err) {
			b.Log.Debug().Str("role", user).Msg("monitoring role already exists")
			return nil
		}
		return fmt.Errorf("bootstrap: creating monitoring role: %w", err)
	}
	return nil
}

// The three CREATE OR REPLACE FUNCTION statements are part of the
// external contract (spec.md section 6): their names are referenced
// by catalog query SQL (e.g. pg_stat_activity's
// public.get_stat_activity()).
const (
	statActivityViewSQL = `CREATE OR REPLACE FUNCTION public.get_stat_activity() RETURNS SETOF pg_catalog.pg_stat_activity AS
		'SELECT * FROM pg_catalog.pg_stat_activity;' LANGUAGE SQL VOLATILE SECURITY DEFINER`

	statReplicationViewSQL = `CREATE OR REPLACE FUNCTION public.get_stat_replication() RETURNS SETOF pg_catalog.pg_stat_replication AS
		'SELECT * FROM pg_catalog.pg_stat_replication;' LANGUAGE SQL VOLATILE SECURITY DEFINER`

	statProgressVacuumViewSQL = `CREATE OR REPLACE FUNCTION public.get_stat_progress_vacuum() RETURNS SETOF pg_catalog.pg_stat_progress_vacuum AS
		'SELECT * FROM pg_catalog.pg_stat_progress_vacuum;' LANGUAGE SQL VOLATILE SECURITY DEFINER`

	// minVacuumProgressVersion is the server version pg_stat_progress_vacuum
	// first appears in (9.6), per spec.md section 6's catalog entry.
	minVacuumProgressVersion = 90600
)

func (b *Bootstrapper) installHelperViews(ctx context.Context, conn *pgx.Conn, serverVersionNum int) error {
	if _, err := conn.Exec(ctx, statActivityViewSQL); err != nil {
		return fmt.Errorf("bootstrap: installing get_stat_activity: %w", err)
	}
	if _, err := conn.Exec(ctx, statReplicationViewSQL); err != nil {
		return fmt.Errorf("bootstrap: installing get_stat_replication: %w", err)
	}

	if serverVersionNum < minVacuumProgressVersion {
		b.Log.Warn().Int("server_version_num", serverVersionNum).Msg("skipping vacuum-progress wrapper: pg_stat_progress_vacuum not available on this server")
		return nil
	}
	if _, err := conn.Exec(ctx, statProgressVacuumViewSQL); err != nil {
		return fmt.Errorf("bootstrap: installing get_stat_progress_vacuum: %w", err)
	}
	return nil
}

// isAlreadyExists treats Postgres's duplicate_object (42710) error as
// success, per spec.md 4.E step 4: "treat already exists as success".
func isAlreadyExists(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "42710"
	}
	return false
}
