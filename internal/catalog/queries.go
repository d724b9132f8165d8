package catalog

// Default is the canonical list of statistics pgstatsmon knows how to
// derive, per spec.md section 6's catalog coverage table. It is a data
// literal, validated by Validate, not a function-builder, per the
// design note in spec.md section 9.
var Default = []Query{
	{
		Name:            "pg_stat_user_tables",
		Statkey:         "relid",
		MetadataColumns: []string{"schemaname", "relname"},
		VersionToSQL: map[string]string{
			"all": `SELECT relid, schemaname, relname, seq_scan, seq_tup_read, idx_scan, idx_tup_fetch,
				n_tup_ins, n_tup_upd, n_tup_del, n_tup_hot_upd, n_live_tup, n_dead_tup,
				vacuum_count, autovacuum_count, analyze_count, autoanalyze_count
				FROM pg_catalog.pg_stat_user_tables`,
		},
		Counters: []MetricSpec{
			{Attr: "seq_scan", Help: "Number of sequential scans initiated on this table"},
			{Attr: "seq_tup_read", Help: "Number of live rows fetched by sequential scans"},
			{Attr: "idx_scan", Help: "Number of index scans initiated on this table"},
			{Attr: "idx_tup_fetch", Help: "Number of live rows fetched by index scans"},
			{Attr: "n_tup_ins", Help: "Number of rows inserted"},
			{Attr: "n_tup_upd", Help: "Number of rows updated"},
			{Attr: "n_tup_del", Help: "Number of rows deleted"},
			{Attr: "n_tup_hot_upd", Help: "Number of rows HOT updated"},
			{Attr: "vacuum_count", Help: "Number of times this table has been manually vacuumed"},
			{Attr: "autovacuum_count", Help: "Number of times this table has been vacuumed by autovacuum"},
			{Attr: "analyze_count", Help: "Number of times this table has been manually analyzed"},
			{Attr: "autoanalyze_count", Help: "Number of times this table has been analyzed by autoanalyze"},
		},
		Gauges: []MetricSpec{
			{Attr: "n_live_tup", Help: "Estimated number of live rows"},
			{Attr: "n_dead_tup", Help: "Estimated number of dead rows"},
		},
	},
	{
		Name:            "pg_statio_user_tables",
		Statkey:         "relid",
		MetadataColumns: []string{"schemaname", "relname"},
		VersionToSQL: map[string]string{
			"all": `SELECT relid, schemaname, relname, heap_blks_read, heap_blks_hit,
				idx_blks_read, idx_blks_hit, toast_blks_read, toast_blks_hit,
				tidx_blks_read, tidx_blks_hit
				FROM pg_catalog.pg_statio_user_tables`,
		},
		Counters: []MetricSpec{
			{Attr: "heap_blks_read", Help: "Number of disk blocks read from this table", Unit: "blocks"},
			{Attr: "heap_blks_hit", Help: "Number of buffer hits in this table", Unit: "blocks"},
			{Attr: "idx_blks_read", Help: "Number of disk blocks read from all indexes on this table", Unit: "blocks"},
			{Attr: "idx_blks_hit", Help: "Number of buffer hits in all indexes on this table", Unit: "blocks"},
			{Attr: "toast_blks_read", Help: "Number of disk blocks read from this table's TOAST table", Unit: "blocks"},
			{Attr: "toast_blks_hit", Help: "Number of buffer hits in this table's TOAST table", Unit: "blocks"},
			{Attr: "tidx_blks_read", Help: "Number of disk blocks read from this table's TOAST index", Unit: "blocks"},
			{Attr: "tidx_blks_hit", Help: "Number of buffer hits in this table's TOAST index", Unit: "blocks"},
		},
	},
	{
		Name:            "pg_statio_user_indexes",
		Statkey:         "indexrelid",
		MetadataColumns: []string{"schemaname", "relname", "indexrelname"},
		VersionToSQL: map[string]string{
			"all": `SELECT indexrelid, schemaname, relname, indexrelname, idx_blks_read, idx_blks_hit
				FROM pg_catalog.pg_statio_user_indexes`,
		},
		Counters: []MetricSpec{
			{Attr: "idx_blks_read", Help: "Number of disk blocks read from this index", Unit: "blocks"},
			{Attr: "idx_blks_hit", Help: "Number of buffer hits in this index", Unit: "blocks"},
		},
	},
	{
		Name:            "pg_stat_replication",
		Statkey:         "pid",
		MetadataColumns: []string{"sync_state"},
		VersionToSQL: map[string]string{
			// 9.4 - 9.6 expose *_location columns; 10+ renamed them to *_lsn.
			// Both variants read through public.get_stat_replication(), the
			// SECURITY DEFINER wrapper bootstrap installs: the restricted
			// monitoring role has no grant on pg_stat_replication's columns.
			"90400": `SELECT pid, sync_state,
				(sent_location - '0/0'::pg_lsn)::bigint AS wal_sent,
				(write_location - '0/0'::pg_lsn)::bigint AS replica_wal_written,
				(flush_location - '0/0'::pg_lsn)::bigint AS replica_wal_flushed,
				(replay_location - '0/0'::pg_lsn)::bigint AS replica_wal_replayed
				FROM public.get_stat_replication()`,
			"100000": `SELECT pid, sync_state,
				(sent_lsn - '0/0'::pg_lsn)::bigint AS wal_sent,
				(write_lsn - '0/0'::pg_lsn)::bigint AS replica_wal_written,
				(flush_lsn - '0/0'::pg_lsn)::bigint AS replica_wal_flushed,
				(replay_lsn - '0/0'::pg_lsn)::bigint AS replica_wal_replayed
				FROM public.get_stat_replication()`,
		},
		// Absolute WAL byte positions since backend start, exposed as
		// gauges: see spec.md section 9's open question on the v1->v2
		// counter-vs-gauge migration. This catalog entry preserves v2
		// (gauge) semantics.
		Gauges: []MetricSpec{
			{Attr: "wal_sent", Help: "WAL position sent to this replica", Unit: "bytes"},
			{Attr: "replica_wal_written", Help: "WAL position written by this replica", Unit: "bytes"},
			{Attr: "replica_wal_flushed", Help: "WAL position flushed by this replica", Unit: "bytes"},
			{Attr: "replica_wal_replayed", Help: "WAL position replayed by this replica", Unit: "bytes"},
		},
	},
	{
		Name:            "pg_recovery",
		Statkey:         "",
		MetadataColumns: []string{},
		VersionToSQL: map[string]string{
			"all": `SELECT
				CASE WHEN pg_is_in_recovery() THEN NULL ELSE (pg_current_wal_insert_lsn() - '0/0'::pg_lsn)::bigint END AS wal_insert,
				CASE WHEN pg_is_in_recovery() THEN NULL ELSE (pg_current_wal_flush_lsn() - '0/0'::pg_lsn)::bigint END AS wal_flush,
				CASE WHEN pg_is_in_recovery() THEN (pg_last_wal_replay_lsn() - '0/0'::pg_lsn)::bigint ELSE NULL END AS wal_replay,
				CASE WHEN pg_is_in_recovery() THEN (pg_last_wal_receive_lsn() - '0/0'::pg_lsn)::bigint ELSE NULL END AS wal_receive`,
		},
		Gauges: []MetricSpec{
			{Attr: "wal_insert", Help: "Local WAL insert position", Unit: "bytes"},
			{Attr: "wal_flush", Help: "Local WAL flush position", Unit: "bytes"},
			{Attr: "wal_replay", Help: "Local WAL replay position (standby only)", Unit: "bytes"},
			{Attr: "wal_receive", Help: "Local WAL receive position (standby only)", Unit: "bytes"},
		},
	},
	{
		Name:            "pg_stat_activity",
		Statkey:         "",
		MetadataColumns: []string{"datname", "state"},
		VersionToSQL: map[string]string{
			"all": `SELECT d.datname AS datname, s.state AS state, COALESCE(a.count, 0) AS connections
				FROM pg_catalog.pg_database d
				CROSS JOIN (VALUES ('active'), ('idle'), ('idle in transaction'),
					('idle in transaction (aborted)'), ('fastpath function call'), ('disabled')) AS s(state)
				LEFT JOIN (
					SELECT datname, state, count(*) AS count
					FROM public.get_stat_activity()
					GROUP BY datname, state
				) a ON a.datname = d.datname AND a.state = s.state
				WHERE d.datname NOT LIKE 'template%'`,
		},
		Gauges: []MetricSpec{
			{Attr: "connections", Help: "Number of backends in a given state, per database"},
		},
	},
	{
		Name:            "pg_stat_database",
		Statkey:         "datid",
		MetadataColumns: []string{"datname"},
		VersionToSQL: map[string]string{
			"all": `SELECT datid, datname, numbackends, xact_commit, xact_rollback,
				blks_read, blks_hit, tup_returned, tup_fetched, tup_inserted, tup_updated, tup_deleted,
				deadlocks, temp_files, temp_bytes
				FROM pg_catalog.pg_stat_database
				WHERE datname NOT IN ('postgres') AND datname NOT LIKE 'template%'`,
		},
		Counters: []MetricSpec{
			{Attr: "xact_commit", Help: "Number of transactions committed"},
			{Attr: "xact_rollback", Help: "Number of transactions rolled back"},
			{Attr: "blks_read", Help: "Number of disk blocks read", Unit: "blocks"},
			{Attr: "blks_hit", Help: "Number of buffer hits", Unit: "blocks"},
			{Attr: "tup_returned", Help: "Number of rows returned by queries"},
			{Attr: "tup_fetched", Help: "Number of rows fetched by queries"},
			{Attr: "tup_inserted", Help: "Number of rows inserted"},
			{Attr: "tup_updated", Help: "Number of rows updated"},
			{Attr: "tup_deleted", Help: "Number of rows deleted"},
			{Attr: "deadlocks", Help: "Number of deadlocks detected"},
			{Attr: "temp_files", Help: "Number of temporary files created"},
			{Attr: "temp_bytes", Help: "Total size of temporary files written", Unit: "bytes"},
		},
		Gauges: []MetricSpec{
			{Attr: "numbackends", Help: "Number of backends currently connected to this database"},
		},
	},
	{
		Name:            "pg_relation_size",
		Statkey:         "relid",
		MetadataColumns: []string{"schemaname", "relname"},
		VersionToSQL: map[string]string{
			"all": `SELECT c.oid AS relid, n.nspname AS schemaname, c.relname AS relname,
				c.reltuples::bigint AS row_estimate,
				pg_total_relation_size(c.oid) AS total_size,
				pg_indexes_size(c.oid) AS index_size,
				COALESCE(pg_total_relation_size(c.reltoastrelid), 0) AS toast_size
				FROM pg_catalog.pg_class c
				JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
				WHERE c.relkind = 'r' AND n.nspname = ANY(current_schemas(false))`,
		},
		Gauges: []MetricSpec{
			{Attr: "row_estimate", Help: "Estimated row count"},
			{Attr: "total_size", Help: "Total on-disk size including indexes and TOAST", Unit: "bytes"},
			{Attr: "index_size", Help: "On-disk size of all indexes", Unit: "bytes"},
			{Attr: "toast_size", Help: "On-disk size of the TOAST table", Unit: "bytes"},
		},
	},
	{
		Name:            "pg_stat_bgwriter",
		Statkey:         "",
		MetadataColumns: []string{},
		VersionToSQL: map[string]string{
			"all": `SELECT checkpoints_timed, checkpoints_req, checkpoint_write_time, checkpoint_sync_time,
				buffers_checkpoint, buffers_clean, maxwritten_clean, buffers_backend,
				buffers_backend_fsync, buffers_alloc
				FROM pg_catalog.pg_stat_bgwriter`,
		},
		Counters: []MetricSpec{
			{Attr: "checkpoints_timed", Help: "Number of scheduled checkpoints performed"},
			{Attr: "checkpoints_req", Help: "Number of requested checkpoints performed"},
			{Attr: "checkpoint_write_time", Help: "Time spent writing checkpoint files to disk", Unit: "ms"},
			{Attr: "checkpoint_sync_time", Help: "Time spent synchronizing checkpoint files to disk", Unit: "ms"},
			{Attr: "buffers_checkpoint", Help: "Number of buffers written during checkpoints"},
			{Attr: "buffers_clean", Help: "Number of buffers written by the background writer"},
			{Attr: "maxwritten_clean", Help: "Number of times the background writer stopped a cleaning scan early"},
			{Attr: "buffers_backend", Help: "Number of buffers written directly by a backend"},
			{Attr: "buffers_backend_fsync", Help: "Number of fsync calls executed directly by a backend"},
			{Attr: "buffers_alloc", Help: "Number of buffers allocated"},
		},
	},
	{
		Name:            "pg_vacuum",
		Statkey:         "relid",
		MetadataColumns: []string{"schemaname", "relname"},
		VersionToSQL: map[string]string{
			"all": `SELECT c.oid AS relid, n.nspname AS schemaname, c.relname AS relname,
				age(c.relfrozenxid) AS xid_age,
				2146483648 - age(c.relfrozenxid) AS tx_until_wraparound_autovacuum
				FROM pg_catalog.pg_class c
				JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
				WHERE c.relkind = 'r' AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')`,
		},
		Gauges: []MetricSpec{
			{Attr: "xid_age", Help: "Transaction XID age of this relation"},
			{Attr: "tx_until_wraparound_autovacuum", Help: "Number of transactions remaining before forced wraparound autovacuum"},
		},
	},
	{
		Name:            "pg_stat_progress_vacuum",
		Statkey:         "pid",
		MetadataColumns: []string{"datname", "relname", "phase"},
		VersionToSQL: map[string]string{
			// Reads through public.get_stat_progress_vacuum(), the
			// SECURITY DEFINER wrapper bootstrap installs: the restricted
			// monitoring role cannot see other sessions' rows in
			// pg_stat_progress_vacuum directly.
			"90600": `SELECT v.pid AS pid, d.datname AS datname, c.relname AS relname, v.phase AS phase,
				v.heap_blks_total, v.heap_blks_scanned, v.heap_blks_vacuumed,
				v.index_vacuum_count, v.max_dead_tuples, v.num_dead_tuples
				FROM public.get_stat_progress_vacuum() v
				JOIN pg_catalog.pg_database d ON d.oid = v.datid
				JOIN pg_catalog.pg_class c ON c.oid = v.relid`,
		},
		Gauges: []MetricSpec{
			{Attr: "heap_blks_total", Help: "Total number of heap blocks in the relation being vacuumed", Expires: true},
			{Attr: "heap_blks_scanned", Help: "Number of heap blocks scanned so far", Expires: true},
			{Attr: "heap_blks_vacuumed", Help: "Number of heap blocks vacuumed so far", Expires: true},
			{Attr: "index_vacuum_count", Help: "Number of completed index vacuum cycles", Expires: true},
			{Attr: "max_dead_tuples", Help: "Number of dead tuples the vacuum run can store before a cycle", Expires: true},
			{Attr: "num_dead_tuples", Help: "Number of dead tuples collected since the last index vacuum cycle", Expires: true},
		},
	},
}
