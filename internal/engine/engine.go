// Package engine implements the Collection Engine of spec.md
// section 4.F: the periodic tick scheduler, bounded fan-out over
// backends, per-(backend,query) state machine, and the wiring between
// discovery, the connection pool, the bootstrapper, and the metric
// registry.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/pgstatsmon/internal/bootstrap"
	"github.com/TritonDataCenter/pgstatsmon/internal/catalog"
	"github.com/TritonDataCenter/pgstatsmon/internal/config"
	"github.com/TritonDataCenter/pgstatsmon/internal/discovery"
	"github.com/TritonDataCenter/pgstatsmon/internal/pgclient"
	"github.com/TritonDataCenter/pgstatsmon/internal/pool"
	"github.com/TritonDataCenter/pgstatsmon/internal/registry"
)

// fanOutLimit is the fixed fan-out of spec.md sections 4.F and 5:
// "parallel collection across ten backends maximum".
const fanOutLimit = 10

// teardownBackoffAttempts/teardownBackoffStart implement the two
// exponential-backoff attempts at 1s spec.md section 5 specifies for
// draining in-flight work before tearing a removed backend down.
const (
	teardownBackoffAttempts = 2
	teardownBackoffStart    = 1 * time.Second
)

// Engine is the Collection Engine. It owns backend discovery, the
// per-backend pools and runtime state, the bootstrapper, and the
// metric registry.
type Engine struct {
	cfg      *config.Config
	catalog  []catalog.Query
	disc     discovery.Provider
	registry *registry.Registry
	boot     *bootstrap.Bootstrapper
	log      zerolog.Logger

	mu       sync.RWMutex
	backends map[string]*backendEntry

	sem chan struct{}

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	tickMu  sync.Mutex
	stopped bool
}

// New constructs an Engine from its configuration, discovery provider,
// registry, and the raw (unresolved) query catalog.
func New(cfg *config.Config, disc discovery.Provider, reg *registry.Registry, cat []catalog.Query, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		catalog:  cat,
		disc:     disc,
		registry: reg,
		boot:     &bootstrap.Bootstrapper{Log: log.With().Str("component", "bootstrap").Logger()},
		log:      log,
		backends: map[string]*backendEntry{},
		sem:      make(chan struct{}, fanOutLimit),
	}
}

// Start brings up discovery, installs the tick timer, and begins
// polling. It returns once discovery and the ticker goroutine have
// been launched; it does not block for the engine's lifetime.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	events := make(chan discovery.Event, 16)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.disc.Run(runCtx, events); err != nil && runCtx.Err() == nil {
			e.log.Error().Err(err).Msg("discovery provider exited with an error")
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.consumeDiscovery(runCtx, events)
	}()

	interval := time.Duration(e.cfg.Interval) * time.Millisecond
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				e.Tick(runCtx)
			}
		}
	}()

	return nil
}

func (e *Engine) consumeDiscovery(ctx context.Context, events <-chan discovery.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case discovery.Added:
				e.handleAdded(ev.Key, ev.Backend)
			case discovery.Removed:
				e.handleRemoved(ctx, ev.Key)
			}
		}
	}
}

func (e *Engine) handleAdded(key string, backend discovery.Backend) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.backends[key]; ok {
		// Re-discovery of a known backend (e.g. after a standby was
		// previously skipped) refreshes its runtime state so the
		// bootstrapper retries, per spec.md section 9's resolution of
		// the PostgresInRecovery open question.
		existing.mu.Lock()
		existing.needsSetup = true
		existing.isStandby = false
		existing.backend = backend
		existing.mu.Unlock()
		return
	}

	connStr := e.monitoringConnString(backend)
	p := pool.New(e.dialer(backend, connStr), e.cfg.Connections.ConnectRetries, e.log.With().Str("backend", backend.DisplayName).Str("component", "pool").Logger())
	e.backends[key] = newBackendEntry(key, backend, p)
	e.log.Info().Str("backend", backend.DisplayName).Str("key", key).Msg("backend discovered")
}

func (e *Engine) handleRemoved(ctx context.Context, key string) {
	e.mu.Lock()
	be, ok := e.backends[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.backends, key)
	e.mu.Unlock()

	be.drain()

	backoff := teardownBackoffStart
	for i := 0; i < teardownBackoffAttempts; i++ {
		if !be.hasInFlightQueries() {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
	}
	if be.hasInFlightQueries() {
		e.log.Warn().Str("backend", be.backend.DisplayName).Msg("tearing down backend with in-flight queries still pending; discarding results")
	}

	be.pool.Stop()
	e.log.Info().Str("backend", be.backend.DisplayName).Msg("backend removed")
}

func (e *Engine) dialer(backend discovery.Backend, connStr string) pool.Dialer {
	return func(ctx context.Context) (*pgclient.Client, error) {
		connectTimeout := time.Duration(e.cfg.Connections.ConnectTimeout) * time.Millisecond
		dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		log := e.log.With().Str("backend", backend.DisplayName).Str("component", "pgclient").Logger()
		return pgclient.Connect(dialCtx, connStr, log)
	}
}

func (e *Engine) monitoringConnString(backend discovery.Backend) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=prefer",
		e.cfg.User, e.cfg.Password, backend.Address, backend.Port, backend.TargetDatabase)
}

func (e *Engine) superuserConnString(backend discovery.Backend) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=prefer",
		e.cfg.SuperUser, e.cfg.SuperPass, backend.Address, backend.Port, backend.TargetDatabase)
}

// Tick runs one collection round. It is invoked by the scheduler, and
// directly by tests, per spec.md section 4.F's public contract.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.RLock()
	entries := make([]*backendEntry, 0, len(e.backends))
	for _, be := range e.backends {
		entries = append(entries, be)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, be := range entries {
		be := be
		if !be.tryBeginTick() {
			e.log.Warn().Str("backend", be.backend.DisplayName).Msg("previous tick still pending, skipping this backend")
			continue
		}

		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			be.endTick()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-e.sem }()
			defer be.endTick()
			e.collectBackend(ctx, be)
		}()
	}
	wg.Wait()
}

func (e *Engine) collectBackend(ctx context.Context, be *backendEntry) {
	needsSetup, settingUp := be.snapshotSetup()
	if needsSetup {
		if !settingUp {
			e.runBootstrap(ctx, be)
		}
		return
	}

	queries, isStandby := be.snapshotQueries()
	if isStandby {
		// Full skip, per spec.md section 9's resolution of the
		// PostgresInRecovery open question.
		return
	}

	connectTimeout := time.Duration(e.cfg.Connections.ConnectTimeout) * time.Millisecond
	claimCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	handle, err := be.pool.Claim(claimCtx)
	cancel()
	if err != nil {
		e.log.Warn().Err(err).Str("backend", be.backend.DisplayName).Msg("failed to claim connection")
		_ = e.registry.AddCounter("pg_connect_error", "Number of connection claim failures", 1, map[string]string{"backend": be.backend.DisplayName})
		return
	}

	var anyTimeout bool
	for _, q := range queries {
		if e.runQuery(ctx, be, handle.Client, q) == pgclient.ErrQueryTimeout {
			anyTimeout = true
		}
	}

	// A timed-out query marks the connection "had_error" (pgclient
	// tracks this); close rather than release so the pool reconnects,
	// per spec.md section 4.F step 2d.
	if anyTimeout || handle.Client.HadError() {
		handle.Close()
	} else {
		handle.Release()
	}
}

func (e *Engine) runBootstrap(ctx context.Context, be *backendEntry) {
	if !be.beginSetup() {
		return
	}
	defer be.endSetup()

	params := bootstrap.Params{
		SuperuserConnString: e.superuserConnString(be.backend),
		MonitoringUser:      e.cfg.User,
		ConnectTimeout:      time.Duration(e.cfg.Connections.ConnectTimeout) * time.Millisecond,
		QueryTimeout:        time.Duration(e.cfg.Connections.QueryTimeout) * time.Millisecond,
		PollIntervalMs:      e.cfg.Interval,
		Catalog:             e.catalog,
	}

	result, err := e.boot.Run(ctx, params)
	if err != nil {
		if err == bootstrap.ErrPostgresInRecovery {
			be.markStandby()
			return
		}
		e.log.Warn().Err(err).Str("backend", be.backend.DisplayName).Msg("bootstrap failed, will retry next tick")
		return
	}

	be.completeSetup(result.ServerVersionNum, result.Queries)
	e.log.Info().Str("backend", be.backend.DisplayName).Int("queries", len(result.Queries)).Msg("bootstrap complete")
}

// runQuery executes one (backend, query) pair and returns the terminal
// error kind, if any, so collectBackend can decide whether to close or
// release the connection.
func (e *Engine) runQuery(ctx context.Context, be *backendEntry, client *pgclient.Client, q catalog.Resolved) pgclient.ErrKind {
	labels := map[string]string{"backend": be.backend.DisplayName, "query": q.Name}

	be.markInFlight(q.Name)
	start := time.Now()

	timeout := time.Duration(e.cfg.Connections.QueryTimeout) * time.Millisecond
	rowsCh, errCh := client.Query(ctx, q.SQL, timeout)

	var rows []catalog.Row
	for row := range rowsCh {
		rows = append(rows, row)
	}
	err := <-errCh

	be.clearInFlight(q.Name)

	if err != nil {
		var qerr *pgclient.QueryError
		if as, ok := err.(*pgclient.QueryError); ok {
			qerr = as
		} else {
			qerr = &pgclient.QueryError{Kind: pgclient.ErrQueryError, Err: err}
		}

		switch qerr.Kind {
		case pgclient.ErrQueryTimeout:
			_ = e.registry.AddCounter("pg_query_timeout", "Number of query timeouts", 1, labels)
			e.log.Warn().Str("backend", be.backend.DisplayName).Str("query", q.Name).Msg("query timed out")
		default:
			_ = e.registry.AddCounter("pg_query_error", "Number of query errors", 1, labels)
			e.log.Warn().Err(qerr).Str("backend", be.backend.DisplayName).Str("query", q.Name).Msg("query failed")
		}
		return qerr.Kind
	}

	if client.IsDestroyed() {
		return pgclient.ErrNone
	}

	result := e.record(be, q, rows)
	if result.nanErrors > 0 {
		e.log.Warn().Str("backend", be.backend.DisplayName).Str("query", q.Name).Int("count", result.nanErrors).Msg("non-numeric counter values observed this tick")
	}

	_ = e.registry.AddCounter("pg_query_count", "Number of queries executed", 1, map[string]string{"backend": be.backend.DisplayName})
	e.registry.ObserveHistogram(q.Name+"_querytime_ms", "Query execution time", float64(time.Since(start).Milliseconds()), map[string]string{"backend": be.backend.DisplayName})

	return pgclient.ErrNone
}

// rowLabels builds a row's label set from query.metadata_columns, per
// spec.md section 4.F's design note: "Avoid reflective field access;
// the catalog already enumerates the needed column names."
func (e *Engine) rowLabels(be *backendEntry, q catalog.Resolved, row catalog.Row) map[string]string {
	labels := make(map[string]string, len(q.MetadataColumns)+1)
	for _, col := range q.MetadataColumns {
		labels[col] = toLabelString(row[col])
	}
	labels["backend"] = be.backend.DisplayName
	return labels
}

// Stop cancels the timer, drains in-flight work, and closes every
// pool, per spec.md section 4.F/5.
func (e *Engine) Stop(ctx context.Context) {
	e.tickMu.Lock()
	if e.stopped {
		e.tickMu.Unlock()
		return
	}
	e.stopped = true
	e.tickMu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, be := range e.backends {
		be.pool.Stop()
	}
}
