package engine

import (
	"sync"
	"time"

	"github.com/TritonDataCenter/pgstatsmon/internal/catalog"
	"github.com/TritonDataCenter/pgstatsmon/internal/discovery"
	"github.com/TritonDataCenter/pgstatsmon/internal/pool"
)

// lifecycleState implements the small state machine described in
// spec.md section 9: Unknown -> Discovered -> Bootstrapped -> Active
// -> Draining -> Gone.
type lifecycleState int

const (
	stateDiscovered lifecycleState = iota
	stateBootstrapped
	stateActive
	stateDraining
	stateGone
)

// backendEntry is the per-Backend runtime state of spec.md section 3,
// touched only by the single task currently owning that backend plus
// registry emission (spec.md section 5).
type backendEntry struct {
	key     string
	backend discovery.Backend
	pool    *pool.Pool

	mu              sync.Mutex
	lifecycle       lifecycleState
	needsSetup      bool
	settingUp       bool
	serverVersion   *int
	queries         []catalog.Resolved
	isStandby       bool
	lastRows        map[string]map[string]catalog.Row // query name -> row key -> row
	inFlightTick    bool
	inFlightQueries map[string]time.Time
}

func newBackendEntry(key string, backend discovery.Backend, p *pool.Pool) *backendEntry {
	return &backendEntry{
		key:             key,
		backend:         backend,
		pool:            p,
		lifecycle:       stateDiscovered,
		needsSetup:      true,
		lastRows:        map[string]map[string]catalog.Row{},
		inFlightQueries: map[string]time.Time{},
	}
}

// tryBeginTick marks this backend as having an in-flight tick task, if
// it doesn't already have one. Implements the "still pending" skip of
// spec.md sections 4.F/5.
func (e *backendEntry) tryBeginTick() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlightTick {
		return false
	}
	e.inFlightTick = true
	return true
}

func (e *backendEntry) endTick() {
	e.mu.Lock()
	e.inFlightTick = false
	e.mu.Unlock()
}

func (e *backendEntry) markInFlight(queryName string) {
	e.mu.Lock()
	e.inFlightQueries[queryName] = time.Now()
	e.mu.Unlock()
}

func (e *backendEntry) clearInFlight(queryName string) {
	e.mu.Lock()
	delete(e.inFlightQueries, queryName)
	e.mu.Unlock()
}

func (e *backendEntry) isQueryInFlight(queryName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inFlightQueries[queryName]
	return ok
}

func (e *backendEntry) snapshotSetup() (needsSetup, settingUp bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.needsSetup, e.settingUp
}

func (e *backendEntry) beginSetup() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settingUp {
		return false
	}
	e.settingUp = true
	return true
}

func (e *backendEntry) endSetup() {
	e.mu.Lock()
	e.settingUp = false
	e.mu.Unlock()
}

func (e *backendEntry) completeSetup(serverVersion int, queries []catalog.Resolved) {
	e.mu.Lock()
	e.needsSetup = false
	e.settingUp = false
	e.serverVersion = &serverVersion
	e.queries = queries
	e.lifecycle = stateActive
	e.isStandby = false
	e.mu.Unlock()
}

// markStandby records that bootstrap completed but detected a standby;
// per spec.md section 4.E/9, needs_setup clears but the engine skips
// collection for this backend until the next discovery refresh.
func (e *backendEntry) markStandby() {
	e.mu.Lock()
	e.needsSetup = false
	e.settingUp = false
	e.isStandby = true
	e.lifecycle = stateBootstrapped
	e.mu.Unlock()
}

func (e *backendEntry) snapshotQueries() ([]catalog.Resolved, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queries, e.isStandby
}

func (e *backendEntry) drain() {
	e.mu.Lock()
	e.lifecycle = stateDraining
	e.mu.Unlock()
}

func (e *backendEntry) hasInFlightQueries() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inFlightQueries) > 0
}
