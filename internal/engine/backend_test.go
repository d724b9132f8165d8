package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/pgstatsmon/internal/catalog"
	"github.com/TritonDataCenter/pgstatsmon/internal/discovery"
)

func newTestEntry() *backendEntry {
	return newBackendEntry("static/db0", discovery.Backend{DisplayName: "db0"}, nil)
}

func TestNewBackendEntryStartsNeedingSetup(t *testing.T) {
	be := newTestEntry()
	needsSetup, settingUp := be.snapshotSetup()
	assert.True(t, needsSetup)
	assert.False(t, settingUp)
	assert.Equal(t, stateDiscovered, be.lifecycle)
}

func TestBeginSetupIsNotReentrant(t *testing.T) {
	be := newTestEntry()
	require.True(t, be.beginSetup())
	assert.False(t, be.beginSetup())
	be.endSetup()
	assert.True(t, be.beginSetup())
}

func TestCompleteSetupClearsNeedsSetupAndStoresQueries(t *testing.T) {
	be := newTestEntry()
	be.beginSetup()
	queries := []catalog.Resolved{{Query: catalog.Query{Name: "pg_a"}, SQL: "SELECT 1"}}
	be.completeSetup(140005, queries)

	needsSetup, settingUp := be.snapshotSetup()
	assert.False(t, needsSetup)
	assert.False(t, settingUp)
	assert.Equal(t, stateActive, be.lifecycle)

	gotQueries, isStandby := be.snapshotQueries()
	assert.False(t, isStandby)
	assert.Equal(t, queries, gotQueries)
}

func TestMarkStandbyClearsNeedsSetupButFlagsStandby(t *testing.T) {
	be := newTestEntry()
	be.beginSetup()
	be.markStandby()

	needsSetup, settingUp := be.snapshotSetup()
	assert.False(t, needsSetup)
	assert.False(t, settingUp)

	_, isStandby := be.snapshotQueries()
	assert.True(t, isStandby)
}

func TestTryBeginTickPreventsOverlap(t *testing.T) {
	be := newTestEntry()
	assert.True(t, be.tryBeginTick())
	assert.False(t, be.tryBeginTick())
	be.endTick()
	assert.True(t, be.tryBeginTick())
}

func TestInFlightQueryTracking(t *testing.T) {
	be := newTestEntry()
	assert.False(t, be.isQueryInFlight("pg_a"))
	be.markInFlight("pg_a")
	assert.True(t, be.isQueryInFlight("pg_a"))
	assert.True(t, be.hasInFlightQueries())
	be.clearInFlight("pg_a")
	assert.False(t, be.isQueryInFlight("pg_a"))
	assert.False(t, be.hasInFlightQueries())
}

func TestDrainSetsDrainingLifecycle(t *testing.T) {
	be := newTestEntry()
	be.drain()
	assert.Equal(t, stateDraining, be.lifecycle)
}
