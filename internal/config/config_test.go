package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalJSON() string {
	return `{
		"interval": 10000,
		"user": "pgstatsmon",
		"password": "secret",
		"database": "postgres",
		"backend_port": 5432,
		"static": {"dbs": [{"name": "db0", "ip": "10.0.0.1"}]},
		"target": {"ip": "0.0.0.0", "port": 9187}
	}`
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimalJSON()))
	require.NoError(t, err)

	assert.Equal(t, "/metrics", cfg.Target.Route)
	assert.Equal(t, defaultQueryTimeout, cfg.Connections.QueryTimeout)
	assert.Equal(t, defaultConnectTimeout, cfg.Connections.ConnectTimeout)
	assert.Equal(t, defaultConnectRetries, cfg.Connections.ConnectRetries)
	assert.Equal(t, 1, cfg.Connections.MaxConnections)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"interval": 1000, "bogus_field": true}`))
	require.Error(t, err)
}

func TestValidateRejectsMaxConnectionsAboveOne(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimalJSON()))
	require.NoError(t, err)

	cfg.Connections.MaxConnections = 2
	err = cfg.Validate()
	require.Error(t, err)

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "connections.max_connections", cerr.Field)
}

func TestValidateRequiresIntervalPositive(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimalJSON()))
	require.NoError(t, err)

	cfg.Interval = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval")
}

func TestValidateRequiresUserAndDatabase(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimalJSON()))
	require.NoError(t, err)

	cfg.User = ""
	assert.Error(t, cfg.Validate())

	cfg.User = "pgstatsmon"
	cfg.Database = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresBackendPortWithoutStaticEntries(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimalJSON()))
	require.NoError(t, err)

	cfg.BackendPort = 0
	cfg.Static = nil
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend_port")
}

func TestValidateStaticEntriesRequireNameAndIP(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimalJSON()))
	require.NoError(t, err)

	cfg.Static.DBs[0].IP = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "static.dbs[0].ip")
}

func TestValidateVMAPIRequiresURLAndPollInterval(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimalJSON()))
	require.NoError(t, err)

	cfg.VMAPI = &VMAPIDiscovery{}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vmapi.url")

	cfg.VMAPI.URL = "http://vmapi.example.com"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vmapi.pollInterval")
}

func TestUsesInventoryPrefersVMAPIOverStatic(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimalJSON()))
	require.NoError(t, err)
	assert.False(t, cfg.UsesInventory())

	cfg.VMAPI = &VMAPIDiscovery{URL: "http://vmapi.example.com", PollInterval: 30000}
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.UsesInventory())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	require.Error(t, err)
}
