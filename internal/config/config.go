// Package config loads and validates the single JSON configuration
// document that drives pgstatsmon: discovery, connection timeouts,
// the monitoring role, and the scrape endpoint.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ConfigError reports a problem with the configuration document itself,
// as opposed to a runtime failure talking to Postgres.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %s", e.Msg)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

func fieldErr(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// StaticBackend is one entry of config.static.dbs[].
type StaticBackend struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// StaticDiscovery is the `static` discovery provider's configuration block.
type StaticDiscovery struct {
	DBs []StaticBackend `json:"dbs"`
}

// VMAPITags selects which fleet-inventory instances the Inventory
// discovery provider should watch.
type VMAPITags struct {
	VMTagName  string `json:"vm_tag_name"`
	VMTagValue string `json:"vm_tag_value"`
	NICTag     string `json:"nic_tag"`
}

// VMAPIDiscovery is the `vmapi` discovery provider's configuration block.
type VMAPIDiscovery struct {
	URL          string    `json:"url"`
	PollInterval int       `json:"pollInterval"`
	Tags         VMAPITags `json:"tags"`
}

// Connections holds the per-backend connection tuning knobs.
type Connections struct {
	QueryTimeout   int `json:"query_timeout"`
	ConnectTimeout int `json:"connect_timeout"`
	ConnectRetries int `json:"connect_retries"`
	MaxConnections int `json:"max_connections"`
}

// Target is the HTTP scrape endpoint configuration.
type Target struct {
	IP       string            `json:"ip"`
	Port     int               `json:"port"`
	Route    string            `json:"route"`
	Metadata map[string]string `json:"metadata"`
}

// Config is the top-level JSON document described in spec.md section 6.
type Config struct {
	Interval    int              `json:"interval"`
	Connections Connections      `json:"connections"`
	BackendPort int              `json:"backend_port"`
	User        string           `json:"user"`
	Password    string           `json:"password"`
	SuperUser   string           `json:"superuser"`
	SuperPass   string           `json:"superuser_password"`
	Database    string           `json:"database"`
	Static      *StaticDiscovery `json:"static,omitempty"`
	VMAPI       *VMAPIDiscovery  `json:"vmapi,omitempty"`
	Target      Target           `json:"target"`
}

const (
	defaultRoute          = "/metrics"
	defaultQueryTimeout   = 5000
	defaultConnectTimeout = 5000
	defaultConnectRetries = 3
)

// Load reads and parses the configuration document at path, then
// validates it, failing fast with a ConfigError on any violation.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config %q: %w", path, err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes a configuration document from r and validates it.
func Parse(r io.Reader) (*Config, error) {
	var c Config
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, fieldErr("", "invalid JSON: %s", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Target.Route == "" {
		c.Target.Route = defaultRoute
	}
	if c.Connections.QueryTimeout == 0 {
		c.Connections.QueryTimeout = defaultQueryTimeout
	}
	if c.Connections.ConnectTimeout == 0 {
		c.Connections.ConnectTimeout = defaultConnectTimeout
	}
	if c.Connections.ConnectRetries == 0 {
		c.Connections.ConnectRetries = defaultConnectRetries
	}
	if c.Connections.MaxConnections == 0 {
		c.Connections.MaxConnections = 1
	}
}

// Validate enforces the invariants spec.md section 6 lays out. Every
// violation is returned as a *ConfigError.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fieldErr("interval", "must be a positive number of milliseconds")
	}
	if c.Connections.MaxConnections > 1 {
		return fieldErr("connections.max_connections", "must be 1: the core maintains at most one live connection per backend")
	}
	if c.User == "" {
		return fieldErr("user", "monitoring role name is required")
	}
	if c.Database == "" {
		return fieldErr("database", "default target database is required")
	}
	if c.BackendPort <= 0 {
		return fieldErr("backend_port", "required: the Postgres port used for every discovered backend")
	}

	if c.Static != nil {
		for i, db := range c.Static.DBs {
			if db.Name == "" {
				return fieldErr(fmt.Sprintf("static.dbs[%d].name", i), "required")
			}
			if db.IP == "" {
				return fieldErr(fmt.Sprintf("static.dbs[%d].ip", i), "required")
			}
		}
	}

	if c.VMAPI != nil {
		if c.VMAPI.URL == "" {
			return fieldErr("vmapi.url", "required when vmapi discovery is configured")
		}
		if c.VMAPI.PollInterval <= 0 {
			return fieldErr("vmapi.pollInterval", "must be a positive number of milliseconds")
		}
	}

	if c.Target.Port < 0 {
		return fieldErr("target.port", "must not be negative")
	}

	return nil
}

// UsesInventory reports whether the vmapi provider should win over the
// static provider, per spec.md section 4.D: "when both are configured,
// the inventory provider wins."
func (c *Config) UsesInventory() bool {
	return c.VMAPI != nil
}
