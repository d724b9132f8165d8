package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferDatabasePrefersExplicit(t *testing.T) {
	assert.Equal(t, "explicit_db", inferDatabase("host1/other_db", "explicit_db", "fallback"))
}

func TestInferDatabaseParsesSlashConvention(t *testing.T) {
	assert.Equal(t, "app_db", inferDatabase("db-host-1/app_db", "", "fallback"))
}

func TestInferDatabaseFallsBackWithoutSlash(t *testing.T) {
	assert.Equal(t, "fallback", inferDatabase("db-host-1", "", "fallback"))
}
