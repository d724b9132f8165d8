package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverlayFileMissingIsNotAnError(t *testing.T) {
	ov, err := LoadOverlayFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, ov.Disable)
	assert.Empty(t, ov.Queries)
}

func TestLoadOverlayFileParsesDisableAndQueries(t *testing.T) {
	doc := `
disable:
  - pg_vacuum
queries:
  - name: pg_site_custom
    statkey: id
    version_to_sql:
      all: "SELECT 1 AS id"
`
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	ov, err := LoadOverlayFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"pg_vacuum"}, ov.Disable)
	require.Len(t, ov.Queries, 1)
	assert.Equal(t, "pg_site_custom", ov.Queries[0].Name)
}

func TestApplyRemovesDisabledAndAppendsExtra(t *testing.T) {
	base := []Query{
		{Name: "pg_a", VersionToSQL: map[string]string{"all": "SELECT 1"}},
		{Name: "pg_b", VersionToSQL: map[string]string{"all": "SELECT 1"}},
	}
	ov := &Overlay{
		Disable: []string{"pg_a"},
		Queries: []Query{{Name: "pg_c", VersionToSQL: map[string]string{"all": "SELECT 1"}}},
	}

	out := Apply(base, ov)
	names := make([]string, len(out))
	for i, q := range out {
		names[i] = q.Name
	}
	assert.Equal(t, []string{"pg_b", "pg_c"}, names)
}

func TestApplyNilOverlayIsIdentity(t *testing.T) {
	base := []Query{{Name: "pg_a"}}
	assert.Equal(t, base, Apply(base, nil))
}
