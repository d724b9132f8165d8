package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overlay is an optional, operator-supplied YAML document that adjusts
// the built-in Default catalog without requiring a rebuild: queries
// can be disabled by name, and site-specific queries can be appended.
// This is a supplement beyond spec.md's catalog section, grounded in
// the teacher's own columnUsage struct tags, which are yaml-tagged
// even though the teacher reads its mapping from a Go literal.
type Overlay struct {
	Disable []string `yaml:"disable"`
	Queries []Query  `yaml:"queries"`
}

// LoadOverlayFile reads and parses an overlay document from path. A
// missing file is not an error: an operator who never configured one
// gets the unmodified Default catalog.
func LoadOverlayFile(path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Overlay{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog overlay %q: %w", path, err)
	}

	var ov Overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("parsing catalog overlay %q: %w", path, err)
	}
	return &ov, nil
}

// Apply returns base with ov's disabled query names removed and its
// extra queries appended. The result is not validated; callers should
// run it through Validate before use.
func Apply(base []Query, ov *Overlay) []Query {
	if ov == nil {
		return base
	}
	disabled := make(map[string]struct{}, len(ov.Disable))
	for _, name := range ov.Disable {
		disabled[name] = struct{}{}
	}

	out := make([]Query, 0, len(base)+len(ov.Queries))
	for _, q := range base {
		if _, skip := disabled[q.Name]; skip {
			continue
		}
		out = append(out, q)
	}
	out = append(out, ov.Queries...)
	return out
}
