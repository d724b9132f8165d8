// Package discovery implements the backend discovery contract of
// spec.md section 4.D: added(key, backend) / removed(key) events, with
// two bundled providers (Static, Inventory).
package discovery

import "context"

// Backend is the discovery-supplied description of one Postgres
// instance, per spec.md section 3.
type Backend struct {
	Address        string
	Port           int
	DisplayName    string
	TargetDatabase string
}

// EventKind distinguishes the two event types a Provider emits.
type EventKind int

const (
	Added EventKind = iota
	Removed
)

// Event is one discovery notification: an Added event carries Backend,
// a Removed event only needs Key.
type Event struct {
	Kind    EventKind
	Key     string
	Backend Backend
}

// Provider is the discovery contract: a stream of Added/Removed
// events. Run blocks, emitting events on ch, until ctx is canceled.
type Provider interface {
	Run(ctx context.Context, ch chan<- Event) error
}

// inferDatabase fills in TargetDatabase from DisplayName conventions
// when the provider didn't supply one explicitly, per spec.md 4.D:
// "target_database may be inferred from display_name conventions if
// not supplied." The convention: a display name of "host/dbname"
// names its database after the slash; otherwise fall back to the
// process-wide default.
func inferDatabase(displayName, explicit, fallback string) string {
	if explicit != "" {
		return explicit
	}
	for i := len(displayName) - 1; i >= 0; i-- {
		if displayName[i] == '/' {
			return displayName[i+1:]
		}
	}
	return fallback
}
