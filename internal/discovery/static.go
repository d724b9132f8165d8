package discovery

import (
	"context"
	"fmt"
)

// StaticEntry is one configured backend for the Static provider.
type StaticEntry struct {
	Name string
	IP   string
}

// Static is the discovery provider backed by a fixed configuration
// list: it emits Added once per entry at startup and never emits
// Removed, per spec.md section 4.D.
type Static struct {
	Entries  []StaticEntry
	Port     int
	Database string
}

// Run emits one Added event per configured entry, then blocks until
// ctx is canceled (a static list has nothing further to report).
func (s *Static) Run(ctx context.Context, ch chan<- Event) error {
	for _, e := range s.Entries {
		backend := Backend{
			Address:        e.IP,
			Port:           s.Port,
			DisplayName:    e.Name,
			TargetDatabase: inferDatabase(e.Name, "", s.Database),
		}
		ev := Event{Kind: Added, Key: fmt.Sprintf("static/%s", e.Name), Backend: backend}
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	<-ctx.Done()
	return ctx.Err()
}
