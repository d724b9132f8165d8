package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

// InventoryInstance is one record of the fleet-inventory HTTP
// response, filtered to the fields this provider cares about.
type InventoryInstance struct {
	UUID     string            `json:"uuid"`
	Hostname string            `json:"hostname"`
	Tags     map[string]string `json:"tags"`
	NICs     []InventoryNIC    `json:"nics"`
}

// InventoryNIC is one network interface of an inventory instance.
type InventoryNIC struct {
	Tag string `json:"nic_tag"`
	IP  string `json:"ip"`
}

// Inventory polls an external fleet-inventory HTTP service at a
// configured interval and diffs successive responses into
// Added/Removed events, per spec.md section 4.D. Its internal polling
// concurrency, caching, and failure handling beyond the diff itself
// are the external collaborator's responsibility; this is the bundled
// reference implementation.
type Inventory struct {
	URL          string
	PollInterval time.Duration
	TagName      string
	TagValue     string
	NICTagRegex  string
	Port         int
	Database     string
	HTTPClient   *http.Client
	Log          zerolog.Logger
}

// Run polls Inventory.URL every PollInterval, matching instances whose
// tags satisfy TagName/TagValue and whose NIC tag matches NICTagRegex,
// and diffs the result against the previous poll.
func (inv *Inventory) Run(ctx context.Context, ch chan<- Event) error {
	client := inv.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	nicRe, err := regexp.Compile(inv.NICTagRegex)
	if err != nil {
		return fmt.Errorf("invalid nic_tag_regex %q: %w", inv.NICTagRegex, err)
	}

	interval := inv.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	known := map[string]Backend{}

	poll := func() {
		instances, err := inv.fetch(ctx, client)
		if err != nil {
			inv.Log.Warn().Err(err).Msg("inventory poll failed")
			return
		}

		current := map[string]Backend{}
		for _, inst := range instances {
			if inst.Tags[inv.TagName] != inv.TagValue {
				continue
			}
			var ip string
			for _, nic := range inst.NICs {
				if nicRe.MatchString(nic.Tag) {
					ip = nic.IP
					break
				}
			}
			if ip == "" {
				continue
			}
			current[inst.UUID] = Backend{
				Address:        ip,
				Port:           inv.Port,
				DisplayName:    inst.Hostname,
				TargetDatabase: inferDatabase(inst.Hostname, "", inv.Database),
			}
		}

		for key, backend := range current {
			if old, ok := known[key]; !ok || old != backend {
				select {
				case ch <- Event{Kind: Added, Key: key, Backend: backend}:
				case <-ctx.Done():
					return
				}
			}
		}
		for key := range known {
			if _, ok := current[key]; !ok {
				select {
				case ch <- Event{Kind: Removed, Key: key}:
				case <-ctx.Done():
					return
				}
			}
		}
		known = current
	}

	poll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			poll()
		}
	}
}

func (inv *Inventory) fetch(ctx context.Context, client *http.Client) ([]InventoryInstance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inv.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inventory service returned status %d", resp.StatusCode)
	}

	var instances []InventoryInstance
	if err := json.NewDecoder(resp.Body).Decode(&instances); err != nil {
		return nil, fmt.Errorf("decoding inventory response: %w", err)
	}
	return instances, nil
}
