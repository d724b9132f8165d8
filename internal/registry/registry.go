// Package registry implements the Metric Registry & Exposer of
// spec.md section 4.G: a labeled counter/gauge/histogram store with
// expiry for transient gauges, rendered as Prometheus text format.
package registry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
)

// kind distinguishes the three series types the registry stores.
type kind int

const (
	kindCounter kind = iota
	kindGauge
	kindHistogram
)

// seriesKey identifies one label combination within a metric family.
type seriesKey string

func labelsKey(labels map[string]string) seriesKey {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(labels[n])
		b.WriteByte(';')
	}
	return seriesKey(b.String())
}

type series struct {
	labels    map[string]string
	value     float64
	histogram *histogramState
	expiresAt time.Time // zero means "never expires"
	updatedAt time.Time
}

type histogramState struct {
	buckets map[float64]uint64
	sum     float64
	count   uint64
}

// family is one named metric (counter, gauge, or histogram) across all
// of its label combinations.
type family struct {
	name         string
	help         string
	kind         kind
	expires      bool
	expiryPeriod time.Duration
	series       map[seriesKey]*series
}

// Registry holds every series pgstatsmon has observed, and renders
// them to Prometheus text format on demand. It is safe for concurrent
// updates by worker tasks and concurrent reads by the exposer, per
// spec.md section 5.
type Registry struct {
	mu          sync.Mutex
	families    map[string]*family
	fixedLabels map[string]string
	log         zerolog.Logger
}

// New creates an empty Registry. fixedLabels are applied to every
// series emitted (spec.md section 4.G: "process-wide fixed labels from
// configuration are applied to every series").
func New(fixedLabels map[string]string, log zerolog.Logger) *Registry {
	return &Registry{
		families:    map[string]*family{},
		fixedLabels: fixedLabels,
		log:         log,
	}
}

func (r *Registry) mergeLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+len(r.fixedLabels)+1)
	// Row-supplied labels are least trusted; fixed config labels take
	// precedence over them, per SPEC_FULL.md's merge-precedence
	// supplement to spec.md section 3/4.G.
	for k, v := range labels {
		out[k] = v
	}
	for k, v := range r.fixedLabels {
		out[k] = v
	}
	return out
}

func (r *Registry) getOrCreateFamily(name, help string, k kind) *family {
	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: map[seriesKey]*series{}}
		r.families[name] = f
	}
	return f
}

// AddCounter adds a strictly non-negative delta to a counter series,
// creating the family/series on first use.
func (r *Registry) AddCounter(name, help string, delta float64, labels map[string]string) error {
	if delta < 0 {
		return fmt.Errorf("registry: counter %q: negative delta %v", name, delta)
	}
	merged := r.mergeLabels(labels)
	key := labelsKey(merged)

	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.getOrCreateFamily(name, help, kindCounter)
	s, ok := f.series[key]
	if !ok {
		s = &series{labels: merged}
		f.series[key] = s
	}
	s.value += delta
	s.updatedAt = time.Now()
	return nil
}

// SetGauge sets a gauge series to value, creating it on first use. If
// expiryPeriod is non-zero the series is evicted if not set again
// within that period.
func (r *Registry) SetGauge(name, help string, value float64, labels map[string]string, expiryPeriod time.Duration) {
	merged := r.mergeLabels(labels)
	key := labelsKey(merged)

	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.getOrCreateFamily(name, help, kindGauge)
	f.expires = expiryPeriod > 0
	f.expiryPeriod = expiryPeriod
	s, ok := f.series[key]
	if !ok {
		s = &series{labels: merged}
		f.series[key] = s
	}
	s.value = value
	now := time.Now()
	s.updatedAt = now
	if expiryPeriod > 0 {
		s.expiresAt = now.Add(expiryPeriod)
	}
}

// standard Prometheus default bucket layout, reused verbatim for every
// histogram per spec.md section 6's "standard Prometheus default
// buckets" requirement — observations are recorded in milliseconds,
// a deliberately preserved quirk (see spec.md section 9).
var defBuckets = prometheus.DefBuckets

// ObserveHistogram records value (in milliseconds) into name's
// histogram, creating it on first use.
func (r *Registry) ObserveHistogram(name, help string, value float64, labels map[string]string) {
	merged := r.mergeLabels(labels)
	key := labelsKey(merged)

	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.getOrCreateFamily(name, help, kindHistogram)
	s, ok := f.series[key]
	if !ok {
		s = &series{labels: merged, histogram: &histogramState{buckets: map[float64]uint64{}}}
		f.series[key] = s
	}
	s.histogram.sum += value
	s.histogram.count++
	for _, b := range defBuckets {
		if value <= b {
			s.histogram.buckets[b]++
		}
	}
	s.updatedAt = time.Now()
}

// expireLocked drops gauge series that have gone stale. Must be called
// with r.mu held.
func (r *Registry) expireLocked() {
	now := time.Now()
	for _, f := range r.families {
		if f.kind != kindGauge || !f.expires {
			continue
		}
		for k, s := range f.series {
			if !s.expiresAt.IsZero() && now.After(s.expiresAt) {
				delete(f.series, k)
			}
		}
	}
}

// Collect renders the registry to Prometheus text format
// (content-type "text/plain; version=0.0.4").
func (r *Registry) Collect() ([]byte, error) {
	r.mu.Lock()
	r.expireLocked()

	names := make([]string, 0, len(r.families))
	for n := range r.families {
		names = append(names, n)
	}
	sort.Strings(names)

	mfs := make([]*dtoMetricFamily, 0, len(names))
	for _, n := range names {
		mfs = append(mfs, r.families[n].toProto())
	}
	r.mu.Unlock()

	var b strings.Builder
	enc := expfmt.NewEncoder(&writerCloser{&b}, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf.MetricFamily); err != nil {
			return nil, err
		}
	}
	return []byte(b.String()), nil
}

// writerCloser adapts a strings.Builder to io.Writer for expfmt, which
// only needs Write.
type writerCloser struct{ w *strings.Builder }

func (w *writerCloser) Write(p []byte) (int, error) { return w.w.Write(p) }

// ContentType is the fixed Prometheus text-format content type
// required by spec.md section 6.
const ContentType = "text/plain; version=0.0.4"

// Handler serves GET <route> with the current registry snapshot, and
// rejects any other HTTP method with 405, per spec.md section 6.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := r.Collect()
		if err != nil {
			r.log.Error().Err(err).Msg("failed to render metrics")
			http.Error(w, "internal error rendering metrics", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
}
