package registry

import (
	"sort"

	dto "github.com/prometheus/client_model/go"
)

// dtoMetricFamily wraps the generated protobuf type expfmt's text
// encoder consumes.
type dtoMetricFamily struct {
	MetricFamily *dto.MetricFamily
}

func protoType(k kind) dto.MetricType {
	switch k {
	case kindCounter:
		return dto.MetricType_COUNTER
	case kindGauge:
		return dto.MetricType_GAUGE
	case kindHistogram:
		return dto.MetricType_HISTOGRAM
	default:
		return dto.MetricType_UNTYPED
	}
}

func labelPairs(labels map[string]string) []*dto.LabelPair {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([]*dto.LabelPair, 0, len(names))
	for _, n := range names {
		name, val := n, labels[n]
		pairs = append(pairs, &dto.LabelPair{Name: &name, Value: &val})
	}
	return pairs
}

func (f *family) toProto() *dtoMetricFamily {
	name, help := f.name, f.help
	mtype := protoType(f.kind)
	mf := &dto.MetricFamily{Name: &name, Help: &help, Type: &mtype}

	keys := make([]seriesKey, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		s := f.series[k]
		m := &dto.Metric{Label: labelPairs(s.labels)}

		switch f.kind {
		case kindCounter:
			v := s.value
			m.Counter = &dto.Counter{Value: &v}
		case kindGauge:
			v := s.value
			m.Gauge = &dto.Gauge{Value: &v}
		case kindHistogram:
			m.Histogram = histogramToProto(s.histogram)
		}
		mf.Metric = append(mf.Metric, m)
	}

	return &dtoMetricFamily{MetricFamily: mf}
}

func histogramToProto(h *histogramState) *dto.Histogram {
	bounds := make([]float64, 0, len(h.buckets))
	for b := range h.buckets {
		bounds = append(bounds, b)
	}
	sort.Float64s(bounds)

	buckets := make([]*dto.Bucket, 0, len(bounds))
	for _, b := range bounds {
		bound, count := b, h.buckets[b]
		buckets = append(buckets, &dto.Bucket{UpperBound: &bound, CumulativeCount: &count})
	}

	sum, count := h.sum, h.count
	return &dto.Histogram{SampleSum: &sum, SampleCount: &count, Bucket: buckets}
}
