package observability

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

var (
	ErrLabelSchemaMismatch = errors.New("label schema mismatch")
	ErrInvalidMeasurement  = errors.New("invalid measurement")
	ErrMetricKindMismatch  = errors.New("metric kind mismatch")
)

// MetricKind is the type a metric name is bound to on first use.
type MetricKind string

const (
	KindCounter   MetricKind = "counter"
	KindHistogram MetricKind = "histogram"
	KindGauge     MetricKind = "gauge"
)

// Labels is the label set of a single sample.
type Labels map[string]string

// DefaultLatencyBuckets covers 5ms to 10s.
var DefaultLatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Namespace      string
	Buckets        []float64
	RuntimeMetrics bool
}

type metric struct {
	kind      MetricKind
	help      string
	labelKeys []string
	counter   *prometheus.CounterVec
	histogram *prometheus.HistogramVec
	gauge     *prometheus.GaugeVec
}

// Registry holds the service's metrics. A metric is created on first use and
// keeps the kind and label keys it was created with.
type Registry struct {
	mu        sync.RWMutex
	registry  *prometheus.Registry
	namespace string
	buckets   []float64
	metrics   map[string]*metric
	help      map[string]string
}

// NewRegistry creates an empty registry backed by its own prometheus registry.
func NewRegistry(opts RegistryOptions) *Registry {
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = DefaultLatencyBuckets
	}

	r := &Registry{
		registry:  prometheus.NewRegistry(),
		namespace: opts.Namespace,
		buckets:   buckets,
		metrics:   make(map[string]*metric),
		help:      make(map[string]string),
	}

	if opts.RuntimeMetrics {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return r
}

// Describe sets the help text used when name is first created.
func (r *Registry) Describe(name, help string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.help[name] = help
}

// RegisterCollector adds a collector to the exported metrics.
func (r *Registry) RegisterCollector(c prometheus.Collector) error {
	return r.registry.Register(c)
}

// IncrementCounter adds one to a counter.
func (r *Registry) IncrementCounter(name string, labels Labels) error {
	return r.AddCounter(name, labels, 1)
}

// AddCounter adds delta to a counter. Counters never decrease.
func (r *Registry) AddCounter(name string, labels Labels, delta float64) error {
	if delta < 0 || math.IsNaN(delta) || math.IsInf(delta, 0) {
		return fmt.Errorf("%w: counter %s delta %v", ErrInvalidMeasurement, name, delta)
	}

	m, err := r.lookup(name, KindCounter, labels)
	if err != nil {
		return err
	}

	c, err := m.counter.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLabelSchemaMismatch, name, err)
	}
	c.Add(delta)
	return nil
}

// ObserveLatency records a duration in seconds in a histogram.
func (r *Registry) ObserveLatency(name string, labels Labels, seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("%w: histogram %s value %v", ErrInvalidMeasurement, name, seconds)
	}

	m, err := r.lookup(name, KindHistogram, labels)
	if err != nil {
		return err
	}

	h, err := m.histogram.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLabelSchemaMismatch, name, err)
	}
	h.Observe(seconds)
	return nil
}

// SetGauge overwrites the value of a gauge.
func (r *Registry) SetGauge(name string, labels Labels, value float64) error {
	m, err := r.lookup(name, KindGauge, labels)
	if err != nil {
		return err
	}

	g, err := m.gauge.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLabelSchemaMismatch, name, err)
	}
	g.Set(value)
	return nil
}

// lookup returns the metric for name, creating it on first use. The mutex
// only covers the map; sample updates go through prometheus atomics.
func (r *Registry) lookup(name string, kind MetricKind, labels Labels) (*metric, error) {
	keys := labelKeys(labels)

	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		m, ok = r.metrics[name]
		if !ok {
			var err error
			m, err = r.create(name, kind, keys)
			if err != nil {
				r.mu.Unlock()
				return nil, err
			}
			r.metrics[name] = m
		}
		r.mu.Unlock()
	}

	if m.kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrMetricKindMismatch, name, m.kind, kind)
	}
	if !slices.Equal(m.labelKeys, keys) {
		return nil, fmt.Errorf("%w: %s expects labels [%s], got [%s]",
			ErrLabelSchemaMismatch, name, strings.Join(m.labelKeys, ","), strings.Join(keys, ","))
	}
	return m, nil
}

// create must be called with r.mu held.
func (r *Registry) create(name string, kind MetricKind, keys []string) (*metric, error) {
	help := r.help[name]
	if help == "" {
		help = name
	}

	m := &metric{kind: kind, help: help, labelKeys: keys}

	var c prometheus.Collector
	switch kind {
	case KindCounter:
		m.counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      help,
		}, keys)
		c = m.counter
	case KindHistogram:
		m.histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      help,
			Buckets:   r.buckets,
		}, keys)
		c = m.histogram
	case KindGauge:
		m.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      help,
		}, keys)
		c = m.gauge
	}

	if err := r.registry.Register(c); err != nil {
		return nil, fmt.Errorf("register metric %s: %w", name, err)
	}
	return m, nil
}

func labelKeys(labels Labels) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sample is one exported series.
type Sample struct {
	Labels  Labels   `json:"labels"`
	Value   float64  `json:"value"`
	Count   uint64   `json:"count,omitempty"`
	Sum     float64  `json:"sum,omitempty"`
	Buckets []Bucket `json:"buckets,omitempty"`
}

// Bucket is a cumulative histogram bucket.
type Bucket struct {
	UpperBound float64 `json:"upper_bound"`
	Count      uint64  `json:"count"`
}

// Family groups the samples of one metric name.
type Family struct {
	Name    string   `json:"name"`
	Help    string   `json:"help"`
	Type    string   `json:"type"`
	Samples []Sample `json:"samples"`
}

// Snapshot is a point-in-time export of every registered metric.
type Snapshot struct {
	Families []Family `json:"families"`
}

// Family returns the family named name, if present.
func (s Snapshot) Family(name string) (Family, bool) {
	for _, f := range s.Families {
		if f.Name == name {
			return f, true
		}
	}
	return Family{}, false
}

// Snapshot gathers all metrics. Writers are never blocked by the gather.
func (r *Registry) Snapshot() (Snapshot, error) {
	mfs, err := r.registry.Gather()
	if err != nil {
		return Snapshot{}, fmt.Errorf("gather metrics: %w", err)
	}

	snap := Snapshot{Families: make([]Family, 0, len(mfs))}
	for _, mf := range mfs {
		f := Family{
			Name:    mf.GetName(),
			Help:    mf.GetHelp(),
			Type:    strings.ToLower(mf.GetType().String()),
			Samples: make([]Sample, 0, len(mf.GetMetric())),
		}
		for _, m := range mf.GetMetric() {
			f.Samples = append(f.Samples, toSample(m))
		}
		snap.Families = append(snap.Families, f)
	}
	return snap, nil
}

func toSample(m *dto.Metric) Sample {
	s := Sample{Labels: make(Labels, len(m.GetLabel()))}
	for _, lp := range m.GetLabel() {
		s.Labels[lp.GetName()] = lp.GetValue()
	}

	switch {
	case m.GetCounter() != nil:
		s.Value = m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		s.Value = m.GetGauge().GetValue()
	case m.GetHistogram() != nil:
		h := m.GetHistogram()
		s.Count = h.GetSampleCount()
		s.Sum = h.GetSampleSum()
		s.Value = float64(s.Count)
		for _, b := range h.GetBucket() {
			s.Buckets = append(s.Buckets, Bucket{UpperBound: b.GetUpperBound(), Count: b.GetCumulativeCount()})
		}
	case m.GetUntyped() != nil:
		s.Value = m.GetUntyped().GetValue()
	case m.GetSummary() != nil:
		s.Count = m.GetSummary().GetSampleCount()
		s.Sum = m.GetSummary().GetSampleSum()
		s.Value = float64(s.Count)
	}
	return s
}

// WriteText writes the text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	mfs, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves the registry with content negotiation.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// MetricInfo describes a registered metric.
type MetricInfo struct {
	Name   string     `json:"name"`
	Kind   MetricKind `json:"type"`
	Help   string     `json:"help"`
	Labels []string   `json:"labels"`
}

// MetricsInfo lists the metrics created through the registry, sorted by name.
func (r *Registry) MetricsInfo() []MetricInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MetricInfo, 0, len(r.metrics))
	for name, m := range r.metrics {
		out = append(out, MetricInfo{
			Name:   prometheus.BuildFQName(r.namespace, "", name),
			Kind:   m.kind,
			Help:   m.help,
			Labels: slices.Clone(m.labelKeys),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
