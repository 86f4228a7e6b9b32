package logging

import (
	"errors"
	"sort"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
)

// Sink names used as the sink label of log_sink_errors_total.
const (
	SinkConsole = "console"
	SinkFile    = "file"
	SinkOTLP    = "otlp"
)

// countingSyncer hands entries to a destination and never reports failure
// to zap. Write and sync errors are counted instead.
type countingSyncer struct {
	name     string
	out      zapcore.WriteSyncer
	failures atomic.Uint64
}

func newCountingSyncer(name string, out zapcore.WriteSyncer) *countingSyncer {
	return &countingSyncer{name: name, out: out}
}

func (s *countingSyncer) Write(p []byte) (int, error) {
	if _, err := s.out.Write(p); err != nil {
		s.failures.Add(1)
	}
	return len(p), nil
}

func (s *countingSyncer) Sync() error {
	if err := s.out.Sync(); err != nil && !isUnsupportedSync(err) {
		s.failures.Add(1)
	}
	return nil
}

func (s *countingSyncer) Failures() uint64 {
	return s.failures.Load()
}

// Terminals and pipes reject fsync.
func isUnsupportedSync(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EBADF)
}

// sinkCollector exports per-sink failure totals as log_sink_errors_total.
type sinkCollector struct {
	desc  *prometheus.Desc
	sinks []*countingSyncer
}

func newSinkCollector(sinks []*countingSyncer) *sinkCollector {
	return &sinkCollector{
		desc: prometheus.NewDesc(
			"log_sink_errors_total",
			"Total log events a sink failed to accept",
			[]string{"sink"}, nil,
		),
		sinks: sinks,
	}
}

func (c *sinkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *sinkCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.sinks {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(s.Failures()), s.name)
	}
}

func sinkNames(sinks []*countingSyncer) []string {
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.name)
	}
	sort.Strings(names)
	return names
}
