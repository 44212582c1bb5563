package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/progress-tracker/internal/progress"
)

// PrometheusSink exports tracker lifecycle metrics via Prometheus. It owns the
// notification counters, the active tracker gauge, and the runtime histogram.
type PrometheusSink struct {
	notifications  *prometheus.CounterVec
	trackersActive prometheus.Gauge
	runtime        *prometheus.HistogramVec

	active *activeSet
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_notifications_total",
			Help: "Tracker notifications partitioned by kind and status.",
		}, []string{"kind", "status"}),
		trackersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "progress_trackers_active",
			Help: "Trackers seen created and not yet terminal or deleted.",
		}),
		runtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "progress_tracker_runtime_seconds",
			Help:    "Wall time from creation to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"status"}),
		active: newActiveSet(),
	}
	for _, collector := range []prometheus.Collector{
		s.notifications,
		s.trackersActive,
		s.runtime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Notification) error {
	for _, n := range batch {
		s.consume(n)
	}
	return nil
}

func (s *PrometheusSink) consume(n progress.Notification) {
	status := n.Status
	if status == "" {
		status = "unknown"
	}
	s.notifications.WithLabelValues(string(n.Kind), status).Inc()

	switch {
	case n.Kind == progress.KindBatch:
		return
	case n.Kind == progress.KindCreated && !n.Terminal:
		if s.active.add(n.TrackerID) {
			s.trackersActive.Inc()
		}
	case n.Kind == progress.KindDeleted || n.Terminal:
		if s.active.remove(n.TrackerID) {
			s.trackersActive.Dec()
		}
		if n.Terminal && n.Kind != progress.KindDeleted && n.Dur > 0 {
			s.runtime.WithLabelValues(status).Observe(n.Dur.Seconds())
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// StatsSource reports hub delivery counters; *progress.Hub implements it.
type StatsSource interface {
	Stats() progress.Stats
}

// RegisterHubCollectors exports the hub's own counters, which no sink can
// observe because they describe notifications that never reached a sink.
func RegisterHubCollectors(reg prometheus.Registerer, src StatsSource) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counters := []struct {
		name, help string
		read       func(progress.Stats) int64
	}{
		{"progress_hub_emitted_total", "Notifications accepted by the hub.",
			func(s progress.Stats) int64 { return s.Emitted }},
		{"progress_hub_dropped_total", "Notifications dropped because the hub buffer was full.",
			func(s progress.Stats) int64 { return s.Dropped }},
		{"progress_hub_batches_total", "Batches flushed to sinks.",
			func(s progress.Stats) int64 { return s.Batches }},
		{"progress_hub_sink_failures_total", "Sink deliveries that returned an error or panicked.",
			func(s progress.Stats) int64 { return s.SinkFailures }},
	}
	for _, c := range counters {
		read := c.read
		collector := prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(read(src.Stats())) },
		)
		if err := reg.Register(collector); err != nil {
			return fmt.Errorf("register %s: %w", c.name, err)
		}
	}
	return nil
}

type activeSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newActiveSet() *activeSet {
	return &activeSet{ids: make(map[string]struct{})}
}

func (a *activeSet) add(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.ids[id]; ok {
		return false
	}
	a.ids[id] = struct{}{}
	return true
}

func (a *activeSet) remove(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.ids[id]; !ok {
		return false
	}
	delete(a.ids, id)
	return true
}
