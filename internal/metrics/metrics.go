// Package metrics exposes engine counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nudge"

var streamStates = []string{"disconnected", "connecting", "connected", "backoff"}

type Metrics struct {
	Registry *prometheus.Registry

	SourceFailures   *prometheus.CounterVec
	ParseFailures    *prometheus.CounterVec
	RemindersDueTot  *prometheus.CounterVec
	StreamStateGauge *prometheus.GaugeVec
	Reconnects       *prometheus.CounterVec
	Delivered        *prometheus.CounterVec
	Deduplicated     *prometheus.CounterVec
	DroppedBatches   *prometheus.CounterVec
	PlatformSends    *prometheus.CounterVec
	UnreadGauge      *prometheus.GaugeVec
	IngestDuration   prometheus.Histogram
}

// New registers every metric on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWith(reg)
}

func NewWith(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Poll source fetches that failed and were skipped for a cycle",
		}, []string{"category"}),
		ParseFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Records or frames dropped because they could not be parsed",
		}, []string{"component"}),
		RemindersDueTot: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_due_total",
			Help:      "Unseen due reminders produced by the poller",
		}, []string{"category"}),
		StreamStateGauge: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "1 for the current push channel state of each user",
		}, []string{"user", "state"}),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Push channel reconnect attempts",
		}, []string{"user"}),
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_delivered_total",
			Help:      "Items that survived deduplication and reached the projection",
		}, []string{"category"}),
		Deduplicated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_deduplicated_total",
			Help:      "Items suppressed because their key was already seen",
		}, []string{"category"}),
		DroppedBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_dropped_batches_total",
			Help:      "Batches dropped because the dispatcher queue was full",
		}, []string{"user"}),
		PlatformSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "platform_notifications_total",
			Help:      "Platform notification attempts by result",
		}, []string{"result"}),
		UnreadGauge: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unread_notifications",
			Help:      "Unread items in each user's projection",
		}, []string{"user"}),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_ingest_duration_seconds",
			Help:      "Time to process one batch in the dispatcher loop",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
	}
}

func (m *Metrics) SourceFailure(category string) {
	if m == nil {
		return
	}
	m.SourceFailures.WithLabelValues(category).Inc()
}

func (m *Metrics) ParseFailure(component string) {
	if m == nil {
		return
	}
	m.ParseFailures.WithLabelValues(component).Inc()
}

func (m *Metrics) RemindersDue(category string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RemindersDueTot.WithLabelValues(category).Add(float64(n))
}

// StreamState marks state as the only active state of userID.
func (m *Metrics) StreamState(userID, state string) {
	if m == nil {
		return
	}
	for _, s := range streamStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.StreamStateGauge.WithLabelValues(userID, s).Set(v)
	}
}

func (m *Metrics) Reconnect(userID string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(userID).Inc()
}

func (m *Metrics) DeliveredItem(category string) {
	if m == nil {
		return
	}
	m.Delivered.WithLabelValues(category).Inc()
}

func (m *Metrics) DeduplicatedItem(category string) {
	if m == nil {
		return
	}
	m.Deduplicated.WithLabelValues(category).Inc()
}

func (m *Metrics) DroppedBatch(userID string) {
	if m == nil {
		return
	}
	m.DroppedBatches.WithLabelValues(userID).Inc()
}

// PlatformResult counts one platform notification outcome: "sent",
// "denied" or "failed".
func (m *Metrics) PlatformResult(result string) {
	if m == nil {
		return
	}
	m.PlatformSends.WithLabelValues(result).Inc()
}

func (m *Metrics) Unread(userID string, n int) {
	if m == nil {
		return
	}
	m.UnreadGauge.WithLabelValues(userID).Set(float64(n))
}

// ObserveIngest records the duration of a batch started at start.
func (m *Metrics) ObserveIngest(start time.Time) {
	if m == nil {
		return
	}
	m.IngestDuration.Observe(time.Since(start).Seconds())
}
