package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric %v", pb.String())
	return 0
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.SourceFailure("calendar")
	m.ParseFailure("stream")
	m.RemindersDue("meeting", 2)
	m.StreamState("u1", "connected")
	m.Reconnect("u1")
	m.DeliveredItem("document")
	m.DeduplicatedItem("document")
	m.DroppedBatch("u1")
	m.PlatformResult("sent")
	m.Unread("u1", 3)
	m.ObserveIngest(time.Now())
}

func TestCounters(t *testing.T) {
	t.Parallel()
	m := NewWith(prometheus.NewRegistry())

	m.SourceFailure("calendar")
	m.SourceFailure("calendar")
	m.RemindersDue("meeting", 3)
	m.RemindersDue("meeting", 0)
	m.Unread("u1", 4)

	require.Equal(t, 2.0, value(t, m.SourceFailures.WithLabelValues("calendar")))
	require.Equal(t, 3.0, value(t, m.RemindersDueTot.WithLabelValues("meeting")))
	require.Equal(t, 4.0, value(t, m.UnreadGauge.WithLabelValues("u1")))
}

func TestStreamStateIsExclusive(t *testing.T) {
	t.Parallel()
	m := NewWith(prometheus.NewRegistry())
	m.StreamState("u1", "connecting")
	m.StreamState("u1", "connected")

	require.Equal(t, 1.0, value(t, m.StreamStateGauge.WithLabelValues("u1", "connected")))
	require.Equal(t, 0.0, value(t, m.StreamStateGauge.WithLabelValues("u1", "connecting")))
}

func TestNewRegistersRuntimeCollectors(t *testing.T) {
	t.Parallel()
	m := New()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["go_goroutines"])
}
