package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the data point on name carrying key=value, or
// the first data point when key is empty.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voxconsole.handshake.duration", m.HandshakeDuration},
		{"voxconsole.probe.latency", m.ProbeLatency},
		{"voxconsole.http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.042)
		tc.h.Record(ctx, 0.3)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
				t.Errorf("data points = %+v, want one with count 2", hist.DataPoints)
			}
		})
	}
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "connected")
	m.RecordTransition(ctx, "connected")
	m.RecordTransition(ctx, "reconnecting")
	m.RecordError(ctx, "HeartbeatTimeout")
	m.RecordVADSegment(ctx, "speech_start", "hybrid")
	m.RecordTranscriptEntry(ctx, "User")
	m.ReconnectAttempts.Add(ctx, 3)
	m.Interruptions.Add(ctx, 1)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxconsole.session.transitions", "status", "connected"); got != 2 {
		t.Errorf("transitions{connected} = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voxconsole.session.transitions", "status", "reconnecting"); got != 1 {
		t.Errorf("transitions{reconnecting} = %d, want 1", got)
	}
	if got := sumFor(t, rm, "voxconsole.session.errors", "kind", "HeartbeatTimeout"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
	if got := sumFor(t, rm, "voxconsole.vad.segments", "mode", "hybrid"); got != 1 {
		t.Errorf("vad segments = %d, want 1", got)
	}
	if got := sumFor(t, rm, "voxconsole.transcript.entries", "speaker", "User"); got != 1 {
		t.Errorf("transcript entries = %d, want 1", got)
	}
	if got := sumFor(t, rm, "voxconsole.reconnect.attempts", "", ""); got != 3 {
		t.Errorf("reconnect attempts = %d, want 3", got)
	}
	if got := sumFor(t, rm, "voxconsole.session.interruptions", "", ""); got != 1 {
		t.Errorf("interruptions = %d, want 1", got)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	if got := sumFor(t, collect(t, reader), "voxconsole.active_sessions", "", ""); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}

func TestAttr(t *testing.T) {
	kv := Attr("status", "ok")
	if string(kv.Key) != "status" || kv.Value.AsString() != "ok" {
		t.Errorf("Attr = %v", kv)
	}
}
