package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

type middlewareFixture struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	seenCID string
}

// newMiddlewareFixture wraps a console-like mux in [Middleware].
func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()
	f := &middlewareFixture{spans: installTracer(t)}

	f.reader = sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(f.reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		f.seenCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/session/start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	mux.HandleFunc("GET /api/transcript/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	f.handler = Middleware(m)(mux)
	return f
}

func (f *middlewareFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *middlewareFixture) durations(t *testing.T) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voxconsole.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	return met.Data.(metricdata.Histogram[float64]).DataPoints
}

func TestMiddleware_CorrelationID(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		wantCID     string
	}{
		{name: "generated"},
		{
			name:        "propagated from traceparent",
			traceparent: "00-" + incomingTraceID + "-00f067aa0ba902b7-01",
			wantCID:     incomingTraceID,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newMiddlewareFixture(t)
			req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
			if tc.traceparent != "" {
				req.Header.Set("traceparent", tc.traceparent)
			}
			rec := f.serve(req)

			if len(f.seenCID) != 32 {
				t.Fatalf("handler saw correlation ID %q", f.seenCID)
			}
			if tc.wantCID != "" && f.seenCID != tc.wantCID {
				t.Errorf("correlation ID = %q, want %q", f.seenCID, tc.wantCID)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != f.seenCID {
				t.Errorf("X-Correlation-ID = %q, want %q", got, f.seenCID)
			}
			if rec.Header().Get("traceparent") == "" {
				t.Error("response does not carry traceparent")
			}
		})
	}
}

func TestMiddleware_SpanCarriesStatus(t *testing.T) {
	f := newMiddlewareFixture(t)
	rec := f.serve(httptest.NewRequest(http.MethodPost, "/api/session/start", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	spans := f.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP POST /api/session/start" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusConflict {
		t.Errorf("span status attribute = %d, want 409", status)
	}
}

func TestMiddleware_DurationUsesRoutePattern(t *testing.T) {
	f := newMiddlewareFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.serve(httptest.NewRequest(http.MethodGet, "/api/transcript/"+id, nil))
	}
	f.serve(httptest.NewRequest(http.MethodGet, "/api/session", nil))

	counts := make(map[string]uint64)
	for _, dp := range f.durations(t) {
		method, _ := dp.Attributes.Value("method")
		path, _ := dp.Attributes.Value("path")
		if method.AsString() != http.MethodGet {
			t.Errorf("method attribute = %q", method.AsString())
		}
		counts[path.AsString()] += dp.Count
	}
	want := map[string]uint64{
		"GET /api/transcript/{id}": 3,
		"GET /api/session":         1,
	}
	for path, n := range want {
		if counts[path] != n {
			t.Errorf("samples for %q = %d, want %d", path, counts[path], n)
		}
	}
	if len(counts) != len(want) {
		t.Errorf("paths = %v, want one series per route", counts)
	}
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	t.Parallel()
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rec.Hijack(); err == nil {
		t.Error("expected error when the wrapped writer cannot hijack")
	}
	if rec.Unwrap() == nil {
		t.Error("Unwrap returned nil")
	}
}
