package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	metrics, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}
	return metrics, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 201: "2xx", 404: "4xx", 409: "4xx", 503: "5xx", 0: "unknown", 700: "unknown"}
	for code, want := range tests {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestWithMetrics(t *testing.T) {
	metrics, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := WithMetrics(mux, metrics)

	for _, path := range []string{"/orders/a", "/orders/b", "/nowhere"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	data := collectMetrics(t, reader)

	requests, ok := data["http_requests_total"].(metricdata.Sum[int64])
	if !ok {
		t.Fatal("http_requests_total missing or not a sum")
	}
	byRoute := map[string]int64{}
	for _, dp := range requests.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		byRoute[route.AsString()] += dp.Value
	}
	if byRoute["GET /orders/{id}"] != 2 {
		t.Errorf("expected both order lookups under the route pattern, got %v", byRoute)
	}
	if byRoute["unmatched"] != 1 {
		t.Errorf("expected the unknown path under unmatched, got %v", byRoute)
	}

	inFlight, ok := data["http_requests_in_flight"].(metricdata.Sum[int64])
	if !ok {
		t.Fatal("http_requests_in_flight missing or not a sum")
	}
	for _, dp := range inFlight.DataPoints {
		if dp.Value != 0 {
			t.Errorf("expected no requests in flight after completion, got %d", dp.Value)
		}
	}

	duration, ok := data["http_request_duration_seconds"].(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("http_request_duration_seconds missing or not a histogram")
	}
	for _, dp := range duration.DataPoints {
		class, _ := dp.Attributes.Value(attribute.Key("status_class"))
		if class.AsString() != "4xx" {
			t.Errorf("expected 4xx status class, got %s", class.AsString())
		}
	}
}
