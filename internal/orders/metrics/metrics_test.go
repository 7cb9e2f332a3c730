package metrics

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}
	return metrics, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestInitializeMetrics(t *testing.T) {
	t.Run("initializes all metric instruments successfully", func(t *testing.T) {
		metrics, _ := newTestMetrics(t)

		if metrics.operationsTotal == nil {
			t.Error("operationsTotal is nil")
		}
		if metrics.operationDuration == nil {
			t.Error("operationDuration is nil")
		}
		if metrics.compensationsTotal == nil {
			t.Error("compensationsTotal is nil")
		}
		if metrics.reconciliationsTotal == nil {
			t.Error("reconciliationsTotal is nil")
		}
		if metrics.statusTransitionTotal == nil {
			t.Error("statusTransitionTotal is nil")
		}
	})
}

func TestRecordOperation(t *testing.T) {
	t.Run("records count per outcome and a duration per operation", func(t *testing.T) {
		metrics, reader := newTestMetrics(t)
		ctx := context.Background()

		metrics.RecordOperation(ctx, "ConfirmOrder", "success", 0.2)
		metrics.RecordOperation(ctx, "ConfirmOrder", "failed", 0.4)

		got := collect(t, reader)

		counter, ok := got["order_operations_total"]
		if !ok {
			t.Fatal("order_operations_total metric not found")
		}
		sum, ok := counter.Data.(metricdata.Sum[int64])
		if !ok {
			t.Fatal("Expected Sum[int64] data type")
		}
		if len(sum.DataPoints) != 2 {
			t.Errorf("Expected 2 data points, got %d", len(sum.DataPoints))
		}

		duration, ok := got["order_operation_duration_seconds"]
		if !ok {
			t.Fatal("order_operation_duration_seconds metric not found")
		}
		histogram, ok := duration.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Fatal("Expected Histogram[float64] data type")
		}
		if len(histogram.DataPoints) != 1 {
			t.Errorf("Expected 1 data point, got %d", len(histogram.DataPoints))
		}
		if histogram.DataPoints[0].Count != 2 {
			t.Errorf("Expected count 2, got %d", histogram.DataPoints[0].Count)
		}
	})
}

func TestRecordCompensation(t *testing.T) {
	t.Run("records compensations by step and status", func(t *testing.T) {
		metrics, reader := newTestMetrics(t)
		ctx := context.Background()

		metrics.RecordCompensation(ctx, "release_reservation", true)
		metrics.RecordCompensation(ctx, "release_reservation", true)
		metrics.RecordCompensation(ctx, "release_reservation", false)

		m, ok := collect(t, reader)["order_compensations_total"]
		if !ok {
			t.Fatal("order_compensations_total metric not found")
		}
		sum := m.Data.(metricdata.Sum[int64])
		if len(sum.DataPoints) != 2 {
			t.Fatalf("Expected 2 data points, got %d", len(sum.DataPoints))
		}
		var total int64
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
		if total != 3 {
			t.Errorf("Expected total 3, got %d", total)
		}
	})
}

func TestRecordReconciliationAndTransition(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	ctx := context.Background()

	metrics.RecordReconciliationFlagged(ctx, "convert_reservation")
	metrics.RecordTransition(ctx, "payment", "PAID")
	metrics.RecordTransition(ctx, "lifecycle", "PAID")

	got := collect(t, reader)
	if _, ok := got["order_reconciliations_flagged_total"]; !ok {
		t.Error("order_reconciliations_flagged_total metric not found")
	}
	m, ok := got["order_status_transitions_total"]
	if !ok {
		t.Fatal("order_status_transitions_total metric not found")
	}
	if n := len(m.Data.(metricdata.Sum[int64]).DataPoints); n != 2 {
		t.Errorf("Expected 2 data points, got %d", n)
	}
}
