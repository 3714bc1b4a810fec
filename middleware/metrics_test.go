package middleware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/xraph/granter/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
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

func TestMetrics_RecordsDurationAndExecutions(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))
	j := newTestJob()

	_ = m(context.Background(), j, func(context.Context) error { return nil })
	_ = m(context.Background(), j, func(context.Context) error { return errors.New("fail") })

	rm := collectMetrics(t, reader)

	dur := findMetric(rm, "granter.job.duration")
	if dur == nil {
		t.Fatal("granter.job.duration not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64]")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("duration count = %d, want 2", count)
	}

	exec := findMetric(rm, "granter.job.executions")
	if exec == nil {
		t.Fatal("granter.job.executions not found")
	}
	sum, ok := exec.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64]")
	}
	byStatus := map[string]int64{}
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byStatus[status.AsString()] += dp.Value
	}
	if byStatus["ok"] != 1 || byStatus["error"] != 1 {
		t.Errorf("executions by status = %v, want ok=1 error=1", byStatus)
	}
}

func TestMetrics_RecordsLateness(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))
	j := newTestJob()
	j.RunAt = time.Now().Add(-2 * time.Second)

	_ = m(context.Background(), j, func(context.Context) error { return nil })

	late := findMetric(collectMetrics(t, reader), "granter.job.lateness")
	if late == nil {
		t.Fatal("granter.job.lateness not found")
	}
	hist := late.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum < 2 {
		t.Fatalf("lateness data points = %+v, want one >= 2s", hist.DataPoints)
	}
}

func TestMetrics_DefaultNoopSafe(t *testing.T) {
	m := mw.Metrics()
	if err := m(context.Background(), newTestJob(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
