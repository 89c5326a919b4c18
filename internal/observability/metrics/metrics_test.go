package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordAfterInit(t *testing.T) {
	Init(func(context.Context) (int64, error) { return 4, nil }, nil)

	ObserveTick(ResultSuccess, 20*time.Millisecond)
	ObserveTick("", 10*time.Millisecond)
	if got := testutil.ToFloat64(tickTotal.WithLabelValues(ResultSuccess)); got != 2 {
		t.Fatalf("expected 2 ticks, got %v", got)
	}

	IncAnomalyEvent("voltage_spike")
	IncAnomalyEvent("")
	if got := testutil.ToFloat64(anomalyEventsTotal.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("expected unknown label, got %v", got)
	}

	AddSuppressed(0)
	AddSuppressed(3)
	if got := testutil.ToFloat64(suppressedTotal); got != 3 {
		t.Fatalf("expected 3 suppressed, got %v", got)
	}

	SetPhaseVoltage(2, 231.5)
	if got := testutil.ToFloat64(phaseVoltage.WithLabelValues("2")); got != 231.5 {
		t.Fatalf("expected phase voltage 231.5, got %v", got)
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == metricPrefix+"unnotified_events" {
			found = true
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 4 {
				t.Fatalf("expected unnotified gauge 4, got %v", v)
			}
		}
	}
	if !found {
		t.Fatal("expected unnotified gauge to be registered")
	}
}
