package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MENT2022/studio/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(reg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	obs.IncCounter("studio_samples_accepted_total", 5)
	if got := testutil.ToFloat64(obs.counters["studio_samples_accepted_total"]); got != 5 {
		t.Fatalf("expected accepted counter 5, got %f", got)
	}

	obs.IncCounter("studio_readings_dropped_total", 2)
	if got := testutil.ToFloat64(obs.counters["studio_readings_dropped_total"]); got != 2 {
		t.Fatalf("expected dropped counter 2, got %f", got)
	}

	obs.SetGauge("studio_window_length", 42)
	if got := testutil.ToFloat64(obs.gauges["studio_window_length"]); got != 42 {
		t.Fatalf("expected window gauge 42, got %f", got)
	}

	obs.ObserveLatency("studio_persist_latency_seconds", 0.5)
	hCollector := obs.histos["studio_persist_latency_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}

	obs.IncCounter("not_a_metric", 1)
	obs.SetGauge("not_a_metric", 1)

	if n, err := testutil.GatherAndCount(reg); err != nil || n != 11 {
		t.Fatalf("expected 11 registered series, got %d (%v)", n, err)
	}
}

func TestPromObsLogsFields(t *testing.T) {
	var buf bytes.Buffer
	obs := NewPromObs(prometheus.NewRegistry(), slog.New(slog.NewTextHandler(&buf, nil)))

	obs.LogError("persist_append_failed", errors.New("db down"), ports.Field{Key: "seq", Value: 7})
	obs.LogCritical("broken", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{"msg=persist_append_failed", `error="db down"`, "seq=7", "critical=true"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in log output:\n%s", want, out)
		}
	}
}
