package observe_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/zordhalo/lisper-flow/internal/observe"
)

func TestNewMetrics_CreatesAllInstruments(t *testing.T) {
	t.Parallel()
	mp := sdkmetric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.ASRDuration == nil || m.Chunks == nil || m.Commands == nil || m.ActiveSessions == nil {
		t.Error("instruments left nil after NewMetrics")
	}
}

func TestMetrics_RecordingIsVisibleToReader(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordTranscript(ctx, "partial")
	m.RecordTranscript(ctx, "final")
	m.RecordCommand(ctx, "type_word", "executed")
	m.RecordProviderError(ctx, "deepgram")
	m.ActiveSessions.Add(ctx, 1)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			names[met.Name] = true
		}
	}
	for _, want := range []string{
		"lisperflow.asr.transcripts",
		"lisperflow.typing.commands",
		"lisperflow.provider.errors",
		"lisperflow.active_sessions",
	} {
		if !names[want] {
			t.Errorf("metric %q not collected", want)
		}
	}
}
