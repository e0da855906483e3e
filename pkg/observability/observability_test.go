package observability

import (
	"context"
	"testing"
	"time"
)

func TestDisabledConfigIsInert(t *testing.T) {
	ctx := context.Background()

	m := NewManager(Config{})
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	metrics := m.GetMetrics()
	if metrics == nil {
		t.Fatal("expected a metrics recorder even when disabled")
	}

	// Record methods must be safe no-ops with no instruments behind them.
	metrics.RecordIngest(ctx, time.Second, 3, nil)
	metrics.RecordEmbedding(ctx, "test-model", time.Millisecond, 42)
	metrics.RecordVectorSearch(ctx, "local", time.Millisecond)
	metrics.RecordLLMCall(ctx, "test-model", time.Second, 10, 20, nil)

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNoopManager(t *testing.T) {
	m := NoopManager()
	if m.GetTracer("test") == nil {
		t.Fatal("expected a tracer")
	}
	m.GetMetrics().RecordIngest(context.Background(), time.Second, 0, nil)
}

func TestGlobalMetrics(t *testing.T) {
	defer SetGlobalMetrics(nil)

	rec := &PrometheusMetrics{}
	SetGlobalMetrics(rec)
	if GetGlobalMetrics() != rec {
		t.Fatal("expected installed recorder back")
	}
}
