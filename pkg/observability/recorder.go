package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records the service's domain measurements. Implementations must
// tolerate being called with a nil receiver state (disabled observability).
type Metrics interface {
	RecordIngest(ctx context.Context, duration time.Duration, chunks int, err error)
	RecordEmbedding(ctx context.Context, model string, duration time.Duration, tokens int)
	RecordVectorSearch(ctx context.Context, provider string, duration time.Duration)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
}

type PrometheusMetrics struct {
	ingestDuration metric.Float64Histogram
	ingestTotal    metric.Int64Counter
	ingestErrors   metric.Int64Counter
	chunksTotal    metric.Int64Counter

	embedDuration metric.Float64Histogram
	embedTokens   metric.Int64Counter

	searchDuration metric.Float64Histogram

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter
}

func (m *PrometheusMetrics) RecordIngest(ctx context.Context, duration time.Duration, chunks int, err error) {
	if m == nil || m.ingestDuration == nil || m.ingestTotal == nil {
		return
	}

	m.ingestDuration.Record(ctx, duration.Seconds())
	m.ingestTotal.Add(ctx, 1)

	if chunks > 0 && m.chunksTotal != nil {
		m.chunksTotal.Add(ctx, int64(chunks))
	}

	if err != nil && m.ingestErrors != nil {
		m.ingestErrors.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordEmbedding(ctx context.Context, model string, duration time.Duration, tokens int) {
	if m == nil || m.embedDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.embedDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if tokens > 0 && m.embedTokens != nil {
		m.embedTokens.Add(ctx, int64(tokens), metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordVectorSearch(ctx context.Context, provider string, duration time.Duration) {
	if m == nil || m.searchDuration == nil {
		return
	}

	m.searchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil && m.llmErrorsTotal != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the installed recorder, or nil when none has
// been set. Callers must nil-check.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
